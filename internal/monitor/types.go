package monitor

import (
	"time"

	"swap-router/internal/order"
	"swap-router/internal/venue"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOrderSubmitted  EventType = "order_submitted"
	EventStatusChange    EventType = "status_change"
	EventRoutingDecision EventType = "routing_decision"
	EventExecution       EventType = "execution"
	EventPipelineError   EventType = "pipeline_error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SubmissionPayload 记录新订单受理。
type SubmissionPayload struct {
	Order order.Snapshot `json:"order"`
}

// StatusChangePayload 记录一次状态流转。
type StatusChangePayload struct {
	Order order.Snapshot `json:"order"`
}

// RoutingPayload 记录路由决策的完整报价与胜出场所。
type RoutingPayload struct {
	OrderID         string                 `json:"orderId"`
	Quotes          map[string]venue.Quote `json:"quotes"`
	ChosenVenue     string                 `json:"chosenVenue"`
	PriceDifference float64                `json:"priceDifference"`
}

// ExecutionPayload 记录执行结果。
type ExecutionPayload struct {
	Order order.Snapshot `json:"order"`
}

// ErrorPayload 记录管线异常。
type ErrorPayload struct {
	OrderID string `json:"orderId"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
	Retry   int    `json:"retryCount"`
}
