package order

import "time"

// Status 表示订单在执行管线中的阶段。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRouting   Status = "ROUTING"
	StatusBuilding  Status = "BUILDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
}

// Rank 返回状态在正向流程中的序号，FAILED 返回 -1。
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Side 表示订单方向，影响最优场所的比较方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order 是订单的规范记录，唯一写入方为状态机。
type Order struct {
	ID                  string
	TokenIn             string
	TokenOut            string
	AmountIn            float64
	SlippageTolerance   float64
	Side                Side
	Status              Status
	Quotes              map[string]float64
	PriceDifference     float64
	ChosenVenue         string
	ExecutedPrice       float64
	SettlementReference string
	ErrorMessage        string
	RetryCount          int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Snapshot 是对外发布的只读快照。
type Snapshot struct {
	OrderID             string             `json:"orderId"`
	TokenIn             string             `json:"tokenIn"`
	TokenOut            string             `json:"tokenOut"`
	AmountIn            float64            `json:"amountIn"`
	SlippageTolerance   float64            `json:"slippageTolerance"`
	Side                Side               `json:"side"`
	Status              Status             `json:"status"`
	Quotes              map[string]float64 `json:"quotes,omitempty"`
	PriceDifference     float64            `json:"priceDifference,omitempty"`
	ChosenVenue         string             `json:"chosenVenue,omitempty"`
	ExecutedPrice       float64            `json:"executedPrice,omitempty"`
	SettlementReference string             `json:"settlementReference,omitempty"`
	ErrorMessage        string             `json:"errorMessage,omitempty"`
	RetryCount          int                `json:"retryCount"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// Snapshot 复制当前记录，报价表深拷贝，避免观察者看到后续变更。
func (o *Order) Snapshot() Snapshot {
	var quotes map[string]float64
	if len(o.Quotes) > 0 {
		quotes = make(map[string]float64, len(o.Quotes))
		for venue, price := range o.Quotes {
			quotes[venue] = price
		}
	}
	return Snapshot{
		OrderID:             o.ID,
		TokenIn:             o.TokenIn,
		TokenOut:            o.TokenOut,
		AmountIn:            o.AmountIn,
		SlippageTolerance:   o.SlippageTolerance,
		Side:                o.Side,
		Status:              o.Status,
		Quotes:              quotes,
		PriceDifference:     o.PriceDifference,
		ChosenVenue:         o.ChosenVenue,
		ExecutedPrice:       o.ExecutedPrice,
		SettlementReference: o.SettlementReference,
		ErrorMessage:        o.ErrorMessage,
		RetryCount:          o.RetryCount,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}
