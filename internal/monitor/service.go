package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/order"
	"swap-router/internal/router"
	"swap-router/internal/store"
)

// Service 负责持久化监控事件。写入是尽力而为的：
// 记账失败只告警，绝不反过来让订单管线失败。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS router_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	order_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_router_events_type ON router_events(event_type);
CREATE INDEX IF NOT EXISTS idx_router_events_order ON router_events(order_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, orderID string, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO router_events (event_type, order_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), orderID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordSubmission 记录订单受理。
func (s *Service) RecordSubmission(ctx context.Context, snap order.Snapshot) {
	if err := s.Record(ctx, snap.OrderID, Event{
		Type:      EventOrderSubmitted,
		Timestamp: time.Now().UTC(),
		Payload:   SubmissionPayload{Order: snap},
	}); err != nil {
		s.logger.Warn("记录受理事件失败", zap.Error(err))
	}
}

// RecordStatusChange 记录状态流转。
func (s *Service) RecordStatusChange(ctx context.Context, snap order.Snapshot) {
	if err := s.Record(ctx, snap.OrderID, Event{
		Type:      EventStatusChange,
		Timestamp: time.Now().UTC(),
		Payload:   StatusChangePayload{Order: snap},
	}); err != nil {
		s.logger.Warn("记录状态事件失败", zap.Error(err))
	}
}

// RecordRouting 记录路由决策。
func (s *Service) RecordRouting(ctx context.Context, orderID string, sel router.Selection) {
	if err := s.Record(ctx, orderID, Event{
		Type:      EventRoutingDecision,
		Timestamp: time.Now().UTC(),
		Payload: RoutingPayload{
			OrderID:         orderID,
			Quotes:          sel.Quotes,
			ChosenVenue:     sel.Chosen.Venue,
			PriceDifference: sel.PriceDifference,
		},
	}); err != nil {
		s.logger.Warn("记录路由事件失败", zap.Error(err))
	}
}

// RecordExecution 记录执行结果。
func (s *Service) RecordExecution(ctx context.Context, snap order.Snapshot) {
	if err := s.Record(ctx, snap.OrderID, Event{
		Type:      EventExecution,
		Timestamp: time.Now().UTC(),
		Payload:   ExecutionPayload{Order: snap},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordError 记录管线异常。
func (s *Service) RecordError(ctx context.Context, orderID, stage string, retry int, cause error) {
	payload := ErrorPayload{
		OrderID: orderID,
		Stage:   stage,
		Retry:   retry,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := s.Record(ctx, orderID, Event{
		Type:      EventPipelineError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(err))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM router_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
