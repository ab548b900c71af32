package pubsub

import (
	"sync"

	"go.uber.org/zap"

	"swap-router/internal/order"
)

const defaultBuffer = 32

// Subscription 是某个订单状态流的接收端。
// 通道在退订时关闭，接收方以通道关闭作为结束信号。
type Subscription struct {
	orderID string
	ch      chan order.Snapshot
}

// C 返回快照接收通道。
func (s *Subscription) C() <-chan order.Snapshot {
	return s.ch
}

// OrderID 返回订阅的订单号。
func (s *Subscription) OrderID() string {
	return s.orderID
}

// Publisher 按订单号把状态快照扇出给订阅者。
// 发布对发布方永不阻塞：订阅者消费不过来时丢弃并告警，
// 不允许一个慢观察者拖住状态机。
type Publisher struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
	buffer int
}

// NewPublisher 创建状态发布器。
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
		buffer: defaultBuffer,
	}
}

// Subscribe 注册对某个订单的订阅。
func (p *Publisher) Subscribe(orderID string) *Subscription {
	sub := &Subscription{
		orderID: orderID,
		ch:      make(chan order.Snapshot, p.buffer),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.subs[orderID]
	if !ok {
		set = make(map[*Subscription]struct{})
		p.subs[orderID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe 取消订阅并关闭其通道。重复退订是安全的。
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.subs[sub.orderID]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(p.subs, sub.orderID)
	}
	// 在写锁内关闭，Publish 的发送都在读锁内，不会撞上已关闭的通道。
	close(sub.ch)
}

// Publish 把快照投递给该订单的全部订阅者。
// 每个订阅者的通道是 FIFO，同一订单的快照到达顺序即发布顺序。
func (p *Publisher) Publish(snap order.Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for sub := range p.subs[snap.OrderID] {
		select {
		case sub.ch <- snap:
		default:
			p.logger.Warn("订阅者消费过慢，丢弃状态快照",
				zap.String("orderId", snap.OrderID),
				zap.String("status", string(snap.Status)),
			)
		}
	}
}

// SubscriberCount 返回某订单当前的订阅者数量。
func (p *Publisher) SubscriberCount(orderID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[orderID])
}
