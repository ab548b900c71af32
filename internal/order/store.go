package order

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound 表示查询的订单不存在。
var ErrNotFound = errors.New("order not found")

// Store 是进程内的订单存储，按订单号寻址。
// 记录的生命周期与进程一致，不做淘汰；持久化是明确的非目标。
// 写入只能通过 Update 进行，读取一律返回快照。
type Store struct {
	mu     sync.RWMutex
	orders map[string]*Order
	seq    []string // 创建顺序，用于最近优先的列表
}

// NewStore 创建空的订单存储。
func NewStore() *Store {
	return &Store{
		orders: make(map[string]*Order),
	}
}

// Create 写入新订单，订单号重复时报错。
func (s *Store) Create(o *Order) error {
	if o == nil || o.ID == "" {
		return errors.New("store: 订单号不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("store: 订单号 %s 已存在", o.ID)
	}
	s.orders[o.ID] = o
	s.seq = append(s.seq, o.ID)
	return nil
}

// Get 按订单号返回快照，未找到返回 ErrNotFound。
func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o.Snapshot(), nil
}

// List 返回全部订单快照，最近创建的排在最前。
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.seq))
	for i := len(s.seq) - 1; i >= 0; i-- {
		out = append(out, s.orders[s.seq[i]].Snapshot())
	}
	return out
}

// Len 返回当前存储的订单数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Update 在锁内应用变更并刷新 UpdatedAt，返回提交后的快照。
// 快照在提交点生成，发布方据此保证观察者不会看到未提交的记录。
func (s *Store) Update(id string, mutate func(*Order)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	mutate(o)
	o.UpdatedAt = time.Now().UTC()
	return o.Snapshot(), nil
}
