package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"swap-router/internal/config"
	"swap-router/internal/order"
	"swap-router/internal/pubsub"
	"swap-router/internal/router"
	"swap-router/internal/venue"
)

// ErrValidation 表示提交参数不合法，订单不会被创建。
var ErrValidation = errors.New("validation failed")

// ErrNotStarted 表示 Runner 尚未启动，不能受理订单。
var ErrNotStarted = errors.New("pipeline not started")

const defaultSlippage = 0.01

// Journal 是管线的记账出口，*monitor.Service 实现了它。
type Journal interface {
	RecordSubmission(ctx context.Context, snap order.Snapshot)
	RecordStatusChange(ctx context.Context, snap order.Snapshot)
	RecordRouting(ctx context.Context, orderID string, sel router.Selection)
	RecordExecution(ctx context.Context, snap order.Snapshot)
	RecordError(ctx context.Context, orderID, stage string, retry int, cause error)
}

type noopJournal struct{}

func (noopJournal) RecordSubmission(context.Context, order.Snapshot)        {}
func (noopJournal) RecordStatusChange(context.Context, order.Snapshot)      {}
func (noopJournal) RecordRouting(context.Context, string, router.Selection) {}
func (noopJournal) RecordExecution(context.Context, order.Snapshot)         {}
func (noopJournal) RecordError(context.Context, string, string, int, error) {}

// SubmitRequest 是提交入参，校验通过后才会创建订单。
type SubmitRequest struct {
	TokenIn           string
	TokenOut          string
	AmountIn          float64
	SlippageTolerance float64
	Side              order.Side
}

// Runner 驱动订单状态机：
// PENDING → ROUTING → BUILDING → SUBMITTED → CONFIRMED，
// 失败走重试策略，重试从 PENDING 整条重跑。
// 每个订单的尝试由独立 goroutine 执行，彼此不共享可变状态；
// 每次在途尝试都登记在 WaitGroup 里，Drain 可等待全部结束。
type Runner struct {
	store   *order.Store
	agg     *router.Aggregator
	venues  map[string]venue.Client
	pub     *pubsub.Publisher
	journal Journal
	logger  *zap.Logger
	cfg     config.PipelineConfig

	mu      sync.Mutex
	baseCtx context.Context
	locks   map[string]*sync.Mutex

	wg       sync.WaitGroup
	inflight atomic.Int64
}

// NewRunner 创建状态机。journal 可以为 nil。
func NewRunner(
	store *order.Store,
	agg *router.Aggregator,
	clients []venue.Client,
	pub *pubsub.Publisher,
	journal Journal,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) *Runner {
	if journal == nil {
		journal = noopJournal{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	venues := make(map[string]venue.Client, len(clients))
	for _, c := range clients {
		venues[c.Name()] = c
	}
	return &Runner{
		store:   store,
		agg:     agg,
		venues:  venues,
		pub:     pub,
		journal: journal,
		logger:  logger,
		cfg:     cfg,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Start 绑定生命周期上下文，之后才能受理订单。
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseCtx = ctx
}

// Live 报告调度器是否存活，供健康检查使用。
func (r *Runner) Live() bool {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()
	return ctx != nil && ctx.Err() == nil
}

// InFlight 返回当前在途的尝试数（含等待重试的延迟任务）。
func (r *Runner) InFlight() int64 {
	return r.inflight.Load()
}

// Submit 校验并受理订单，异步启动第一次尝试。
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (order.Snapshot, error) {
	if !r.Live() {
		return order.Snapshot{}, ErrNotStarted
	}

	if err := validate(req); err != nil {
		return order.Snapshot{}, err
	}

	slippage := req.SlippageTolerance
	if slippage == 0 {
		slippage = defaultSlippage
	}
	side := req.Side
	if side == "" {
		side = order.SideBuy
	}

	now := time.Now().UTC()
	ord := &order.Order{
		ID:                uuid.NewString(),
		TokenIn:           strings.TrimSpace(req.TokenIn),
		TokenOut:          strings.TrimSpace(req.TokenOut),
		AmountIn:          req.AmountIn,
		SlippageTolerance: slippage,
		Side:              side,
		Status:            order.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.store.Create(ord); err != nil {
		return order.Snapshot{}, fmt.Errorf("受理订单失败: %w", err)
	}

	snap := ord.Snapshot()
	r.journal.RecordSubmission(ctx, snap)
	r.pub.Publish(snap)

	r.logger.Info("订单已受理",
		zap.String("orderId", snap.OrderID),
		zap.String("pair", snap.TokenIn+"/"+snap.TokenOut),
		zap.Float64("amountIn", snap.AmountIn),
	)

	r.kickoff(snap.OrderID, 0)
	return snap, nil
}

// Drain 等待所有在途尝试结束，或在 ctx 到期时放弃。
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待管线排空超时: %w", ctx.Err())
	}
}

func validate(req SubmitRequest) error {
	var err error
	if strings.TrimSpace(req.TokenIn) == "" {
		err = multierr.Append(err, errors.New("tokenIn 不能为空"))
	}
	if strings.TrimSpace(req.TokenOut) == "" {
		err = multierr.Append(err, errors.New("tokenOut 不能为空"))
	}
	if req.AmountIn <= 0 {
		err = multierr.Append(err, errors.New("amountIn 必须为正数"))
	}
	if req.SlippageTolerance < 0 || req.SlippageTolerance >= 1 {
		err = multierr.Append(err, errors.New("slippageTolerance 必须位于[0,1)"))
	}
	if req.Side != "" && req.Side != order.SideBuy && req.Side != order.SideSell {
		err = multierr.Append(err, errors.New("side 只能为 buy 或 sell"))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// kickoff 调度一次尝试。重试也走这里：延迟独立计时，
// 不递归、不占用当前 goroutine。
func (r *Runner) kickoff(id string, delay time.Duration) {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()

	r.wg.Add(1)
	r.inflight.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inflight.Add(-1)

		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
		r.process(ctx, id)
	}()
}

// process 执行一整条管线。同一订单在任意时刻只有一次尝试在跑，
// 由订单级互斥锁保证。
func (r *Runner) process(ctx context.Context, id string) {
	unlock := r.lockOrder(id)
	defer unlock()

	snap, err := r.store.Get(id)
	if err != nil {
		r.logger.Error("管线找不到订单", zap.String("orderId", id), zap.Error(err))
		return
	}
	if snap.Status.Terminal() {
		return
	}

	// 阶段一：路由。
	snap = r.transition(ctx, id, func(o *order.Order) {
		o.Status = order.StatusRouting
	})

	sel, err := r.agg.SelectBestVenue(ctx, snap)
	if err != nil {
		r.fail(ctx, id, "routing", err)
		return
	}

	snap = r.transition(ctx, id, func(o *order.Order) {
		o.Quotes = make(map[string]float64, len(sel.Quotes))
		for name, q := range sel.Quotes {
			o.Quotes[name] = q.Price
		}
		o.PriceDifference = sel.PriceDifference
		o.ChosenVenue = sel.Chosen.Venue
		o.Status = order.StatusBuilding
	})
	r.journal.RecordRouting(ctx, id, sel)

	// 阶段二：构造交易。模拟场所没有外部调用，只有一段有界延迟；
	// 真实场所会在这里构造未签名交易。
	if err := r.buildDelay(ctx); err != nil {
		return
	}

	snap = r.transition(ctx, id, func(o *order.Order) {
		o.Status = order.StatusSubmitted
	})

	// 阶段三：执行。
	client, ok := r.venues[snap.ChosenVenue]
	if !ok {
		r.fail(ctx, id, "execution", fmt.Errorf("%w: 未注册的场所 %s", venue.ErrRejected, snap.ChosenVenue))
		return
	}

	ectx := ctx
	if r.cfg.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, r.cfg.ExecuteTimeout)
		defer cancel()
	}

	exec, err := client.Execute(ectx, snap)
	if err != nil {
		r.fail(ctx, id, "execution", err)
		return
	}

	snap = r.transition(ctx, id, func(o *order.Order) {
		o.ExecutedPrice = exec.ExecutedPrice
		o.SettlementReference = exec.SettlementReference
		o.Status = order.StatusConfirmed
	})
	r.journal.RecordExecution(ctx, snap)

	r.logger.Info("订单执行成功",
		zap.String("orderId", id),
		zap.String("venue", snap.ChosenVenue),
		zap.String("settlementRef", snap.SettlementReference),
	)
}

// transition 在存储里提交一次变更，并在提交后同步发布快照。
// 发布对下游投递是异步的，但相对本次变更是同步的。
func (r *Runner) transition(ctx context.Context, id string, mutate func(*order.Order)) order.Snapshot {
	snap, err := r.store.Update(id, mutate)
	if err != nil {
		r.logger.Error("更新订单失败", zap.String("orderId", id), zap.Error(err))
		return order.Snapshot{}
	}
	r.pub.Publish(snap)
	r.journal.RecordStatusChange(ctx, snap)
	return snap
}

// fail 应用重试策略：次数未耗尽则回到 PENDING 并调度整条管线重跑
// （SUBMITTED 阶段失败也会重新询价，多付一次询价的代价，参考行为如此）；
// 耗尽则落入终态 FAILED。所有失败类别都走同一条重试路径。
func (r *Runner) fail(ctx context.Context, id, stage string, cause error) {
	maxRetries := r.cfg.MaxRetries
	var retryDelay time.Duration

	snap, err := r.store.Update(id, func(o *order.Order) {
		// retryCount 封顶于 maxRetries：第 maxRetries+1 次失败不再计数，
		// 直接落入终态。
		if o.RetryCount < maxRetries {
			o.RetryCount++
			o.Status = order.StatusPending
			o.ErrorMessage = fmt.Sprintf("Retry %d/%d: %v", o.RetryCount, maxRetries, cause)
			retryDelay = time.Duration(1<<o.RetryCount) * r.cfg.BackoffBase
		} else {
			o.Status = order.StatusFailed
			o.ErrorMessage = fmt.Sprintf("Failed after %d retries: %v", maxRetries, cause)
		}
	})
	if err != nil {
		r.logger.Error("记录失败状态失败", zap.String("orderId", id), zap.Error(err))
		return
	}

	r.pub.Publish(snap)
	r.journal.RecordStatusChange(ctx, snap)
	r.journal.RecordError(ctx, id, stage, snap.RetryCount, cause)

	if snap.Status == order.StatusPending {
		r.logger.Warn("阶段失败，调度重试",
			zap.String("orderId", id),
			zap.String("stage", stage),
			zap.Int("retryCount", snap.RetryCount),
			zap.Duration("delay", retryDelay),
			zap.Bool("retryable", venue.IsRetryable(cause)),
			zap.Error(cause),
		)
		r.kickoff(id, retryDelay)
		return
	}

	r.logger.Error("重试次数耗尽，订单终止",
		zap.String("orderId", id),
		zap.String("stage", stage),
		zap.Int("retryCount", snap.RetryCount),
		zap.Error(cause),
	)
}

func (r *Runner) buildDelay(ctx context.Context) error {
	d := r.cfg.BuildDelayMin
	if r.cfg.BuildDelayMax > r.cfg.BuildDelayMin {
		d += time.Duration(rand.Int63n(int64(r.cfg.BuildDelayMax - r.cfg.BuildDelayMin)))
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) lockOrder(id string) func() {
	r.mu.Lock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
