package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swap-router/internal/order"
	"swap-router/internal/venue"
)

// ErrNoLiquidity 表示所有场所询价均失败，本次路由无法完成。
var ErrNoLiquidity = errors.New("no liquidity")

// Selection 是一次路由决策的结果。
type Selection struct {
	// Quotes 收录每个询价成功的场所报价。
	Quotes map[string]venue.Quote
	// Chosen 为胜出场所的报价。
	Chosen venue.Quote
	// PriceDifference 为 |pA-pB| / min(pA,pB)，仅在至少两份报价时有意义。
	PriceDifference float64
}

// Aggregator 并发向全部场所询价并选出最优者。
type Aggregator struct {
	clients      []venue.Client
	cmp          Comparator
	quoteTimeout time.Duration
	logger       *zap.Logger
}

// NewAggregator 创建询价聚合器，clients 的顺序即打平时的优先级。
func NewAggregator(clients []venue.Client, cmp Comparator, quoteTimeout time.Duration, logger *zap.Logger) *Aggregator {
	if cmp == nil {
		cmp = PriceComparator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		clients:      clients,
		cmp:          cmp,
		quoteTimeout: quoteTimeout,
		logger:       logger,
	}
}

// SelectBestVenue 并发发起全部询价，等所有调用结束后再决策，
// 不在首个成功时提前返回：路由决策和价差指标都需要完整报价。
// 只有一家成功时该家直接胜出；全部失败返回 ErrNoLiquidity。
func (a *Aggregator) SelectBestVenue(ctx context.Context, snap order.Snapshot) (Selection, error) {
	if len(a.clients) == 0 {
		return Selection{}, fmt.Errorf("%w: 未配置任何场所", ErrNoLiquidity)
	}

	quotes := make([]venue.Quote, len(a.clients))
	failures := make([]error, len(a.clients))

	var g errgroup.Group
	for i, client := range a.clients {
		i, client := i, client
		g.Go(func() error {
			qctx := ctx
			if a.quoteTimeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, a.quoteTimeout)
				defer cancel()
			}

			q, err := client.Quote(qctx, snap.TokenIn, snap.TokenOut, snap.AmountIn)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", client.Name(), err)
				return nil
			}
			quotes[i] = q
			return nil
		})
	}
	// goroutine 只把结果写进自己的槽位，永远返回 nil。
	_ = g.Wait()

	sel := Selection{Quotes: make(map[string]venue.Quote, len(a.clients))}
	chosen := false
	for i := range a.clients {
		if failures[i] != nil {
			a.logger.Warn("场所询价失败",
				zap.String("orderId", snap.OrderID),
				zap.Error(failures[i]),
			)
			continue
		}
		q := quotes[i]
		sel.Quotes[q.Venue] = q
		if !chosen {
			sel.Chosen = q
			chosen = true
			continue
		}
		if a.cmp.Better(snap.Side, q, sel.Chosen) {
			sel.Chosen = q
		}
	}

	if !chosen {
		combined := multierr.Combine(failures...)
		return Selection{}, fmt.Errorf("%w: %v", ErrNoLiquidity, combined)
	}

	sel.PriceDifference = priceDifference(sel.Quotes)

	a.logger.Info("路由决策完成",
		zap.String("orderId", snap.OrderID),
		zap.String("chosenVenue", sel.Chosen.Venue),
		zap.Int("quotes", len(sel.Quotes)),
		zap.Float64("priceDifference", sel.PriceDifference),
	)

	return sel, nil
}

// priceDifference 计算 |max-min| / min，少于两份报价时为 0。
func priceDifference(quotes map[string]venue.Quote) float64 {
	if len(quotes) < 2 {
		return 0
	}
	lo := math.Inf(1)
	hi := math.Inf(-1)
	for _, q := range quotes {
		lo = math.Min(lo, q.Price)
		hi = math.Max(hi, q.Price)
	}
	if lo <= 0 {
		return 0
	}
	return math.Abs(hi-lo) / lo
}
