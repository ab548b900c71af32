package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/config"
	"swap-router/internal/order"
)

const settlementRefLen = 64

// Simulated 按配置模拟一个流动性场所：延迟区间内随机等待，
// 在 base_price × variance 区间内报价，执行后返回伪造的交易哈希。
type Simulated struct {
	cfg    config.VenueConfig
	name   string
	logger *zap.Logger
}

// NewSimulated 创建模拟场所。
func NewSimulated(cfg config.VenueConfig, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		cfg:    cfg,
		name:   strings.ToUpper(strings.TrimSpace(cfg.Name)),
		logger: logger,
	}
}

// Name 返回场所标识。
func (s *Simulated) Name() string {
	return s.name
}

// Quote 模拟询价：无副作用，失败注入优先于报价。
func (s *Simulated) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (Quote, error) {
	if err := s.sleep(ctx, s.cfg.QuoteLatencyMin, s.cfg.QuoteLatencyMax); err != nil {
		return Quote{}, err
	}

	if s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate {
		return Quote{}, fmt.Errorf("%w: %s 询价失败", ErrVenueUnavailable, s.name)
	}

	variance := s.cfg.VarianceMin + rand.Float64()*(s.cfg.VarianceMax-s.cfg.VarianceMin)
	price := s.cfg.BasePrice * variance

	s.logger.Debug("模拟询价完成",
		zap.String("venue", s.name),
		zap.String("pair", tokenIn+"/"+tokenOut),
		zap.Float64("amountIn", amountIn),
		zap.Float64("price", price),
	)

	return Quote{
		Venue:     s.name,
		Price:     price,
		FeeRate:   s.cfg.FeeRate,
		Liquidity: s.cfg.Liquidity,
	}, nil
}

// Execute 模拟执行：以路由阶段存下的报价成交，返回 64 位十六进制凭证。
func (s *Simulated) Execute(ctx context.Context, snap order.Snapshot) (Execution, error) {
	if err := s.sleep(ctx, s.cfg.ExecuteLatencyMin, s.cfg.ExecuteLatencyMax); err != nil {
		return Execution{}, err
	}

	if s.cfg.FailureRate > 0 && rand.Float64() < s.cfg.FailureRate {
		return Execution{}, fmt.Errorf("%w: %s 执行失败", ErrExecutionFailed, s.name)
	}

	price, ok := snap.Quotes[s.name]
	if !ok {
		price = s.cfg.BasePrice
	}

	return Execution{
		SettlementReference: mockSettlementRef(),
		ExecutedPrice:       price,
	}, nil
}

func (s *Simulated) sleep(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
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
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, s.name)
		}
		return ctx.Err()
	}
}

func mockSettlementRef() string {
	const hexChars = "0123456789abcdef"
	buf := make([]byte, settlementRefLen)
	for i := range buf {
		buf[i] = hexChars[rand.Intn(len(hexChars))]
	}
	return string(buf)
}
