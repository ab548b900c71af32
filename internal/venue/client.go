package venue

import (
	"context"

	"swap-router/internal/order"
)

// Quote 为场所对一组交易对/数量给出的估价。
type Quote struct {
	Venue     string  `json:"venue"`
	Price     float64 `json:"price"`
	FeeRate   float64 `json:"feeRate"`
	Liquidity float64 `json:"liquidity"`
}

// Execution 为执行结果，SettlementReference 是链上交易哈希等结算凭证。
type Execution struct {
	SettlementReference string  `json:"settlementReference"`
	ExecutedPrice       float64 `json:"executedPrice"`
}

// Client 抽象流动性场所的能力接口，管线只面向该接口编程。
// Execute 对场所而言不是幂等操作，调用方在没有明确的重试决定前
// 不得对同一次尝试重复调用。
type Client interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (Quote, error)
	Execute(ctx context.Context, snap order.Snapshot) (Execution, error)
}

var _ Client = (*Simulated)(nil)
