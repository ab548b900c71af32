package router

import (
	"swap-router/internal/order"
	"swap-router/internal/venue"
)

// Comparator 决定两份报价谁更优。抽成接口是为了让费率/流动性
// 参与决策的策略可以替换进来，而不动管线本身。
type Comparator interface {
	// Better 在 candidate 严格优于 incumbent 时返回 true。
	// 打平必须返回 false，以保证配置顺序靠前的场所胜出。
	Better(side order.Side, candidate, incumbent venue.Quote) bool
}

// PriceComparator 是参考行为的纯价格比较：买入取低价，卖出取高价。
// 费率与流动性只作为信息展示，不参与比较。
type PriceComparator struct{}

// Better 实现 Comparator。
func (PriceComparator) Better(side order.Side, candidate, incumbent venue.Quote) bool {
	if side == order.SideSell {
		return candidate.Price > incumbent.Price
	}
	return candidate.Price < incumbent.Price
}
