package book

import (
	"github.com/shopspring/decimal"

	"aegir/internal/common"
)

// DepthLevel aggregates the resting quantity at one price.
type DepthLevel struct {
	Price    decimal.Decimal
	Quantity int64
	Orders   int
}

// Depth is a read-only top-of-book snapshot handed across the decision
// provider boundary. Building it must not disturb the book, so the level
// trees are walked with non-mutating iteration only.
type Depth struct {
	Symbol string
	Bids   []DepthLevel // best (highest) first
	Asks   []DepthLevel // best (lowest) first
}

// Depth returns up to levels price levels per side.
func (b *OrderBook) Depth(levels int) Depth {
	return Depth{
		Symbol: b.symbol,
		Bids:   snapshotLevels(b.bids, levels),
		Asks:   snapshotLevels(b.asks, levels),
	}
}

func snapshotLevels(tree *priceLevels, max int) []DepthLevel {
	var out []DepthLevel
	tree.Scan(func(level *priceLevel) bool {
		var qty int64
		for _, o := range level.orders {
			qty += o.Quantity
		}
		out = append(out, DepthLevel{
			Price:    level.price,
			Quantity: qty,
			Orders:   len(level.orders),
		})
		return len(out) < max
	})
	return out
}

// Resting returns copies of every live resting order on a side, best
// level first, FIFO within a level. Test and inspection helper.
func (b *OrderBook) Resting(side common.Side) []common.Order {
	var out []common.Order
	b.sideLevels(side).Scan(func(level *priceLevel) bool {
		for _, o := range level.orders {
			out = append(out, *o)
		}
		return true
	})
	return out
}
