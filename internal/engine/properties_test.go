package engine

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"aegir/internal/common"
)

// TestSweep_Properties throws random order streams at the engine with
// interleaved sweeps and checks the invariants that must hold no matter
// what: the book is never left crossed, no market order survives a
// sweep, and every trade is well formed.
func TestSweep_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := New("AEG")
		b, err := e.Book("AEG")
		require.NoError(t, err)

		submitted := map[string]int64{}
		filled := map[string]int64{}
		nextID := 0

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		var tick int64
		for i := 0; i < steps; i++ {
			if rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("sweep-%d", i)) < 0.3 {
				tick++
				trades, discarded, err := e.Sweep("AEG", tick)
				require.NoError(t, err)

				minPrice := d("50")
				maxPrice := d("150")
				for _, tr := range trades {
					require.Positive(t, tr.Quantity)
					require.True(t, tr.Price.GreaterThanOrEqual(minPrice), "price %s below any quote", tr.Price)
					require.True(t, tr.Price.LessThanOrEqual(maxPrice), "price %s above any quote", tr.Price)
					require.NotEqual(t, tr.BuyOrderID, tr.SellOrderID)
					filled[tr.BuyOrderID] += tr.Quantity
					filled[tr.SellOrderID] += tr.Quantity
				}
				for _, o := range discarded {
					require.Equal(t, common.MarketOrder, o.Kind)
					require.Equal(t, common.Cancelled, o.Status)
					require.False(t, b.Holds(o.ID))
				}

				require.False(t, b.Crossed(), "sweep left the book crossed")
				require.Zero(t, b.PendingMarket(), "sweep left a market order queued")
				continue
			}

			nextID++
			id := fmt.Sprintf("o%d", nextID)
			side := common.Buy
			if rapid.Bool().Draw(t, fmt.Sprintf("side-%d", i)) {
				side = common.Sell
			}
			qty := rapid.Int64Range(1, 200).Draw(t, fmt.Sprintf("qty-%d", i))
			submitted[id] = qty

			if rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("mkt-%d", i)) < 0.2 {
				require.NoError(t, b.Add(market(id, "t-"+id, side, qty)))
				continue
			}
			cents := rapid.Int64Range(5000, 15000).Draw(t, fmt.Sprintf("px-%d", i))
			price := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
			require.NoError(t, b.Add(limit(id, "t-"+id, side, qty, price.String())))
		}

		// Final sweep, then check global accounting.
		tick++
		trades, _, err := e.Sweep("AEG", tick)
		require.NoError(t, err)
		for _, tr := range trades {
			filled[tr.BuyOrderID] += tr.Quantity
			filled[tr.SellOrderID] += tr.Quantity
		}
		require.False(t, b.Crossed())
		require.Zero(t, b.PendingMarket())

		for id, got := range filled {
			require.LessOrEqual(t, got, submitted[id], "order %s overfilled", id)
		}
	})
}
