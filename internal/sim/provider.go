package sim

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"aegir/internal/account"
	"aegir/internal/book"
	"aegir/internal/common"
)

// DecisionProvider is the boundary to the out-of-scope decision policy.
// Each tick it receives a read-only snapshot and returns the actions it
// wants; how it reasons is not the engine's business. A provider that
// errors, panics or overruns its budget contributes no actions that tick.
type DecisionProvider interface {
	Decide(ctx context.Context, snap Snapshot) ([]common.Action, error)
}

// AssetView is one asset as a provider sees it. Fundamental is zero
// unless the trader's information tier grants it.
type AssetView struct {
	Symbol        string
	LastPrice     decimal.Decimal
	Fundamental   decimal.Decimal
	DividendYield decimal.Decimal
	Volatility    decimal.Decimal
	Depth         book.Depth
}

type PositionView struct {
	Symbol   string
	Quantity int64
	AvgCost  decimal.Decimal
}

// PortfolioView is the trader's own state: a provider never sees another
// trader's book.
type PortfolioView struct {
	Cash          decimal.Decimal
	AvailableCash decimal.Decimal
	RealizedPnL   decimal.Decimal
	Positions     []PositionView
	Pending       []common.Order
}

// Snapshot is the immutable market state offered to one provider for one
// tick. Everything is copied; mutating a snapshot cannot touch the
// engine.
type Snapshot struct {
	Tick         int64
	Tier         common.InfoTier
	Assets       []AssetView
	Portfolio    PortfolioView
	RecentTrades []common.Trade
}

// Asset finds a view by symbol, for provider convenience.
func (s Snapshot) Asset(symbol string) (AssetView, bool) {
	for _, a := range s.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return AssetView{}, false
}

func newPortfolioView(p *account.Portfolio) PortfolioView {
	view := PortfolioView{
		Cash:          p.Cash,
		AvailableCash: p.AvailableCash(),
		RealizedPnL:   p.RealizedPnL,
	}
	for symbol, pos := range p.Positions {
		if pos.Quantity == 0 {
			continue
		}
		view.Positions = append(view.Positions, PositionView{
			Symbol:   symbol,
			Quantity: pos.Quantity,
			AvgCost:  pos.AvgCost,
		})
	}
	sort.Slice(view.Positions, func(i, j int) bool {
		return view.Positions[i].Symbol < view.Positions[j].Symbol
	})
	for _, o := range p.PendingOrders() {
		view.Pending = append(view.Pending, *o)
	}
	sort.Slice(view.Pending, func(i, j int) bool {
		return view.Pending[i].ID < view.Pending[j].ID
	})
	return view
}
