package main

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"

	"aegir/internal/common"
	"aegir/internal/sim"
)

// noiseProvider is a zero-intelligence stand-in for the external decision
// policy: it quotes limit orders around the last price, occasionally
// crosses with a market order or arms a stop, and sometimes cancels a
// resting order. It exists so the binary runs end to end; real providers
// live outside this repository.
type noiseProvider struct {
	rng *rand.Rand
}

func newNoiseProvider(seed int64) *noiseProvider {
	return &noiseProvider{rng: rand.New(rand.NewSource(seed))}
}

func (p *noiseProvider) Decide(_ context.Context, snap sim.Snapshot) ([]common.Action, error) {
	if len(snap.Assets) == 0 {
		return nil, nil
	}
	asset := snap.Assets[p.rng.Intn(len(snap.Assets))]

	// Sometimes walk away from a resting order instead of quoting.
	if len(snap.Portfolio.Pending) > 0 && p.rng.Float64() < 0.15 {
		victim := snap.Portfolio.Pending[p.rng.Intn(len(snap.Portfolio.Pending))]
		return []common.Action{{
			Kind:     common.ActionCancel,
			CancelID: victim.ID,
		}}, nil
	}

	kind := common.ActionBuy
	if p.rng.Float64() < 0.5 {
		kind = common.ActionSell
	}
	qty := int64(p.rng.Intn(90) + 10)

	// Offset the quote a few percent off the last price, biased toward
	// the fundamental when the tier can see it.
	anchor := asset.LastPrice
	if !asset.Fundamental.IsZero() && p.rng.Float64() < 0.5 {
		anchor = asset.Fundamental
	}
	drift := decimal.NewFromFloat((p.rng.Float64() - 0.5) * 0.04)
	price := anchor.Mul(decimal.NewFromInt(1).Add(drift)).Round(2)
	if !price.IsPositive() {
		return nil, nil
	}

	roll := p.rng.Float64()
	switch {
	case roll < 0.10:
		return []common.Action{{
			Kind:      kind,
			Symbol:    asset.Symbol,
			Quantity:  qty,
			OrderKind: common.MarketOrder,
		}}, nil
	case roll < 0.18:
		// Protective stop a few percent behind the market.
		stop := asset.LastPrice.Mul(decimal.NewFromFloat(0.97)).Round(2)
		if kind == common.ActionBuy {
			stop = asset.LastPrice.Mul(decimal.NewFromFloat(1.03)).Round(2)
		}
		return []common.Action{{
			Kind:      kind,
			Symbol:    asset.Symbol,
			Quantity:  qty,
			OrderKind: common.StopOrder,
			StopPrice: stop,
		}}, nil
	default:
		return []common.Action{{
			Kind:       kind,
			Symbol:     asset.Symbol,
			Quantity:   qty,
			OrderKind:  common.LimitOrder,
			LimitPrice: price,
		}}, nil
	}
}
