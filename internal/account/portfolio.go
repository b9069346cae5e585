package account

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"aegir/internal/common"
)

var (
	ErrInsufficientCash   = errors.New("insufficient available cash")
	ErrInsufficientShares = errors.New("insufficient available shares")
	ErrNoReferencePrice   = errors.New("no reference price to reserve against")
	ErrDuplicateHold      = errors.New("order already has a reservation")
)

// Position is a signed holding in one asset. Negative quantity is a
// short. AvgCost tracks the average entry price of the open position.
type Position struct {
	Quantity int64
	AvgCost  decimal.Decimal
}

// hold is the escrow backing one pending order: either cash (buys, at a
// fixed per-share rate) or shares (sells). remaining counts the
// still-unsettled quantity the escrow covers.
type hold struct {
	order     *common.Order
	perShare  decimal.Decimal
	shares    bool
	remaining int64
}

// Portfolio is one trader's cash, positions and pending-order escrow.
// Every admitted order reserves its worst-case resources up front, so
// settlement can never discover a shortfall it has to unwind.
type Portfolio struct {
	TraderID       string
	Cash           decimal.Decimal
	ReservedCash   decimal.Decimal
	Positions      map[string]Position
	ReservedShares map[string]int64
	RealizedPnL    decimal.Decimal

	holds map[string]*hold
}

func NewPortfolio(traderID string, cash decimal.Decimal) *Portfolio {
	return &Portfolio{
		TraderID:       traderID,
		Cash:           cash,
		Positions:      make(map[string]Position),
		ReservedShares: make(map[string]int64),
		holds:          make(map[string]*hold),
	}
}

// SetPosition installs an initial allocation. Used at construction only.
func (p *Portfolio) SetPosition(symbol string, qty int64, avgCost decimal.Decimal) {
	p.Positions[symbol] = Position{Quantity: qty, AvgCost: avgCost}
}

// AvailableCash is cash not escrowed behind pending buys.
func (p *Portfolio) AvailableCash() decimal.Decimal {
	return p.Cash.Sub(p.ReservedCash)
}

// AvailableShares is the long quantity not escrowed behind pending sells.
func (p *Portfolio) AvailableShares(symbol string) int64 {
	return p.Positions[symbol].Quantity - p.ReservedShares[symbol]
}

// Reserve escrows the resources an order needs before it may enter the
// book. Buys reserve worst-case notional: the limit price, or the stop
// price for stop-markets, or refPrice (top of book) for plain market
// orders. Sells reserve shares unless shorting is enabled. Nothing is
// mutated on failure.
func (p *Portfolio) Reserve(order *common.Order, refPrice decimal.Decimal, allowShort bool) error {
	if _, ok := p.holds[order.ID]; ok {
		return ErrDuplicateHold
	}

	if order.Side == common.Sell {
		h := &hold{order: order, remaining: order.Quantity}
		if !allowShort {
			if p.AvailableShares(order.Symbol) < order.Quantity {
				return fmt.Errorf("%w: %s needs %d of %s",
					ErrInsufficientShares, p.TraderID, order.Quantity, order.Symbol)
			}
			p.ReservedShares[order.Symbol] += order.Quantity
			h.shares = true
		}
		p.holds[order.ID] = h
		return nil
	}

	perShare := order.LimitPrice
	if !perShare.IsPositive() {
		perShare = order.StopPrice
	}
	if !perShare.IsPositive() {
		perShare = refPrice
	}
	if !perShare.IsPositive() {
		return ErrNoReferencePrice
	}

	required := perShare.Mul(decimal.NewFromInt(order.Quantity))
	if p.AvailableCash().LessThan(required) {
		return fmt.Errorf("%w: %s needs %s, has %s",
			ErrInsufficientCash, p.TraderID, required, p.AvailableCash())
	}
	p.ReservedCash = p.ReservedCash.Add(required)
	if !order.LimitPrice.IsPositive() {
		// No limit price to bound execution, so the escrowed notional
		// becomes the order's hard spending cap for the sweep.
		order.Budget = required
	}
	p.holds[order.ID] = &hold{order: order, perShare: perShare, remaining: order.Quantity}
	return nil
}

// Release frees whatever escrow remains behind an order, after a cancel
// or a discarded market remainder. Releasing an unknown or already
// settled-out order is a no-op, which makes cancel races harmless.
func (p *Portfolio) Release(orderID string) {
	h, ok := p.holds[orderID]
	if !ok {
		return
	}
	p.releaseHold(h, h.remaining)
	delete(p.holds, orderID)
}

func (p *Portfolio) releaseHold(h *hold, qty int64) {
	if qty <= 0 {
		return
	}
	if h.shares {
		p.ReservedShares[h.order.Symbol] -= qty
		return
	}
	if !h.perShare.IsZero() {
		p.ReservedCash = p.ReservedCash.Sub(h.perShare.Mul(decimal.NewFromInt(qty)))
	}
}

// Pending returns the still-open order behind a reservation, if any.
func (p *Portfolio) Pending(orderID string) (*common.Order, bool) {
	h, ok := p.holds[orderID]
	if !ok {
		return nil, false
	}
	return h.order, true
}

// PendingOrders returns the open orders backing current reservations.
func (p *Portfolio) PendingOrders() []*common.Order {
	out := make([]*common.Order, 0, len(p.holds))
	for _, h := range p.holds {
		out = append(out, h.order)
	}
	return out
}

// Credit adds cash from outside the market (dividends). Negative amounts
// debit, for short positions carrying a dividend liability.
func (p *Portfolio) Credit(amount decimal.Decimal) {
	p.Cash = p.Cash.Add(amount)
}

// Equity marks the portfolio to market: cash plus positions at the given
// prices.
func (p *Portfolio) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	eq := p.Cash
	for symbol, pos := range p.Positions {
		if pos.Quantity == 0 {
			continue
		}
		px, ok := prices[symbol]
		if !ok {
			continue
		}
		eq = eq.Add(px.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return eq
}

// applyFill folds a signed quantity delta at a price into a position,
// returning the new position and the realized P&L of any closed portion.
// Adding to a position (or opening one) re-weights average cost; reducing
// one realizes against it; crossing through zero re-opens at the fill
// price.
func applyFill(pos Position, delta int64, price decimal.Decimal) (Position, decimal.Decimal) {
	if delta == 0 {
		return pos, decimal.Zero
	}
	if pos.Quantity == 0 || sameSign(pos.Quantity, delta) {
		oldAbs := decimal.NewFromInt(abs(pos.Quantity))
		addAbs := decimal.NewFromInt(abs(delta))
		total := oldAbs.Add(addAbs)
		avg := pos.AvgCost.Mul(oldAbs).Add(price.Mul(addAbs)).Div(total)
		return Position{Quantity: pos.Quantity + delta, AvgCost: avg}, decimal.Zero
	}

	closed := min(abs(pos.Quantity), abs(delta))
	perShare := price.Sub(pos.AvgCost)
	if pos.Quantity < 0 {
		perShare = pos.AvgCost.Sub(price)
	}
	realized := perShare.Mul(decimal.NewFromInt(closed))

	remaining := pos.Quantity + delta
	switch {
	case remaining == 0:
		return Position{}, realized
	case sameSign(remaining, pos.Quantity):
		return Position{Quantity: remaining, AvgCost: pos.AvgCost}, realized
	default:
		// Flipped through flat; the new exposure opened at this fill.
		return Position{Quantity: remaining, AvgCost: price}, realized
	}
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
