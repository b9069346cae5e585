package account

import (
	"errors"
	"fmt"

	"aegir/internal/common"
)

// ErrSettlement marks a trade that cannot be applied symmetrically. If
// admission-time reservation is correct this is unreachable; seeing it
// means the conservation invariant may already be broken, so callers
// treat it as fatal for the tick's settling phase rather than a business
// error.
var ErrSettlement = errors.New("settlement invariant violation")

// Ledger applies trades to the two counterparties' portfolios. The
// discipline is check-before-apply: both sides are validated in full,
// then both are mutated; there is no rollback path because nothing is
// ever partially applied.
type Ledger struct {
	// AllowShort permits sells with no share escrow (negative positions).
	AllowShort bool
	// AllowMargin permits buyer cash to go negative at settlement.
	// Market buys reserve against top-of-book, which can undershoot the
	// executed price; margin-off treats that shortfall as a fault.
	AllowMargin bool
}

// Apply settles one trade: debit the buyer's cash and escrow, credit the
// seller, move the shares, and realize P&L on closed exposure. Either
// both portfolios change or neither does.
func (l *Ledger) Apply(t common.Trade, buyer, seller *Portfolio) error {
	if t.Quantity <= 0 || !t.Price.IsPositive() {
		return fmt.Errorf("%w: malformed trade %s", ErrSettlement, t.ID)
	}
	notional := t.Notional()

	// Validate the buyer side.
	bh, ok := buyer.holds[t.BuyOrderID]
	if !ok {
		return fmt.Errorf("%w: buyer %s has no reservation for order %s",
			ErrSettlement, buyer.TraderID, t.BuyOrderID)
	}
	if bh.remaining < t.Quantity {
		return fmt.Errorf("%w: buy reservation %s covers %d, trade wants %d",
			ErrSettlement, t.BuyOrderID, bh.remaining, t.Quantity)
	}
	if !l.AllowMargin && buyer.Cash.LessThan(notional) {
		return fmt.Errorf("%w: buyer %s cash %s cannot cover %s",
			ErrSettlement, buyer.TraderID, buyer.Cash, notional)
	}

	// Validate the seller side.
	sh, ok := seller.holds[t.SellOrderID]
	if !ok {
		return fmt.Errorf("%w: seller %s has no reservation for order %s",
			ErrSettlement, seller.TraderID, t.SellOrderID)
	}
	if sh.remaining < t.Quantity {
		return fmt.Errorf("%w: sell reservation %s covers %d, trade wants %d",
			ErrSettlement, t.SellOrderID, sh.remaining, t.Quantity)
	}
	if sh.shares && seller.ReservedShares[t.Symbol] < t.Quantity {
		return fmt.Errorf("%w: seller %s share escrow in %s cannot cover %d",
			ErrSettlement, seller.TraderID, t.Symbol, t.Quantity)
	}
	if !sh.shares && !l.AllowShort {
		return fmt.Errorf("%w: unescrowed sell %s with shorting disabled",
			ErrSettlement, t.SellOrderID)
	}

	// Both sides check out; commit both.
	buyer.releaseHold(bh, t.Quantity)
	buyer.Cash = buyer.Cash.Sub(notional)
	pos, realized := applyFill(buyer.Positions[t.Symbol], t.Quantity, t.Price)
	buyer.Positions[t.Symbol] = pos
	buyer.RealizedPnL = buyer.RealizedPnL.Add(realized)
	settleHold(buyer, bh, t.Quantity, t.BuyOrderID)

	seller.releaseHold(sh, t.Quantity)
	seller.Cash = seller.Cash.Add(notional)
	pos, realized = applyFill(seller.Positions[t.Symbol], -t.Quantity, t.Price)
	seller.Positions[t.Symbol] = pos
	seller.RealizedPnL = seller.RealizedPnL.Add(realized)
	settleHold(seller, sh, t.Quantity, t.SellOrderID)

	return nil
}

func settleHold(p *Portfolio, h *hold, qty int64, orderID string) {
	h.remaining -= qty
	if h.remaining == 0 {
		delete(p.holds, orderID)
	}
}
