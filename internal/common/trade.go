package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Trade records one match between a buy and a sell order. Trades are
// immutable once created and only ever appended to.
type Trade struct {
	ID          string
	Symbol      string
	BuyerID     string
	SellerID    string
	BuyOrderID  string
	SellOrderID string
	Quantity    int64
	Price       decimal.Decimal
	Tick        int64
}

// Notional is the cash value of the trade: price x quantity. The buyer is
// debited and the seller credited exactly this amount.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

func (t Trade) String() string {
	return fmt.Sprintf("trade %s: %d %s @ %s (%s buys from %s, tick %d)",
		t.ID, t.Quantity, t.Symbol, t.Price, t.BuyerID, t.SellerID, t.Tick)
}
