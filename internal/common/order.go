package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderKind int

const (
	// Limit orders are an order to buy or sell at a specified price or
	// better. Limit orders may rest on the order book until filled.
	LimitOrder OrderKind = iota
	// Market orders execute immediately against the best available
	// resting liquidity. They never rest; an unfillable remainder is
	// discarded at the end of the sweep.
	MarketOrder
	// Stop orders lie dormant until the last trade price crosses their
	// trigger. On activation they become limit orders (if they carry a
	// limit price) or market orders (if they do not).
	StopOrder
)

func (k OrderKind) String() string {
	switch k {
	case LimitOrder:
		return "LIMIT"
	case MarketOrder:
		return "MARKET"
	case StopOrder:
		return "STOP"
	}
	return fmt.Sprintf("OrderKind(%d)", int(k))
}

type OrderStatus int

const (
	Pending OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (st OrderStatus) String() string {
	switch st {
	case Pending:
		return "PENDING"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	}
	return fmt.Sprintf("OrderStatus(%d)", int(st))
}

// Order is a trader's intent to trade plus its mutable fill state. The
// identifying fields never change after admission; Quantity only ever
// decreases and Status follows the fill lifecycle.
type Order struct {
	ID            string          // unique, monotonic per trader
	TraderID      string          // who owns this order
	Symbol        string          // asset identifier
	Side          Side            // order side
	Kind          OrderKind       // limit / market / stop
	Quantity      int64           // remaining quantity
	TotalQuantity int64           // original quantity requested
	LimitPrice    decimal.Decimal // required for LIMIT, optional for STOP
	StopPrice     decimal.Decimal // required for STOP
	SubmittedTick int64           // tick the order was admitted on
	Status        OrderStatus

	// Budget is the notional a market BUY may spend in total, mirroring
	// the cash escrowed at admission. The sweep debits it per fill and
	// discards whatever quantity it cannot afford, so execution can never
	// outrun the reservation. Zero on orders whose limit price already
	// bounds the spend.
	Budget decimal.Decimal

	// Arrival is the book admission sequence number. Price-time priority
	// ties break on Arrival, never on wall-clock latency, so outcomes are
	// reproducible for a given admission order.
	Arrival uint64
}

// FilledQuantity reports how much of the order has executed so far.
func (o *Order) FilledQuantity() int64 {
	return o.TotalQuantity - o.Quantity
}

// Live reports whether the order can still trade or rest.
func (o *Order) Live() bool {
	return o.Status == Pending || o.Status == PartiallyFilled
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %d/%d %s @ %s (%s)",
		o.ID, o.Side, o.Kind, o.Quantity, o.TotalQuantity,
		o.Symbol, o.LimitPrice, o.Status)
}
