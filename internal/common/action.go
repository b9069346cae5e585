package common

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownActionKind = errors.New("unknown action kind")
	ErrUnknownOrderKind  = errors.New("unknown order kind")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrMissingLimitPrice = errors.New("limit order requires a positive limit price")
	ErrMissingStopPrice  = errors.New("stop order requires a positive stop price")
	ErrMissingCancelID   = errors.New("cancel requires an order id")
)

type ActionKind int

const (
	ActionBuy ActionKind = iota
	ActionSell
	ActionCancel
)

func (k ActionKind) String() string {
	switch k {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionCancel:
		return "cancel"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is the closed set of things a decision provider may ask for in a
// tick. Anything outside this shape is rejected at the boundary rather
// than silently dropped.
type Action struct {
	Kind       ActionKind
	Symbol     string
	Quantity   int64
	OrderKind  OrderKind
	LimitPrice decimal.Decimal // required for LIMIT, optional for STOP
	StopPrice  decimal.Decimal // required for STOP
	CancelID   string          // required for cancel
}

// Validate checks the action's shape. Resource checks against the issuing
// portfolio happen separately at admission.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionCancel:
		if a.CancelID == "" {
			return ErrMissingCancelID
		}
		return nil
	case ActionBuy, ActionSell:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownActionKind, int(a.Kind))
	}

	if a.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	switch a.OrderKind {
	case LimitOrder:
		if !a.LimitPrice.IsPositive() {
			return ErrMissingLimitPrice
		}
	case StopOrder:
		if !a.StopPrice.IsPositive() {
			return ErrMissingStopPrice
		}
		if !a.LimitPrice.IsZero() && !a.LimitPrice.IsPositive() {
			return ErrMissingLimitPrice
		}
	case MarketOrder:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOrderKind, int(a.OrderKind))
	}
	return nil
}

// Side maps the action kind onto an order side. Only valid for buy/sell.
func (a Action) Side() Side {
	if a.Kind == ActionSell {
		return Sell
	}
	return Buy
}
