package engine

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aegir/internal/book"
	"aegir/internal/common"
)

var ErrUnknownSymbol = errors.New("no book for symbol")

// Engine owns one order book per supported symbol and runs the per-tick
// matching sweep over each.
type Engine struct {
	books   map[string]*book.OrderBook
	symbols []string // registration order, for deterministic iteration
}

func New(symbols ...string) *Engine {
	e := &Engine{books: make(map[string]*book.OrderBook)}
	for _, s := range symbols {
		e.AddBook(s)
	}
	return e
}

func (e *Engine) AddBook(symbol string) *book.OrderBook {
	if b, ok := e.books[symbol]; ok {
		return b
	}
	b := book.New(symbol)
	e.books[symbol] = b
	e.symbols = append(e.symbols, symbol)
	return b
}

func (e *Engine) Book(symbol string) (*book.OrderBook, error) {
	b, ok := e.books[symbol]
	if !ok {
		return nil, ErrUnknownSymbol
	}
	return b, nil
}

// Symbols returns the supported symbols in registration order.
func (e *Engine) Symbols() []string { return e.symbols }

// Sweep runs one matching pass over the symbol's book. It returns the
// trades it produced plus any market orders whose remainder was discarded
// for lack of opposite liquidity, so the caller can release their escrow.
// Market orders drain first in admission order, then crossing limit
// orders match while best bid >= best ask. Post-condition: the book is
// never left crossed and holds no market orders.
func (e *Engine) Sweep(symbol string, tick int64) ([]common.Trade, []*common.Order, error) {
	b, err := e.Book(symbol)
	if err != nil {
		return nil, nil, err
	}

	trades, discarded := e.sweepMarket(b, tick, nil)
	trades = e.sweepLimit(b, tick, trades)
	return trades, discarded, nil
}

// sweepMarket executes pending market orders against the opposite resting
// side. A market order that exhausts the opposite side has its remainder
// discarded; market orders never rest.
func (e *Engine) sweepMarket(b *book.OrderBook, tick int64, trades []common.Trade) ([]common.Trade, []*common.Order) {
	var discarded []*common.Order
	for taker, ok := b.TakeMarket(); ok; taker, ok = b.TakeMarket() {
		// A market BUY carries the notional escrowed for it at admission;
		// the sweep never spends past it. Quantity the budget cannot
		// afford is discarded exactly like quantity without liquidity.
		capped := taker.Side == common.Buy && taker.Budget.IsPositive()
		for taker.Quantity > 0 {
			maker, ok := b.Front(taker.Side.Opposite())
			if !ok {
				break
			}
			qty := min(taker.Quantity, maker.Quantity)
			// Market orders take the resting order's price.
			price := maker.LimitPrice
			if capped {
				if affordable := taker.Budget.Div(price).IntPart(); affordable < qty {
					qty = affordable
				}
				if qty == 0 {
					break
				}
				taker.Budget = taker.Budget.Sub(price.Mul(decimal.NewFromInt(qty)))
			}

			b.Fill(maker, qty)
			taker.Quantity -= qty
			trades = append(trades, newTrade(taker, maker, qty, price, tick))
		}

		if taker.Quantity > 0 {
			// Not enough liquidity; the remainder is discarded.
			taker.Status = common.Cancelled
			discarded = append(discarded, taker)
		} else {
			taker.Status = common.Filled
		}
		b.Drop(taker)
	}
	return trades, discarded
}

// sweepLimit consumes crossing top-of-book orders in price-time priority.
// The execution price is the resting (earlier-arrived) order's limit
// price, so the book's standing price wins.
func (e *Engine) sweepLimit(b *book.OrderBook, tick int64, trades []common.Trade) []common.Trade {
	for {
		bid, bok := b.Front(common.Buy)
		ask, aok := b.Front(common.Sell)
		if !bok || !aok || bid.LimitPrice.LessThan(ask.LimitPrice) {
			break
		}

		qty := min(bid.Quantity, ask.Quantity)
		price := ask.LimitPrice
		if bid.Arrival < ask.Arrival {
			price = bid.LimitPrice
		}

		b.Fill(bid, qty)
		b.Fill(ask, qty)
		trades = append(trades, newTrade(bid, ask, qty, price, tick))
	}
	return trades
}

// newTrade builds the trade record for a match. Exactly one of the two
// orders is the buy side.
func newTrade(a, b *common.Order, qty int64, price decimal.Decimal, tick int64) common.Trade {
	buy, sell := a, b
	if a.Side == common.Sell {
		buy, sell = b, a
	}
	return common.Trade{
		ID:          uuid.New().String(),
		Symbol:      buy.Symbol,
		BuyerID:     buy.TraderID,
		SellerID:    sell.TraderID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Quantity:    qty,
		Price:       price,
		Tick:        tick,
	}
}
