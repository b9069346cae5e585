package book

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"aegir/internal/common"
)

var (
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrInvalidPrice   = errors.New("order price must be positive")
	ErrInvalidQty     = errors.New("order quantity must be positive")
	ErrNotFound       = errors.New("order not found")
	ErrWrongBook      = errors.New("order symbol does not match book")
)

// priceLevel holds the FIFO queue of resting orders at one price. Orders
// are appended on admission, so slice order is time priority.
type priceLevel struct {
	price  decimal.Decimal
	orders []*common.Order
}

type priceLevels = btree.BTreeG[*priceLevel]

// OrderBook is the resting state for a single symbol: two price-sorted
// level trees, per-side FIFO queues of pending market orders, and the
// dormant stop set. The book itself performs no matching; the matching
// engine drives it through Front/Fill/TakeMarket.
type OrderBook struct {
	symbol string

	bids *priceLevels
	asks *priceLevels

	// Market orders queue here between admission and the tick's sweep.
	// They never enter the level trees.
	market []*common.Order

	// Dormant stop orders, keyed by order id. An order leaves this set
	// exactly once, on its first qualifying trigger.
	stops map[string]*common.Order

	// Index of every order the book currently holds, for duplicate
	// detection and O(1) cancel routing.
	index map[string]*common.Order

	// Admission sequence. Assigned once per Add; ties at a price level
	// break on this, never on wall-clock time.
	arrival uint64
}

func New(symbol string) *OrderBook {
	// Bids sorted greatest first, asks least first, so Min is always the
	// best level on both trees.
	bids := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price.GreaterThan(b.price)
	})
	asks := btree.NewBTreeG(func(a, b *priceLevel) bool {
		return a.price.LessThan(b.price)
	})
	return &OrderBook{
		symbol: symbol,
		bids:   bids,
		asks:   asks,
		stops:  make(map[string]*common.Order),
		index:  make(map[string]*common.Order),
	}
}

func (b *OrderBook) Symbol() string { return b.symbol }

// Add admits an order to the book: LIMIT orders rest at their price
// level, MARKET orders queue for the next sweep, STOP orders enter the
// dormant set. The order's Arrival sequence is assigned here.
func (b *OrderBook) Add(order *common.Order) error {
	if order.Symbol != b.symbol {
		return ErrWrongBook
	}
	if _, ok := b.index[order.ID]; ok {
		return ErrDuplicateOrder
	}
	if order.Quantity <= 0 {
		return ErrInvalidQty
	}

	switch order.Kind {
	case common.LimitOrder:
		if !order.LimitPrice.IsPositive() {
			return ErrInvalidPrice
		}
	case common.StopOrder:
		if !order.StopPrice.IsPositive() {
			return ErrInvalidPrice
		}
		// A stop may carry a limit price for its activated form.
		if !order.LimitPrice.IsZero() && !order.LimitPrice.IsPositive() {
			return ErrInvalidPrice
		}
	case common.MarketOrder:
	default:
		return ErrInvalidPrice
	}

	b.arrival++
	order.Arrival = b.arrival
	b.index[order.ID] = order

	switch order.Kind {
	case common.MarketOrder:
		b.market = append(b.market, order)
	case common.StopOrder:
		b.stops[order.ID] = order
	default:
		b.restLimit(order)
	}
	return nil
}

// restLimit appends the order to its price level, creating the level if
// it does not exist yet.
func (b *OrderBook) restLimit(order *common.Order) {
	levels := b.sideLevels(order.Side)
	level, ok := levels.GetMut(&priceLevel{price: order.LimitPrice})
	if ok {
		level.orders = append(level.orders, order)
		return
	}
	levels.Set(&priceLevel{
		price:  order.LimitPrice,
		orders: []*common.Order{order},
	})
}

func (b *OrderBook) sideLevels(side common.Side) *priceLevels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// Cancel removes whatever remains of the order from the book. An order
// that already filled is gone from the index, so a cancel that lost the
// race to a sweep reports ErrNotFound; a partially filled order cancels
// only its resting remainder.
func (b *OrderBook) Cancel(orderID string) (*common.Order, error) {
	order, ok := b.index[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(b.index, orderID)

	switch order.Kind {
	case common.StopOrder:
		delete(b.stops, orderID)
	case common.MarketOrder:
		b.removeMarket(orderID)
	default:
		b.removeResting(order)
	}
	order.Status = common.Cancelled
	return order, nil
}

func (b *OrderBook) removeMarket(orderID string) {
	for i, o := range b.market {
		if o.ID == orderID {
			b.market = append(b.market[:i], b.market[i+1:]...)
			return
		}
	}
}

func (b *OrderBook) removeResting(order *common.Order) {
	levels := b.sideLevels(order.Side)
	level, ok := levels.GetMut(&priceLevel{price: order.LimitPrice})
	if !ok {
		return
	}
	for i, o := range level.orders {
		if o.ID == order.ID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		levels.Delete(level)
	}
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	level, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	level, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// Front returns the order at the head of the best price level on the
// given side: the next maker the matching engine would fill.
func (b *OrderBook) Front(side common.Side) (*common.Order, bool) {
	level, ok := b.sideLevels(side).MinMut()
	if !ok {
		return nil, false
	}
	// Levels are deleted when their last order leaves, so a present
	// level always has a front order.
	return level.orders[0], true
}

// TakeMarket pops the earliest-admitted pending market order, from either
// side. Returns false once the queue is drained.
func (b *OrderBook) TakeMarket() (*common.Order, bool) {
	if len(b.market) == 0 {
		return nil, false
	}
	order := b.market[0]
	b.market = b.market[1:]
	return order, true
}

// Drop removes a market order's remainder from the index once the sweep
// has discarded it. Resting orders leave through Fill or Cancel instead.
func (b *OrderBook) Drop(order *common.Order) {
	delete(b.index, order.ID)
}

// Fill decrements a resting order by qty, updating its status and
// removing it from the book when nothing remains. The matching engine
// only ever fills front-of-level orders.
func (b *OrderBook) Fill(order *common.Order, qty int64) {
	order.Quantity -= qty
	if order.Quantity > 0 {
		order.Status = common.PartiallyFilled
		return
	}
	order.Status = common.Filled
	delete(b.index, order.ID)
	b.removeResting(order)
}

// CheckStops triggers dormant stops against the last trade price: a BUY
// stop activates at last >= stop, a SELL stop at last <= stop. Triggered
// orders leave the dormant set (and the index) and are returned in
// admission order; the caller re-admits them as live limit or market
// orders. An order that leaves here can never trigger again.
func (b *OrderBook) CheckStops(lastTradePrice decimal.Decimal) []*common.Order {
	var triggered []*common.Order
	for id, order := range b.stops {
		fire := false
		switch order.Side {
		case common.Buy:
			fire = lastTradePrice.GreaterThanOrEqual(order.StopPrice)
		case common.Sell:
			fire = lastTradePrice.LessThanOrEqual(order.StopPrice)
		}
		if !fire {
			continue
		}
		delete(b.stops, id)
		delete(b.index, id)
		if order.LimitPrice.IsPositive() {
			order.Kind = common.LimitOrder
		} else {
			order.Kind = common.MarketOrder
		}
		triggered = append(triggered, order)
	}
	// Map iteration order is random; re-admission order must not be.
	sort.Slice(triggered, func(i, j int) bool {
		return triggered[i].Arrival < triggered[j].Arrival
	})
	return triggered
}

// Crossed reports whether best bid >= best ask. A sweep must never leave
// the book in this state.
func (b *OrderBook) Crossed() bool {
	bid, bok := b.BestBid()
	ask, aok := b.BestAsk()
	return bok && aok && bid.GreaterThanOrEqual(ask)
}

// PendingMarket reports how many market orders await the next sweep.
func (b *OrderBook) PendingMarket() int { return len(b.market) }

// Holds reports whether the book currently holds the order in any of its
// structures.
func (b *OrderBook) Holds(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}
