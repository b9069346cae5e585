package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegir/internal/common"
)

// --- Setup & Helpers --------------------------------------------------------

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func place(t *testing.T, e *Engine, o *common.Order) {
	t.Helper()
	b, err := e.Book(o.Symbol)
	require.NoError(t, err)
	require.NoError(t, b.Add(o))
}

func limit(id, trader string, side common.Side, qty int64, price string) *common.Order {
	return &common.Order{
		ID:            id,
		TraderID:      trader,
		Symbol:        "AEG",
		Side:          side,
		Kind:          common.LimitOrder,
		Quantity:      qty,
		TotalQuantity: qty,
		LimitPrice:    d(price),
		Status:        common.Pending,
	}
}

func market(id, trader string, side common.Side, qty int64) *common.Order {
	return &common.Order{
		ID:            id,
		TraderID:      trader,
		Symbol:        "AEG",
		Side:          side,
		Kind:          common.MarketOrder,
		Quantity:      qty,
		TotalQuantity: qty,
		Status:        common.Pending,
	}
}

// --- Limit matching ---------------------------------------------------------

func TestSweep_ExactCross(t *testing.T) {
	e := New("AEG")
	buy := limit("b1", "alice", common.Buy, 100, "100.00")
	sell := limit("s1", "bob", common.Sell, 100, "100.00")
	place(t, e, buy)
	place(t, e, sell)

	trades, discarded, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	assert.Empty(t, discarded)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, int64(100), trade.Quantity)
	assert.True(t, trade.Price.Equal(d("100.00")))
	assert.Equal(t, "alice", trade.BuyerID)
	assert.Equal(t, "bob", trade.SellerID)
	assert.Equal(t, "b1", trade.BuyOrderID)
	assert.Equal(t, "s1", trade.SellOrderID)
	assert.Equal(t, int64(1), trade.Tick)

	assert.Equal(t, common.Filled, buy.Status)
	assert.Equal(t, common.Filled, sell.Status)

	b, _ := e.Book("AEG")
	_, hasBid := b.BestBid()
	_, hasAsk := b.BestAsk()
	assert.False(t, hasBid)
	assert.False(t, hasAsk)
}

func TestSweep_PartialFills(t *testing.T) {
	e := New("AEG")
	place(t, e, limit("s1", "bob", common.Sell, 40, "100"))
	place(t, e, limit("s2", "carol", common.Sell, 60, "100"))
	buy := limit("b1", "alice", common.Buy, 100, "100")
	place(t, e, buy)

	trades, _, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	var total int64
	for _, tr := range trades {
		total += tr.Quantity
	}
	assert.Equal(t, int64(100), total)
	assert.Equal(t, int64(40), trades[0].Quantity)
	assert.Equal(t, int64(60), trades[1].Quantity)
	assert.Equal(t, int64(0), buy.Quantity)
	assert.Equal(t, common.Filled, buy.Status)
}

func TestSweep_PriceTimePriority(t *testing.T) {
	e := New("AEG")
	first := limit("s-first", "bob", common.Sell, 50, "100")
	second := limit("s-second", "carol", common.Sell, 50, "100")
	place(t, e, first)
	place(t, e, second)
	place(t, e, limit("b1", "alice", common.Buy, 50, "100"))

	trades, _, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "s-first", trades[0].SellOrderID)
	assert.Equal(t, common.Filled, first.Status)
	assert.Equal(t, common.Pending, second.Status)
}

func TestSweep_RestingPriceWins(t *testing.T) {
	// Resting ask at 100, aggressive bid at 105: executes at 100.
	e := New("AEG")
	place(t, e, limit("s1", "bob", common.Sell, 10, "100"))
	place(t, e, limit("b1", "alice", common.Buy, 10, "105"))

	trades, _, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("100")))

	// Resting bid at 105, aggressive ask at 100: executes at 105.
	e2 := New("AEG")
	place(t, e2, limit("b1", "alice", common.Buy, 10, "105"))
	place(t, e2, limit("s1", "bob", common.Sell, 10, "100"))

	trades, _, err = e2.Sweep("AEG", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("105")))
}

func TestSweep_NeverLeavesCrossed(t *testing.T) {
	e := New("AEG")
	place(t, e, limit("b1", "alice", common.Buy, 30, "102"))
	place(t, e, limit("b2", "alice", common.Buy, 40, "101"))
	place(t, e, limit("s1", "bob", common.Sell, 25, "100"))
	place(t, e, limit("s2", "bob", common.Sell, 25, "101"))

	_, _, err := e.Sweep("AEG", 1)
	require.NoError(t, err)

	b, _ := e.Book("AEG")
	assert.False(t, b.Crossed())
}

// --- Market orders ----------------------------------------------------------

func TestSweep_MarketTakesRestingPrice(t *testing.T) {
	e := New("AEG")
	place(t, e, limit("s1", "bob", common.Sell, 30, "100"))
	place(t, e, limit("s2", "bob", common.Sell, 30, "101"))
	mkt := market("m1", "alice", common.Buy, 50)
	place(t, e, mkt)

	trades, discarded, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	assert.Empty(t, discarded)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Price.Equal(d("100")))
	assert.Equal(t, int64(30), trades[0].Quantity)
	assert.True(t, trades[1].Price.Equal(d("101")))
	assert.Equal(t, int64(20), trades[1].Quantity)
	assert.Equal(t, common.Filled, mkt.Status)
}

func TestSweep_MarketRemainderDiscarded(t *testing.T) {
	e := New("AEG")
	place(t, e, limit("s1", "bob", common.Sell, 30, "100"))
	mkt := market("m1", "alice", common.Buy, 50)
	place(t, e, mkt)

	trades, discarded, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(30), trades[0].Quantity)

	require.Len(t, discarded, 1)
	assert.Equal(t, "m1", discarded[0].ID)
	assert.Equal(t, int64(20), discarded[0].Quantity)
	assert.Equal(t, common.Cancelled, discarded[0].Status)

	// The remainder never rests anywhere.
	b, _ := e.Book("AEG")
	assert.False(t, b.Holds("m1"))
	assert.Equal(t, 0, b.PendingMarket())
	_, hasBid := b.BestBid()
	assert.False(t, hasBid)
}

func TestSweep_MarketBudgetCapsSpend(t *testing.T) {
	// Asks at two levels; the buy's budget covers the whole first level
	// but only half the second. The unaffordable quantity is discarded
	// like any other unfillable market remainder.
	e := New("AEG")
	place(t, e, limit("s1", "bob", common.Sell, 30, "100"))
	place(t, e, limit("s2", "carol", common.Sell, 20, "200"))
	mkt := market("m1", "alice", common.Buy, 50)
	mkt.Budget = d("5000")
	place(t, e, mkt)

	trades, discarded, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(30), trades[0].Quantity)
	assert.True(t, trades[0].Price.Equal(d("100")))
	assert.Equal(t, int64(10), trades[1].Quantity)
	assert.True(t, trades[1].Price.Equal(d("200")))

	var spent decimal.Decimal
	for _, tr := range trades {
		spent = spent.Add(tr.Notional())
	}
	assert.True(t, spent.Equal(d("5000")))

	require.Len(t, discarded, 1)
	assert.Equal(t, int64(10), discarded[0].Quantity)
	assert.Equal(t, common.Cancelled, discarded[0].Status)

	// The half-taken second level still rests.
	b, _ := e.Book("AEG")
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(d("200")))
}

func TestSweep_MarketBudgetTooSmallForFront(t *testing.T) {
	e := New("AEG")
	place(t, e, limit("s1", "bob", common.Sell, 10, "100"))
	mkt := market("m1", "alice", common.Buy, 10)
	mkt.Budget = d("50")
	place(t, e, mkt)

	trades, discarded, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	assert.Empty(t, trades)
	require.Len(t, discarded, 1)
	assert.Equal(t, int64(10), discarded[0].Quantity)
}

func TestSweep_MarketAgainstEmptyBook(t *testing.T) {
	e := New("AEG")
	mkt := market("m1", "alice", common.Sell, 50)
	place(t, e, mkt)

	trades, discarded, err := e.Sweep("AEG", 1)
	require.NoError(t, err)
	assert.Empty(t, trades)
	require.Len(t, discarded, 1)
	assert.Equal(t, int64(50), discarded[0].Quantity)
}

func TestSweep_UnknownSymbol(t *testing.T) {
	e := New("AEG")
	_, _, err := e.Sweep("RUN", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}
