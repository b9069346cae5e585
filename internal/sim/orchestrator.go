package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"aegir/internal/account"
	"aegir/internal/common"
	"aegir/internal/engine"
	"aegir/internal/events"
	"aegir/internal/metrics"
)

var (
	ErrDecisionTimeout = errors.New("decision provider exceeded its budget")
	ErrUnknownTrader   = errors.New("unknown trader")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrDuplicateTrader = errors.New("trader already registered")
)

const (
	defaultDecisionTimeout = 250 * time.Millisecond
	defaultDepthLevels     = 5
	defaultRecentTrades    = 20
)

// Config is the orchestrator's construction-time tuning. It is plain
// data; loading it from a file is the caller's concern.
type Config struct {
	Ticks           int64
	DecisionTimeout time.Duration
	AllowShort      bool
	AllowMargin     bool
	DepthLevels     int
	RecentTrades    int
}

func (c Config) withDefaults() Config {
	if c.DecisionTimeout <= 0 {
		// A zero timeout would expire every provider's context before it
		// ever ran.
		c.DecisionTimeout = defaultDecisionTimeout
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = defaultDepthLevels
	}
	if c.RecentTrades <= 0 {
		c.RecentTrades = defaultRecentTrades
	}
	return c
}

// Trader is a registered participant: identity, portfolio, information
// tier, and the external provider deciding for it.
type Trader struct {
	ID        string
	Tier      common.InfoTier
	Portfolio *account.Portfolio
	Provider  DecisionProvider

	orderSeq uint64
}

func (t *Trader) nextOrderID() string {
	t.orderSeq++
	return fmt.Sprintf("%s-%d", t.ID, t.orderSeq)
}

// TickSummary is the per-tick report surfaced to logs and metrics.
type TickSummary struct {
	Tick             int64
	Admitted         int
	Rejected         int
	Cancelled        int
	StopsActivated   int
	Trades           int
	Volume           int64
	ProviderTimeouts int
	ProviderErrors   int
	SettlementFaults int
}

// Orchestrator owns all mutable simulation state and drives the tick
// loop: gather decisions concurrently, then validate, activate stops,
// match, settle and advance the clock sequentially. Nothing else mutates
// the books or portfolios, so the sequential phases need no locking.
type Orchestrator struct {
	cfg     Config
	engine  *engine.Engine
	ledger  *account.Ledger
	assets  map[string]*common.Asset
	traders []*Trader // registration order fixes admission order
	byID    map[string]*Trader
	bus     *events.Bus
	metrics *metrics.Metrics

	tick      int64
	lastTrade map[string]decimal.Decimal // symbols that have printed
	recent    []common.Trade             // ring of latest settled trades
}

func New(cfg Config, bus *events.Bus, m *metrics.Metrics) *Orchestrator {
	if bus == nil {
		bus = events.NewBus()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		engine:    engine.New(),
		ledger:    &account.Ledger{AllowShort: cfg.AllowShort, AllowMargin: cfg.AllowMargin},
		assets:    make(map[string]*common.Asset),
		byID:      make(map[string]*Trader),
		bus:       bus,
		metrics:   m,
		lastTrade: make(map[string]decimal.Decimal),
	}
}

// AddAsset registers a tradable asset and opens its book.
func (o *Orchestrator) AddAsset(asset common.Asset) *common.Asset {
	a := asset
	o.assets[a.Symbol] = &a
	o.engine.AddBook(a.Symbol)
	return &a
}

// RegisterTrader adds a participant. Registration order is the admission
// order for the whole run; it never changes afterwards.
func (o *Orchestrator) RegisterTrader(id string, tier common.InfoTier, cash decimal.Decimal, provider DecisionProvider) (*Trader, error) {
	if _, ok := o.byID[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTrader, id)
	}
	tr := &Trader{
		ID:        id,
		Tier:      tier,
		Portfolio: account.NewPortfolio(id, cash),
		Provider:  provider,
	}
	o.traders = append(o.traders, tr)
	o.byID[id] = tr
	return tr, nil
}

// Tick reports the current simulated clock.
func (o *Orchestrator) Tick() int64 { return o.tick }

// Asset returns the live asset record.
func (o *Orchestrator) Asset(symbol string) (*common.Asset, bool) {
	a, ok := o.assets[symbol]
	return a, ok
}

// Trader returns a registered participant.
func (o *Orchestrator) Trader(id string) (*Trader, bool) {
	t, ok := o.byID[id]
	return t, ok
}

// Run drives the simulation for the configured tick count. It returns
// early on context cancellation or on a settlement invariant violation;
// rejections, timeouts and provider errors never stop the run.
func (o *Orchestrator) Run(ctx context.Context) error {
	for i := int64(0); i < o.cfg.Ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary, err := o.RunTick(ctx)
		if err != nil {
			return fmt.Errorf("tick %d: %w", o.tick, err)
		}
		log.Info().
			Int64("tick", summary.Tick).
			Int("admitted", summary.Admitted).
			Int("rejected", summary.Rejected).
			Int("cancelled", summary.Cancelled).
			Int("stops", summary.StopsActivated).
			Int("trades", summary.Trades).
			Int64("volume", summary.Volume).
			Int("timeouts", summary.ProviderTimeouts).
			Int("provider_errors", summary.ProviderErrors).
			Msg("tick complete")
	}
	o.logPerformance()
	return nil
}

// RunTick advances the clock and executes one pass of the tick state
// machine. Exported so tests and external drivers can step the
// simulation manually.
func (o *Orchestrator) RunTick(ctx context.Context) (TickSummary, error) {
	o.tick++
	summary := TickSummary{Tick: o.tick}

	// AwaitingDecisions: the only concurrent phase.
	results := o.gatherDecisions(ctx)

	// ValidatingOrders: strictly in registration order.
	o.admitDecisions(results, &summary)

	// ActivatingStops: against the last trade price recorded at the end
	// of the previous tick.
	o.activateStops(&summary)

	// Matching + Settling, one sweep per asset in registration order.
	for _, symbol := range o.engine.Symbols() {
		trades, discarded, err := o.engine.Sweep(symbol, o.tick)
		if err != nil {
			return summary, err
		}
		if err := o.settle(trades, &summary); err != nil {
			return summary, err
		}
		// Escrow release must follow settlement: a discarded market
		// order's fills consume their share of the hold first.
		for _, order := range discarded {
			o.releaseDiscarded(order)
		}
	}

	// AdvancingClock.
	o.accrueDividends()
	o.metrics.CurrentTick.Set(float64(o.tick))
	o.bus.Emit(events.Event{
		Tick:     o.tick,
		Kind:     events.TickCompleted,
		Quantity: int64(summary.Trades),
	})
	return summary, nil
}

type decisionResult struct {
	actions []common.Action
	err     error
}

// gatherDecisions fans out to every provider concurrently. Each call gets
// the same deadline; a provider that overruns it is abandoned (its
// goroutine may finish later into a buffered channel) and contributes
// nothing. Results land in registration slots, so completion order is
// irrelevant to everything downstream.
func (o *Orchestrator) gatherDecisions(ctx context.Context) []decisionResult {
	results := make([]decisionResult, len(o.traders))
	t, ctx := tomb.WithContext(ctx)
	for i, tr := range o.traders {
		i, tr := i, tr // pre-1.22 loop variable capture
		snap := o.snapshotFor(tr)
		t.Go(func() error {
			start := time.Now()
			actions, err := o.decide(ctx, tr.Provider, snap)
			o.metrics.DecisionLatency.Observe(time.Since(start).Seconds())
			results[i] = decisionResult{actions: actions, err: err}
			return nil
		})
	}
	// Workers only ever return nil; Wait just joins them.
	_ = t.Wait()
	return results
}

// decide runs one provider under the per-tick budget, converting panics
// into provider errors.
func (o *Orchestrator) decide(ctx context.Context, provider DecisionProvider, snap Snapshot) ([]common.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DecisionTimeout)
	defer cancel()

	type outcome struct {
		actions []common.Action
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		actions, err := provider.Decide(ctx, snap)
		done <- outcome{actions: actions, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ErrDecisionTimeout
	case out := <-done:
		return out.actions, out.err
	}
}

// admitDecisions processes every trader's actions in registration order.
// Each action is validated and admitted (or rejected) individually; one
// bad action never voids the rest of that provider's tick.
func (o *Orchestrator) admitDecisions(results []decisionResult, summary *TickSummary) {
	for i, tr := range o.traders {
		res := results[i]
		if res.err != nil {
			kind := events.ProviderError
			if errors.Is(res.err, ErrDecisionTimeout) || errors.Is(res.err, context.DeadlineExceeded) {
				kind = events.ProviderTimeout
				summary.ProviderTimeouts++
				o.metrics.ProviderTimeouts.Inc()
			} else {
				summary.ProviderErrors++
				o.metrics.ProviderErrors.Inc()
			}
			o.bus.Emit(events.Event{
				Tick:     o.tick,
				Kind:     kind,
				TraderID: tr.ID,
				Reason:   res.err.Error(),
			})
			continue
		}
		for _, action := range res.actions {
			o.admitAction(tr, action, summary)
		}
	}
}

func (o *Orchestrator) admitAction(tr *Trader, action common.Action, summary *TickSummary) {
	if err := action.Validate(); err != nil {
		o.reject(tr, "", action.Symbol, err, summary)
		return
	}
	if action.Kind == common.ActionCancel {
		o.cancelOrder(tr, action.CancelID, summary)
		return
	}

	asset, ok := o.assets[action.Symbol]
	if !ok {
		o.reject(tr, "", action.Symbol, ErrUnknownSymbol, summary)
		return
	}
	b, err := o.engine.Book(action.Symbol)
	if err != nil {
		o.reject(tr, "", action.Symbol, err, summary)
		return
	}

	order := &common.Order{
		ID:            tr.nextOrderID(),
		TraderID:      tr.ID,
		Symbol:        action.Symbol,
		Side:          action.Side(),
		Kind:          action.OrderKind,
		Quantity:      action.Quantity,
		TotalQuantity: action.Quantity,
		LimitPrice:    action.LimitPrice,
		StopPrice:     action.StopPrice,
		SubmittedTick: o.tick,
		Status:        common.Pending,
	}

	// Reference price for market buys: top of the opposite book, falling
	// back to the last print. The notional reserved against it becomes
	// the order's spending cap, so a sweep through deeper levels can
	// never outrun the escrow.
	refPrice := decimal.Zero
	if order.Side == common.Buy && order.Kind == common.MarketOrder {
		if ask, ok := b.BestAsk(); ok {
			refPrice = ask
		} else if last, ok := o.lastTrade[order.Symbol]; ok {
			refPrice = last
		} else {
			refPrice = asset.CurrentPrice
		}
	}

	if err := tr.Portfolio.Reserve(order, refPrice, o.cfg.AllowShort); err != nil {
		order.Status = common.Rejected
		o.reject(tr, order.ID, order.Symbol, err, summary)
		return
	}
	if err := b.Add(order); err != nil {
		tr.Portfolio.Release(order.ID)
		order.Status = common.Rejected
		o.reject(tr, order.ID, order.Symbol, err, summary)
		return
	}

	summary.Admitted++
	o.metrics.OrdersAdmitted.Inc()
	o.bus.Emit(events.Event{
		Tick:     o.tick,
		Kind:     events.OrderAdmitted,
		TraderID: tr.ID,
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Quantity: order.Quantity,
		Price:    priceString(order),
	})
}

func (o *Orchestrator) cancelOrder(tr *Trader, orderID string, summary *TickSummary) {
	order, ok := tr.Portfolio.Pending(orderID)
	if !ok || order.TraderID != tr.ID {
		o.reject(tr, orderID, "", fmt.Errorf("cancel %s: %w", orderID, errNotPending), summary)
		return
	}
	b, err := o.engine.Book(order.Symbol)
	if err != nil {
		o.reject(tr, orderID, order.Symbol, err, summary)
		return
	}
	// The book may have filled the order already this tick; only the
	// resting remainder is cancelled, and only that escrow is released.
	if _, err := b.Cancel(orderID); err != nil {
		o.reject(tr, orderID, order.Symbol, err, summary)
		return
	}
	tr.Portfolio.Release(orderID)

	summary.Cancelled++
	o.metrics.OrdersCancelled.Inc()
	o.bus.Emit(events.Event{
		Tick:     o.tick,
		Kind:     events.OrderCancelled,
		TraderID: tr.ID,
		OrderID:  orderID,
		Symbol:   order.Symbol,
		Quantity: order.Quantity,
	})
}

var errNotPending = errors.New("order is not pending")

func (o *Orchestrator) reject(tr *Trader, orderID, symbol string, reason error, summary *TickSummary) {
	summary.Rejected++
	o.metrics.OrdersRejected.Inc()
	o.bus.Emit(events.Event{
		Tick:     o.tick,
		Kind:     events.OrderRejected,
		TraderID: tr.ID,
		OrderID:  orderID,
		Symbol:   symbol,
		Reason:   reason.Error(),
	})
}

// activateStops triggers dormant stops against each symbol's last trade
// print. Symbols that have never traded are skipped; the initial quote is
// not a print.
func (o *Orchestrator) activateStops(summary *TickSummary) {
	for _, symbol := range o.engine.Symbols() {
		last, ok := o.lastTrade[symbol]
		if !ok {
			continue
		}
		b, err := o.engine.Book(symbol)
		if err != nil {
			continue
		}
		for _, order := range b.CheckStops(last) {
			// Re-admission gives the activated order a fresh arrival
			// sequence; it queues behind orders already resting.
			if err := b.Add(order); err != nil {
				o.byID[order.TraderID].Portfolio.Release(order.ID)
				order.Status = common.Rejected
				o.reject(o.byID[order.TraderID], order.ID, symbol, err, summary)
				continue
			}
			summary.StopsActivated++
			o.metrics.StopsActivated.Inc()
			o.bus.Emit(events.Event{
				Tick:     o.tick,
				Kind:     events.StopActivated,
				TraderID: order.TraderID,
				OrderID:  order.ID,
				Symbol:   symbol,
				Quantity: order.Quantity,
				Price:    order.StopPrice.String(),
			})
		}
	}
}

// settle applies each trade to both counterparties and moves the asset's
// price to the print. A settlement fault aborts the phase: by then the
// conservation invariant may already be broken, so it surfaces loudly
// instead of being absorbed.
func (o *Orchestrator) settle(trades []common.Trade, summary *TickSummary) error {
	for _, trade := range trades {
		buyer, ok := o.byID[trade.BuyerID]
		if !ok {
			return fmt.Errorf("%w: buyer %s", ErrUnknownTrader, trade.BuyerID)
		}
		seller, ok := o.byID[trade.SellerID]
		if !ok {
			return fmt.Errorf("%w: seller %s", ErrUnknownTrader, trade.SellerID)
		}

		if err := o.ledger.Apply(trade, buyer.Portfolio, seller.Portfolio); err != nil {
			summary.SettlementFaults++
			o.metrics.SettlementFaults.Inc()
			o.bus.Emit(events.Event{
				Tick:    o.tick,
				Kind:    events.SettlementFault,
				TradeID: trade.ID,
				Symbol:  trade.Symbol,
				Reason:  err.Error(),
			})
			return err
		}

		o.assets[trade.Symbol].CurrentPrice = trade.Price
		o.lastTrade[trade.Symbol] = trade.Price
		o.pushRecent(trade)

		summary.Trades++
		summary.Volume += trade.Quantity
		o.metrics.TradesSettled.Inc()
		o.bus.Emit(events.Event{
			Tick:     o.tick,
			Kind:     events.TradeSettled,
			TradeID:  trade.ID,
			Symbol:   trade.Symbol,
			Quantity: trade.Quantity,
			Price:    trade.Price.String(),
		})
	}
	return nil
}

// releaseDiscarded frees the escrow behind a market order's unfilled
// remainder and reports the discard.
func (o *Orchestrator) releaseDiscarded(order *common.Order) {
	tr, ok := o.byID[order.TraderID]
	if !ok {
		return
	}
	tr.Portfolio.Release(order.ID)
	o.bus.Emit(events.Event{
		Tick:     o.tick,
		Kind:     events.OrderCancelled,
		TraderID: order.TraderID,
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Quantity: order.Quantity,
		Reason:   "market order remainder discarded",
	})
}

// accrueDividends credits each portfolio's positions with the per-tick
// dividend. Short positions pay it.
func (o *Orchestrator) accrueDividends() {
	for _, symbol := range o.engine.Symbols() {
		asset := o.assets[symbol]
		perShare := asset.DividendPerShare()
		if perShare.IsZero() {
			continue
		}
		for _, tr := range o.traders {
			qty := tr.Portfolio.Positions[symbol].Quantity
			if qty == 0 {
				continue
			}
			tr.Portfolio.Credit(perShare.Mul(decimal.NewFromInt(qty)))
		}
	}
}

func (o *Orchestrator) pushRecent(trade common.Trade) {
	o.recent = append(o.recent, trade)
	if len(o.recent) > o.cfg.RecentTrades {
		o.recent = o.recent[len(o.recent)-o.cfg.RecentTrades:]
	}
}

// snapshotFor builds the immutable view one provider sees this tick.
func (o *Orchestrator) snapshotFor(tr *Trader) Snapshot {
	snap := Snapshot{
		Tick:      o.tick,
		Tier:      tr.Tier,
		Portfolio: newPortfolioView(tr.Portfolio),
	}
	for _, symbol := range o.engine.Symbols() {
		asset := o.assets[symbol]
		b, err := o.engine.Book(symbol)
		if err != nil {
			continue
		}
		view := AssetView{
			Symbol:        symbol,
			LastPrice:     asset.CurrentPrice,
			DividendYield: asset.DividendYield,
			Volatility:    asset.Volatility,
			Depth:         b.Depth(o.cfg.DepthLevels),
		}
		if tr.Tier >= common.TierInsider {
			view.Fundamental = asset.FundamentalValue
		}
		snap.Assets = append(snap.Assets, view)
	}
	snap.RecentTrades = append(snap.RecentTrades, o.recent...)
	return snap
}

// logPerformance reports each trader's final standing.
func (o *Orchestrator) logPerformance() {
	prices := make(map[string]decimal.Decimal, len(o.assets))
	for symbol, asset := range o.assets {
		prices[symbol] = asset.CurrentPrice
	}
	for _, tr := range o.traders {
		log.Info().
			Str("trader", tr.ID).
			Str("cash", tr.Portfolio.Cash.String()).
			Str("equity", tr.Portfolio.Equity(prices).String()).
			Str("realized_pnl", tr.Portfolio.RealizedPnL.String()).
			Msg("final standing")
	}
}

func priceString(order *common.Order) string {
	switch {
	case order.LimitPrice.IsPositive():
		return order.LimitPrice.String()
	case order.StopPrice.IsPositive():
		return order.StopPrice.String()
	default:
		return ""
	}
}
