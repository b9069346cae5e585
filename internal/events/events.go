package events

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Kind enumerates every state transition the engine reports. Downstream
// logging and analysis consume these; the engine does no formatting or
// storage of its own beyond emitting them.
type Kind string

const (
	OrderAdmitted   Kind = "order_admitted"
	OrderRejected   Kind = "order_rejected"
	OrderCancelled  Kind = "order_cancelled"
	StopActivated   Kind = "stop_activated"
	TradeSettled    Kind = "trade_settled"
	ProviderTimeout Kind = "provider_timeout"
	ProviderError   Kind = "provider_error"
	SettlementFault Kind = "settlement_fault"
	TickCompleted   Kind = "tick_completed"
)

// Event is one structured state transition. Seq is monotonic across the
// whole run; Tick is the simulated clock.
type Event struct {
	Seq      uint64    `json:"seq"`
	Tick     int64     `json:"tick"`
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
	TraderID string    `json:"trader_id,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	TradeID  string    `json:"trade_id,omitempty"`
	Symbol   string    `json:"symbol,omitempty"`
	Quantity int64     `json:"quantity,omitempty"`
	Price    string    `json:"price,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Sink consumes events. Sinks must not block the tick loop for long;
// they run inline on the orchestrator's sequential phases.
type Sink interface {
	Emit(Event)
}

// Bus assigns sequence numbers and timestamps, then fans events out to
// its sinks. A Bus with no sinks is valid and drops everything.
type Bus struct {
	seq   atomic.Uint64
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Attach(s Sink) {
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Emit(e Event) {
	e.Seq = b.seq.Add(1)
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, s := range b.sinks {
		s.Emit(e)
	}
}

// LoggerSink writes each event as a structured zerolog line.
type LoggerSink struct {
	log zerolog.Logger
}

func NewLoggerSink(log zerolog.Logger) *LoggerSink {
	return &LoggerSink{log: log}
}

func (s *LoggerSink) Emit(e Event) {
	ev := s.log.Info()
	if e.Kind == SettlementFault {
		ev = s.log.Error()
	}
	ev = ev.
		Uint64("seq", e.Seq).
		Int64("tick", e.Tick).
		Str("kind", string(e.Kind))
	if e.TraderID != "" {
		ev = ev.Str("trader", e.TraderID)
	}
	if e.OrderID != "" {
		ev = ev.Str("order", e.OrderID)
	}
	if e.TradeID != "" {
		ev = ev.Str("trade", e.TradeID)
	}
	if e.Symbol != "" {
		ev = ev.Str("symbol", e.Symbol)
	}
	if e.Quantity != 0 {
		ev = ev.Int64("qty", e.Quantity)
	}
	if e.Price != "" {
		ev = ev.Str("price", e.Price)
	}
	if e.Reason != "" {
		ev = ev.Str("reason", e.Reason)
	}
	ev.Msg("market event")
}
