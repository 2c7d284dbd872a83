package engine

import "time"

type EventType int

const (
	EventOrderQueued EventType = iota
	EventOrderFilled
	EventOrderShrunk
	EventOrderDropped
	EventCloseSkipped
	EventStrategyError
)

func (t EventType) String() string {
	switch t {
	case EventOrderQueued:
		return "order_queued"
	case EventOrderFilled:
		return "order_filled"
	case EventOrderShrunk:
		return "order_shrunk"
	case EventOrderDropped:
		return "order_dropped"
	case EventCloseSkipped:
		return "close_skipped"
	case EventStrategyError:
		return "strategy_error"
	default:
		return "unknown"
	}
}

// Event records one observable engine decision. The silent business
// rules (order shrinking, skipped closes) surface here so runs stay
// debuggable without changing the functional contract.
type Event struct {
	Ts      time.Time
	Type    EventType
	Symbol  string
	Details map[string]string
}

// EventLog is the append-only per-run event stream.
type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }
