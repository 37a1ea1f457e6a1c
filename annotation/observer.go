package annotation

import (
	"log/slog"
	"time"
)

// EventKind names something the engine did.
type EventKind string

const (
	EventOverlayRebuilt   EventKind = "overlay_rebuilt"
	EventSpanRemapped     EventKind = "span_remapped"
	EventAnchorUnresolved EventKind = "anchor_unresolved"
	EventDegenerateSpan   EventKind = "degenerate_span"
	EventActionApplied    EventKind = "action_applied"
	EventWriteBack        EventKind = "write_back"
	EventWriteBackFailed  EventKind = "write_back_failed"
)

// Event is emitted by the engine as it reconciles. Fields that do not apply to a kind are zero.
type Event struct {
	Kind     EventKind
	Replica  string
	ID       string
	From     int
	To       int
	Spans    int
	Action   ActionType
	Duration time.Duration
	Err      error
}

// Observer receives engine events. Observers run synchronously on the reconciling goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// LogObserver writes events to logger. Degenerate spans, unresolved anchors and failed
// write-backs log at warn; everything else at debug.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ev Event) {
		attrs := []any{slog.String("replica", ev.Replica)}
		if ev.ID != "" {
			attrs = append(attrs, slog.String("id", ev.ID))
		}
		switch ev.Kind {
		case EventOverlayRebuilt, EventWriteBack:
			attrs = append(attrs, slog.Int("spans", ev.Spans), slog.Duration("took", ev.Duration))
		case EventSpanRemapped, EventDegenerateSpan:
			attrs = append(attrs, slog.Int("from", ev.From), slog.Int("to", ev.To))
		case EventActionApplied:
			attrs = append(attrs, slog.String("action", string(ev.Action)))
		}
		if ev.Err != nil {
			attrs = append(attrs, slog.String("error", ev.Err.Error()))
		}

		switch ev.Kind {
		case EventDegenerateSpan, EventAnchorUnresolved, EventWriteBackFailed:
			logger.Warn(string(ev.Kind), attrs...)
		default:
			logger.Debug(string(ev.Kind), attrs...)
		}
	})
}
