package annotation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	overlayRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotation_overlay_rebuilds_total",
		Help: "Overlay rebuilds from the annotation store",
	}, []string{"replica"})

	rebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "annotation_rebuild_duration_seconds",
		Help:    "Time spent rebuilding the overlay",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})

	spansRemapped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotation_spans_remapped_total",
		Help: "Spans moved by local edits",
	}, []string{"replica"})

	// Labels: "unresolved", "degenerate"
	spansDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotation_spans_dropped_total",
		Help: "Spans excluded from the overlay by reason",
	}, []string{"replica", "reason"})

	// Labels: "ok", "failed"
	writeBacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotation_writeback_batches_total",
		Help: "Batched anchor write-backs by result",
	}, []string{"replica", "result"})

	actionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotation_actions_total",
		Help: "Direct annotation actions by type",
	}, []string{"replica", "action"})
)

// MetricsObserver records engine events as prometheus metrics.
func MetricsObserver() Observer {
	return ObserverFunc(func(ev Event) {
		switch ev.Kind {
		case EventOverlayRebuilt:
			overlayRebuilds.WithLabelValues(ev.Replica).Inc()
			rebuildDuration.Observe(ev.Duration.Seconds())
		case EventSpanRemapped:
			spansRemapped.WithLabelValues(ev.Replica).Inc()
		case EventAnchorUnresolved:
			spansDropped.WithLabelValues(ev.Replica, "unresolved").Inc()
		case EventDegenerateSpan:
			spansDropped.WithLabelValues(ev.Replica, "degenerate").Inc()
		case EventWriteBack:
			writeBacks.WithLabelValues(ev.Replica, "ok").Inc()
		case EventWriteBackFailed:
			writeBacks.WithLabelValues(ev.Replica, "failed").Inc()
		case EventActionApplied:
			actionsApplied.WithLabelValues(ev.Replica, string(ev.Action)).Inc()
		}
	})
}
