package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventsOnce sync.Once
	eventsReg  *eventMetrics
)

// Events returns the metrics registry tracking structured module events.
func Events() *eventMetrics {
	eventsOnce.Do(func() {
		eventsReg = &eventMetrics{
			emitted: counterVec("events", "emitted_total",
				"Count of module events published to the event stream segmented by type.",
				"type"),
		}
		prometheus.MustRegister(eventsReg.emitted)
	})
	return eventsReg
}

// RecordEvent increments the emitted counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(orUnknown(strings.TrimSpace(eventType))).Inc()
}
