package telegrampoller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for Bot calls and update streams.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CallsTotal              *prometheus.CounterVec
	CallDuration            *prometheus.HistogramVec
	EventsTotal             *prometheus.CounterVec
	DuplicatesDropped       prometheus.Counter
	MalformedEnvelopes      prometheus.Counter
	Offset                  prometheus.Gauge
	PollerConsecutiveErrors prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. Pass a fresh
// prometheus.NewRegistry() to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telegrampoller",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Bot API calls by method and outcome.",
		}, []string{"method", "outcome"}),

		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telegrampoller",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Bot API call duration in seconds, long polls included.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"method"}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telegrampoller",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Decoded events delivered to the consumer, by kind.",
		}, []string{"kind"}),

		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telegrampoller",
			Subsystem: "stream",
			Name:      "duplicates_dropped_total",
			Help:      "Updates dropped because their id was below the offset.",
		}),

		MalformedEnvelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telegrampoller",
			Subsystem: "stream",
			Name:      "malformed_envelopes_total",
			Help:      "Updates consumed without any known payload.",
		}),

		Offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telegrampoller",
			Subsystem: "stream",
			Name:      "offset",
			Help:      "Next getUpdates offset.",
		}),

		PollerConsecutiveErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telegrampoller",
			Subsystem: "poller",
			Name:      "consecutive_errors",
			Help:      "Consecutive failed pulls seen by the poller.",
		}),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.EventsTotal,
		m.DuplicatesDropped,
		m.MalformedEnvelopes,
		m.Offset,
		m.PollerConsecutiveErrors,
	)
	return m
}

func (m *Metrics) observeCall(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if k := KindOf(err); k != 0 {
		outcome = k.String()
	} else if err != nil {
		outcome = "error"
	}
	m.CallsTotal.WithLabelValues(method, outcome).Inc()
	m.CallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) event(k Kind) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) duplicate() {
	if m == nil {
		return
	}
	m.DuplicatesDropped.Inc()
}

func (m *Metrics) malformed() {
	if m == nil {
		return
	}
	m.MalformedEnvelopes.Inc()
}

func (m *Metrics) setOffset(off int64) {
	if m == nil {
		return
	}
	m.Offset.Set(float64(off))
}

func (m *Metrics) setConsecutiveErrors(n int32) {
	if m == nil {
		return
	}
	m.PollerConsecutiveErrors.Set(float64(n))
}
