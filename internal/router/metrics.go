package router

import (
	"time"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	deliveries *prometheus.CounterVec
	events     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the router's collectors. Live gauges read straight from
// the registries at scrape time.
func NewMetrics(reg prometheus.Registerer, sm state.Manager, calls state.CallTracker) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Targeted sends by outbound event and outcome (delivered, dropped).",
		}, []string{"event", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound events by name and result.",
		}, []string{"event", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_event_duration_seconds",
			Help:    "Time spent handling an inbound event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.deliveries,
		m.events,
		m.duration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Live WebSocket connections.",
		}, func() float64 { return float64(sm.ConnectionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_online_identities",
			Help: "Identities currently routed to a live connection.",
		}, func() float64 { return float64(len(sm.Online())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_active_calls",
			Help: "Receivers with a ringing or ongoing call entry.",
		}, func() float64 { return float64(calls.Count()) }),
	)
	return m
}

func (m *Metrics) RecordDelivery(event string, d Delivery) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(event, d.String()).Inc()
}

func (m *Metrics) RecordEvent(event, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, result).Inc()
	m.duration.WithLabelValues(event).Observe(took.Seconds())
}
