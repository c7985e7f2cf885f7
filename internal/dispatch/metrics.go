package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	Entries     *prometheus.CounterVec
	Deliveries  *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Entries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "feed_relay",
				Name:      "entries_total",
				Help:      "Unread entries processed, by outcome",
			},
			[]string{"outcome"},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "feed_relay",
				Name:      "deliveries_total",
				Help:      "Webhook deliveries, by mode and result",
			},
			[]string{"mode", "result"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "feed_relay",
				Name:      "run_duration_seconds",
				Help:      "Duration of one pipeline run",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
	}
}

// Entry outcomes.
const (
	outcomeDelivered = "delivered"
	outcomeRejected  = "rejected"
	outcomeTooOld    = "too_old"
	outcomeMalformed = "malformed"
	outcomeNoGroups  = "no_groups"
	outcomeFailed    = "lookup_failed"
)
