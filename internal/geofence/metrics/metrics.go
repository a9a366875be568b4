package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for location ingestion and zone administration.
type Metrics struct {
	SamplesIngested   *prometheus.CounterVec
	ExitsDetected     prometheus.Counter
	ExitsSuppressed   *prometheus.CounterVec
	ZoneMutations     *prometheus.CounterVec
	IngestionDuration prometheus.Histogram
}

// New registers the geofence metrics with reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		SamplesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safezone_location_samples_total",
			Help: "Location samples recorded, by containment verdict",
		}, []string{"verdict"}),
		ExitsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "safezone_zone_exits_detected_total",
			Help: "New zone exits that were handed to alert dispatch",
		}),
		ExitsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safezone_zone_exits_suppressed_total",
			Help: "Outside samples that did not alert, by reason",
		}, []string{"reason"}), // reason: "already_outside", "override_active"
		ZoneMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safezone_zone_mutations_total",
			Help: "Zone administration operations, by operation",
		}, []string{"op"}),
		IngestionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "safezone_submit_location_duration_seconds",
			Help:    "Duration of SubmitLocation including the patient-scoped transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementSample(verdict string) {
	if m != nil {
		m.SamplesIngested.WithLabelValues(verdict).Inc()
	}
}

func (m *Metrics) IncrementExitDetected() {
	if m != nil {
		m.ExitsDetected.Inc()
	}
}

func (m *Metrics) IncrementExitSuppressed(reason string) {
	if m != nil {
		m.ExitsSuppressed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncrementZoneMutation(op string) {
	if m != nil {
		m.ZoneMutations.WithLabelValues(op).Inc()
	}
}

// ObserveIngestion records SubmitLocation latency. Call with the start time.
func (m *Metrics) ObserveIngestion(start time.Time) {
	if m != nil {
		m.IngestionDuration.Observe(time.Since(start).Seconds())
	}
}
