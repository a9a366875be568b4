package alert

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks dispatch and per-caregiver delivery outcomes.
type Metrics struct {
	Dispatches       *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	Attempts         prometheus.Counter
	DeliveryDuration prometheus.Histogram
	GuardErrors      prometheus.Counter
	PublishFailures  prometheus.Counter
	InFlight         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safezone_alert_dispatches_total",
			Help: "Alert events received by the dispatcher, by result",
		}, []string{"result"}), // result: "dispatched", "duplicate", "directory_error"
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safezone_alert_deliveries_total",
			Help: "Per-caregiver delivery outcomes",
		}, []string{"outcome"}),
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "safezone_alert_delivery_attempts_total",
			Help: "Push provider calls, including retries",
		}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "safezone_alert_delivery_duration_seconds",
			Help:    "Time to deliver or give up on one caregiver, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		GuardErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "safezone_alert_guard_errors_total",
			Help: "Dispatch guard failures; the alert proceeds without the guard",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "safezone_alert_publish_failures_total",
			Help: "Alert events that could not be written to the event stream",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safezone_alert_dispatches_in_flight",
			Help: "Asynchronous dispatches currently running",
		}),
	}
}

func (m *Metrics) IncDispatch(result string) {
	if m != nil {
		m.Dispatches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveDelivery(outcome Outcome, attempts int, start time.Time) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(string(outcome)).Inc()
	m.Attempts.Add(float64(attempts))
	if outcome != OutcomeSkipped {
		m.DeliveryDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncGuardErrors() {
	if m != nil {
		m.GuardErrors.Inc()
	}
}

func (m *Metrics) IncPublishFailures() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) AddInFlight(delta float64) {
	if m != nil {
		m.InFlight.Add(delta)
	}
}
