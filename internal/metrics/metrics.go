package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type CheckoutMetrics struct {
	Checkouts *prometheus.CounterVec
	Duration  prometheus.Histogram
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "checkouts_total",
		Help:      "Total number of checkout attempts by result.",
	}, []string{"result"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "checkout",
		Name:      "checkout_duration_seconds",
		Help:      "Checkout transaction latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	reg.MustRegister(checkouts, duration)
	return &CheckoutMetrics{Checkouts: checkouts, Duration: duration}
}

// Observe is nil-safe so callers can run without a registry in tests.
func (m *CheckoutMetrics) Observe(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
	m.Duration.Observe(elapsed.Seconds())
}
