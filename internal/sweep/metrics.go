package sweep

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aturkewi/billsweep/internal/claim"
)

// metrics holds the Sweeper's prometheus collectors. A nil *metrics is valid
// and records nothing.
type metrics struct {
	items        *prometheus.CounterVec
	passDuration prometheus.Histogram
}

// RegisterMetrics attaches prometheus collectors for per-item outcomes and
// pass duration to reg. Call at most once per Sweeper and registry.
func (s *Sweeper) RegisterMetrics(reg prometheus.Registerer) {
	m := &metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billsweep_items_total",
			Help: "Claim attempts by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billsweep_pass_duration_seconds",
			Help:    "Duration of one full sweep pass.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	reg.MustRegister(m.items, m.passDuration)
	s.metrics = m
}

func (m *metrics) observeItem(outcome claim.Outcome) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(outcome.String()).Inc()
}

func (m *metrics) observePass(d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
}
