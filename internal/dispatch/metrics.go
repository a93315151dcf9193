package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records dispatch outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	pairs         *prometheus.CounterVec
	messages      prometheus.Counter
	sendFailures  prometheus.Counter
	queryFailures prometheus.Counter
	listings      prometheus.Counter
	cycleDuration prometheus.Histogram
	subscriptions prometheus.Gauge
}

// NewMetrics registers the dispatch collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pairs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "farebot_dispatch_pairs_total",
			Help: "Dispatched (user, origin) pairs by outcome.",
		}, []string{"trigger", "outcome"}),
		messages: f.NewCounter(prometheus.CounterOpts{
			Name: "farebot_dispatch_messages_sent_total",
			Help: "Chunks delivered to users.",
		}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "farebot_dispatch_send_failures_total",
			Help: "Chunks dropped after the send retry was exhausted.",
		}),
		queryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "farebot_fare_query_failures_total",
			Help: "Failed fare source queries.",
		}),
		listings: f.NewCounter(prometheus.CounterOpts{
			Name: "farebot_fare_listings_total",
			Help: "Fare listings returned by the fare source.",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "farebot_dispatch_cycle_duration_seconds",
			Help:    "Wall time of scheduled dispatch cycles.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "farebot_dispatch_eligible_subscriptions",
			Help: "Active subscriptions with origins seen by the last cycle.",
		}),
	}
}

func (m *Metrics) pair(trigger, outcome string) {
	if m != nil {
		m.pairs.WithLabelValues(trigger, outcome).Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) queryFailed() {
	if m != nil {
		m.queryFailures.Inc()
	}
}

func (m *Metrics) fetched(n int) {
	if m != nil {
		m.listings.Add(float64(n))
	}
}

func (m *Metrics) cycle(seconds float64, eligible int) {
	if m != nil {
		m.cycleDuration.Observe(seconds)
		m.subscriptions.Set(float64(eligible))
	}
}
