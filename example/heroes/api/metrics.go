package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the hero server's Prometheus collectors.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Fights   *prometheus.CounterVec
	Dungeons prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heroes",
			Name:      "requests_total",
			Help:      "Requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heroes",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method"}),
		Fights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heroes",
			Name:      "fights_total",
			Help:      "Fights won in dungeons, by monster.",
		}, []string{"monster"}),
		Dungeons: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "heroes",
			Name:      "active_dungeons",
			Help:      "Fighting tasks currently running.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Requests, m.Duration, m.Fights, m.Dungeons} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
