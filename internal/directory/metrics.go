package directory

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the directory's Prometheus collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Announcements *prometheus.CounterVec
	Lookups       *prometheus.CounterVec
	Sweeps        prometheus.Counter
	RateLimited   prometheus.Counter
	Watchers      prometheus.Gauge
}

// NewMetrics registers the collectors. Size gauges read dir at scrape time.
func NewMetrics(dir *Directory) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botdir",
			Name:      "announcements_total",
			Help:      "Announcements received, by result.",
		}, []string{"result"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botdir",
			Name:      "lookups_total",
			Help:      "Lookups served, by whether stale entries were found.",
		}, []string{"dirty"}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botdir",
			Name:      "sweeps_total",
			Help:      "Full cleaning passes run by the sweeper or admin route.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botdir",
			Name:      "rate_limited_total",
			Help:      "Announcements refused by the per-address rate limit.",
		}),
		Watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "botdir",
			Name:      "watchers",
			Help:      "Open /ws watch streams.",
		}),
	}
	m.reg.MustRegister(m.Announcements, m.Lookups, m.Sweeps, m.RateLimited, m.Watchers)
	if dir != nil {
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "botdir",
				Name:      "buckets",
				Help:      "Client addresses currently stored.",
			}, func() float64 { return float64(dir.Stats().Buckets) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "botdir",
				Name:      "entries",
				Help:      "Entries currently stored, including stale ones not yet swept.",
			}, func() float64 { return float64(dir.Stats().Entries) }),
		)
	}
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) announced(ok bool) {
	result := "accepted"
	if !ok {
		result = "rejected"
	}
	m.Announcements.WithLabelValues(result).Inc()
}

func (m *Metrics) lookedUp(dirty bool) {
	label := "false"
	if dirty {
		label = "true"
	}
	m.Lookups.WithLabelValues(label).Inc()
}
