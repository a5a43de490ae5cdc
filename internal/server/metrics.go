package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

// Metrics aggregates the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Settlements   *prometheus.CounterVec
	Refunds       *prometheus.CounterVec
	PaymentDenied *prometheus.CounterVec
	PrizePayouts  prometheus.Counter
	OpenSessions  prometheus.Gauge
}

// NewMetrics registers the service collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402arcade",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome code.",
		}, []string{"outcome"}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402arcade",
			Name:      "refunds_total",
			Help:      "Refund attempts by outcome code.",
		}, []string{"outcome"}),
		PaymentDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402arcade",
			Name:      "payment_denied_total",
			Help:      "402 responses by error code.",
		}, []string{"code"}),
		PrizePayouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "x402arcade",
			Name:      "prize_payouts_total",
			Help:      "Individual prize payouts recorded.",
		}),
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "x402arcade",
			Name:      "open_sessions",
			Help:      "Game sessions currently active.",
		}),
	}

	registry.MustRegister(m.Settlements, m.Refunds, m.PaymentDenied, m.PrizePayouts, m.OpenSessions)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
