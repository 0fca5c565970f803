// Package metrics exposes draw progress as prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records draw activity on a private registry.
type Collector struct {
	registry *prometheus.Registry

	groupDraws      *prometheus.CounterVec
	winners         prometheus.Counter
	shortages       *prometheus.CounterVec
	persistFailures prometheus.Counter
	poolTickets     prometheus.Gauge
	cursor          prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		groupDraws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tombola_group_draws_total",
			Help: "Completed group draws.",
		}, []string{"restricted"}),
		winners: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tombola_winners_total",
			Help: "Winning tickets drawn.",
		}),
		shortages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tombola_draw_shortages_total",
			Help: "Draws that could not attribute every copy, by kind.",
		}, []string{"kind"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tombola_persistence_failures_total",
			Help: "Failed writes of the ledger or the exports.",
		}),
		poolTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tombola_pool_tickets",
			Help: "Tickets that can still win.",
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tombola_cursor",
			Help: "Index of the next lot to draw.",
		}),
	}
	c.registry.MustRegister(c.groupDraws, c.winners, c.shortages, c.persistFailures, c.poolTickets, c.cursor)
	return c
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GroupDrawn counts a completed group draw and its winners.
func (c *Collector) GroupDrawn(restricted bool, winners int) {
	c.groupDraws.WithLabelValues(strconv.FormatBool(restricted)).Inc()
	c.winners.Add(float64(winners))
}

// Shortage counts a draw that fell short.
func (c *Collector) Shortage(kind string) {
	c.shortages.WithLabelValues(kind).Inc()
}

// PersistenceFailed counts a failed write.
func (c *Collector) PersistenceFailed() {
	c.persistFailures.Inc()
}

// Progress sets the cursor and pool gauges.
func (c *Collector) Progress(cursor, poolTickets int) {
	c.cursor.Set(float64(cursor))
	c.poolTickets.Set(float64(poolTickets))
}
