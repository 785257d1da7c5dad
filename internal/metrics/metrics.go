// Package metrics exposes the service's Prometheus counters. A dedicated
// registry keeps the scrape surface to our own series plus the standard Go
// process collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters the overlay store and composition engine report
// into. It satisfies both of their observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	overlayWrites  *prometheus.CounterVec
	overwriteRaces *prometheus.CounterVec
	staleSkips     *prometheus.CounterVec
}

// New creates the registry and registers all counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		overlayWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orgmap",
			Name:      "overlay_writes_total",
			Help:      "Overlay upserts accepted, broken down by category.",
		}, []string{"category"}),
		overwriteRaces: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orgmap",
			Name:      "overwrite_races_total",
			Help:      "Writes that replaced a different user's record within the race window.",
		}, []string{"category"}),
		staleSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orgmap",
			Name:      "stale_overlay_skips_total",
			Help:      "Overlay records silently skipped during composition because their references no longer resolve.",
		}, []string{"kind"}),
	}
}

// OverlayWrite counts an accepted overlay upsert.
func (m *Metrics) OverlayWrite(category string) {
	m.overlayWrites.WithLabelValues(category).Inc()
}

// OverwriteRace counts a detected last-write-wins collision.
func (m *Metrics) OverwriteRace(category string) {
	m.overwriteRaces.WithLabelValues(category).Inc()
}

// StaleOverlaySkipped counts a composition-time skip of a stale record.
func (m *Metrics) StaleOverlaySkipped(kind string) {
	m.staleSkips.WithLabelValues(kind).Inc()
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
