// Package metrics exposes Prometheus collectors for dialogue turns.
package metrics

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/dialogo/internal/conversation"
)

// Metrics holds the turn collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Turns         *prometheus.CounterVec
	RouterStages  *prometheus.CounterVec
	FallbackMenus *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
}

// Sources are read on every scrape. Nil entries leave their gauge out.
type Sources struct {
	ActiveSessions func() int
	// RouterCacheEntries is the number of cached classifier results.
	RouterCacheEntries func() int
	// AuditDropped counts turns the audit recorder could not queue.
	AuditDropped func() int64
	// AuditStored counts turns in the audit log.
	AuditStored func() (int, error)
}

// New registers the collectors on a fresh registry.
func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogo_turns_total",
				Help: "Total number of dialogue turns",
			},
			[]string{"intent", "outcome"},
		),
		RouterStages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogo_router_stage_total",
				Help: "Turns resolved per classification stage",
			},
			[]string{"stage"},
		),
		FallbackMenus: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogo_fallback_menus_total",
				Help: "Recovery menus shown per phase",
			},
			[]string{"phase"},
		),
		TurnDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dialogo_turn_duration_seconds",
				Help:    "Turn duration in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}
	if src.ActiveSessions != nil {
		f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "dialogo_active_sessions",
				Help: "Number of stored sessions",
			},
			func() float64 { return float64(src.ActiveSessions()) },
		)
	}
	if src.RouterCacheEntries != nil {
		f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "dialogo_router_cache_entries",
				Help: "Classifier results held in the router cache",
			},
			func() float64 { return float64(src.RouterCacheEntries()) },
		)
	}
	if src.AuditDropped != nil {
		f.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "dialogo_audit_dropped_total",
				Help: "Turns dropped because the audit queue was full",
			},
			func() float64 { return float64(src.AuditDropped()) },
		)
	}
	if src.AuditStored != nil {
		f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "dialogo_audit_turns",
				Help: "Turns stored in the audit log",
			},
			func() float64 {
				n, err := src.AuditStored()
				if err != nil {
					slog.Warn("counting audit turns", "error", err)
					return math.NaN()
				}
				return float64(n)
			},
		)
	}
	return m
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(t conversation.Turn) {
	m.Turns.WithLabelValues(string(t.Intent), t.Outcome()).Inc()
	if t.Stage != "" {
		m.RouterStages.WithLabelValues(string(t.Stage)).Inc()
	}
	if t.FallbackPhase > 0 {
		m.FallbackMenus.WithLabelValues(phaseLabel(t.FallbackPhase)).Inc()
	}
	m.TurnDuration.Observe(t.Duration.Seconds())
}

func phaseLabel(p int) string {
	switch p {
	case 1:
		return "keyword"
	case 2:
		return "semantic"
	default:
		return "menu"
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
