// Package http provides the daemon's local HTTP listener: the bridge
// WebSocket endpoint, health, Prometheus metrics, and the private mode
// toggle.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the daemon.
// Pass to components that need to record metrics.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	SessionsOpened     *prometheus.CounterVec
	SessionsClosed     *prometheus.CounterVec
	RemoteRequests     *prometheus.CounterVec
	DebounceSuppressed prometheus.Counter
	ActiveWindows      prometheus.Gauge
	ActiveTabs         prometheus.Gauge
	HostRules          prometheus.Gauge
	BridgeConnected    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "surftrail",
				Name:      "events_total",
				Help:      "Browser events processed, by type and outcome",
			},
			[]string{"type", "outcome"}, // outcome=ok/error/dropped
		),
		SessionsOpened: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "surftrail",
				Name:      "sessions_opened_total",
				Help:      "Sessions opened against the collection API, by scope",
			},
			[]string{"scope"}, // scope=global/window/tab/domain
		),
		SessionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "surftrail",
				Name:      "sessions_closed_total",
				Help:      "Sessions closed against the collection API, by scope",
			},
			[]string{"scope"},
		),
		RemoteRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "surftrail",
				Name:      "remote_requests_total",
				Help:      "Collection API requests, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		DebounceSuppressed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "surftrail",
				Name:      "debounce_suppressed_total",
				Help:      "Window creations suppressed by the debounce window",
			},
		),
		ActiveWindows: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "surftrail",
				Name:      "active_windows",
				Help:      "Window sessions currently open",
			},
		),
		ActiveTabs: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "surftrail",
				Name:      "active_tabs",
				Help:      "Tab sessions currently open",
			},
		),
		HostRules: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "surftrail",
				Name:      "host_rules",
				Help:      "Host rules currently cached locally",
			},
		),
		BridgeConnected: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "surftrail",
				Name:      "bridge_connected",
				Help:      "1 when the extension bridge is connected",
			},
		),
	}
}
