// Package metrics holds the Prometheus collectors for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDecoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gata_mixer_frames_decoded_total",
			Help: "Telemetry lines decoded from the control surface",
		},
	)

	ParseSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gata_mixer_parse_skips_total",
			Help: "Strip gain updates skipped because the knob sample was missing or malformed",
		},
	)

	UnresolvedTargets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gata_mixer_unresolved_targets_total",
			Help: "Strip commands dropped because no OS audio session matched",
		},
	)

	LinesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gata_mixer_status_lines_sent_total",
			Help: "Status lines written to the control surface display",
		},
	)

	LinesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gata_mixer_status_lines_deduplicated_total",
			Help: "Status lines not sent because they matched the last one",
		},
	)

	ReconnectsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gata_mixer_reconnects_scheduled_total",
			Help: "Reconnect cycles scheduled, by link and trigger",
		},
		[]string{"link", "reason"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gata_mixer_backend_errors_total",
			Help: "Failed backend calls, by backend",
		},
		[]string{"backend"},
	)

	LinkState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gata_mixer_link_state",
			Help: "Current link state (0 closed, 1 opening, 2 open, 3 faulted)",
		},
		[]string{"link"},
	)
)
