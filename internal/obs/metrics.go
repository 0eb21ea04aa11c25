// Package obs holds the relay's Prometheus metrics. Everything is
// registered through promauto so importing the package is enough.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "screenrelay_active_sessions", Help: "Currently active sessions"})
	ActiveViewers  = promauto.NewGauge(prometheus.GaugeOpts{Name: "screenrelay_active_viewers", Help: "Currently attached viewer connections"})

	FramesRelayedTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "screenrelay_frames_relayed_total", Help: "Frames read from hosts and fanned out"})
	FrameBytesTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "screenrelay_frame_bytes_total", Help: "Frame payload bytes relayed"})
	ViewersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "screenrelay_viewers_dropped_total", Help: "Viewers dropped for slow or failed writes"})
	SessionsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "screenrelay_sessions_reaped_total", Help: "Idle sessions ended by the reaper"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "screenrelay_errors_total", Help: "Errors by type"}, []string{"type"})

	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "screenrelay_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(1, 2, 16)})
)
