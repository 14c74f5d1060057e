package relay

import "github.com/prometheus/client_golang/prometheus"

// Close reasons, used as metric labels.
const (
	reasonClientClosed   = "client_closed"
	reasonUpstreamClosed = "upstream_closed"
	reasonMissingKey     = "missing_key"
	reasonDialFailed     = "dial_failed"
	reasonWriteFailed    = "write_failed"
	reasonShutdown       = "shutdown"
)

// Frame directions and drop reasons.
const (
	directionClientToUpstream = "client_to_upstream"
	directionUpstreamToClient = "upstream_to_client"

	dropNotOpen   = "upstream_not_open"
	dropMalformed   = "malformed"
)

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gemini_relay_sessions_active",
			Help: "Number of open client channels on the relay",
		},
	)

	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_sessions_closed_total",
			Help: "Relay sessions closed, by reason",
		},
		[]string{"reason"},
	)

	framesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_frames_forwarded_total",
			Help: "Frames forwarded by the relay, by direction",
		},
		[]string{"direction"},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_frames_dropped_total",
			Help: "Client frames dropped by the relay, by reason",
		},
		[]string{"reason"},
	)

	upstreamDials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gemini_relay_upstream_dials_total",
			Help: "Upstream connection attempts, by result",
		},
		[]string{"result"},
	)

	upstreamDialSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gemini_relay_upstream_dial_seconds",
			Help:    "Time to open the upstream channel and send setup",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsActive)
	prometheus.MustRegister(sessionsClosed)
	prometheus.MustRegister(framesForwarded)
	prometheus.MustRegister(framesDropped)
	prometheus.MustRegister(upstreamDials)
	prometheus.MustRegister(upstreamDialSeconds)
}
