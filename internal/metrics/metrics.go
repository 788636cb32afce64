// Package metrics exposes Prometheus metrics for the engagement gateway.
//
// All metrics are registered on the default registry at init and served by
// Handler. Label cardinality is bounded: no resource or session IDs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker sources used as label values.
const (
	SourceNative   = "native"
	SourceExternal = "external"
)

// Rejection reasons used as label values.
const (
	ReasonNonPositive = "non_positive"
	ReasonCeiling     = "over_ceiling"
	ReasonInvalid     = "invalid"
	ReasonSeek        = "seek"
)

var (
	sessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_sessions_opened_total",
			Help: "Resource sessions opened, by resource kind",
		},
		[]string{"kind"},
	)

	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_sessions_closed_total",
			Help: "Resource sessions closed, by resource kind",
		},
		[]string{"kind"},
	)

	sessionStartFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_session_start_failures_total",
			Help: "startAccess calls that failed; no session was opened",
		},
	)

	openViews = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engagement_open_views",
			Help: "Viewer connections currently mounted",
		},
	)

	deltasSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_progress_deltas_sent_total",
			Help: "Progress deltas forwarded to the analytics backend",
		},
		[]string{"source"},
	)

	deltasRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_progress_deltas_rejected_total",
			Help: "Observations dropped before reaching the analytics backend",
		},
		[]string{"source", "reason"},
	)

	watchedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_watched_seconds_total",
			Help: "Watched seconds reported, by tracker source",
		},
		[]string{"source"},
	)

	heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engagement_heartbeats_total",
			Help: "Heartbeats dispatched",
		},
	)

	dispatchDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_dispatch_dropped_total",
			Help: "Analytics calls dropped because the shard queue was full or closed",
		},
		[]string{"call"},
	)

	dispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagement_dispatch_errors_total",
			Help: "Analytics calls that failed in transport or returned a non-2xx status",
		},
		[]string{"call"},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsOpened,
		sessionsClosed,
		sessionStartFailures,
		openViews,
		deltasSent,
		deltasRejected,
		watchedSeconds,
		heartbeats,
		dispatchDropped,
		dispatchErrors,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SessionOpened(kind string) { sessionsOpened.WithLabelValues(kind).Inc() }

func SessionClosed(kind string) { sessionsClosed.WithLabelValues(kind).Inc() }

func SessionStartFailed() { sessionStartFailures.Inc() }

func ViewMounted() { openViews.Inc() }

func ViewUnmounted() { openViews.Dec() }

// DeltaSent records one accepted progress delta.
func DeltaSent(source string, seconds float64) {
	deltasSent.WithLabelValues(source).Inc()
	watchedSeconds.WithLabelValues(source).Add(seconds)
}

func DeltaRejected(source, reason string) { deltasRejected.WithLabelValues(source, reason).Inc() }

func HeartbeatSent() { heartbeats.Inc() }

func DispatchDropped(call string) { dispatchDropped.WithLabelValues(call).Inc() }

func DispatchFailed(call string) { dispatchErrors.WithLabelValues(call).Inc() }
