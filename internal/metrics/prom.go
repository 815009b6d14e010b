package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tutorlink_build_info",
			Help: "Build information",
		},
		[]string{"component", "date", "sha", "version"},
	)

	relaySessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorlink_relay_sessions_total",
			Help: "Vendor sessions opened by the relay",
		},
		[]string{"outcome"},
	)

	relayActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorlink_relay_active_sessions",
			Help: "Vendor sessions currently open",
		},
	)

	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorlink_relay_messages_total",
			Help: "Envelopes forwarded by the relay",
		},
		[]string{"direction", "type"},
	)

	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorlink_relay_session_duration_seconds",
			Help:    "Vendor session lifetime",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	clientChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorlink_client_chunks_total",
			Help: "Media chunks produced by the capture side",
		},
		[]string{"kind", "outcome"},
	)

	framesEncoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorlink_frames_encoded_total",
			Help: "Composite frames encoded by the sampler",
		},
	)

	framesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorlink_frames_skipped_total",
			Help: "Sampler ticks skipped because no source changed",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, relaySessions, relayActiveSessions, relayMessages, sessionDuration, clientChunks, framesEncoded, framesSkipped)
}

// SetBuildInfo sets the build info metric for a component.
func SetBuildInfo(component, version, sha, date string) {
	buildInfo.WithLabelValues(component, date, sha, version).Set(1)
}

// RecordSessionOpen counts a vendor session open attempt.
func RecordSessionOpen(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	relaySessions.WithLabelValues(outcome).Inc()
	if ok {
		relayActiveSessions.Inc()
	}
}

// RecordSessionClose counts a vendor session close and its lifetime.
func RecordSessionClose(d time.Duration) {
	relayActiveSessions.Dec()
	sessionDuration.Observe(d.Seconds())
}

// RecordRelayMessage counts one forwarded envelope.
func RecordRelayMessage(direction, msgType string) {
	relayMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordChunk counts one produced media chunk.
func RecordChunk(kind string, sent bool) {
	outcome := "sent"
	if !sent {
		outcome = "dropped"
	}
	clientChunks.WithLabelValues(kind, outcome).Inc()
}

// RecordFrameEncoded counts one encoded composite frame.
func RecordFrameEncoded() { framesEncoded.Inc() }

// RecordFrameSkipped counts one skipped sampler tick.
func RecordFrameSkipped() { framesSkipped.Inc() }
