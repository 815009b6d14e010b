package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("relay", "1.0.0", "abc", "2026-01-01")
	RecordSessionOpen(true)
	RecordRelayMessage("inbound", "message")
	RecordChunk("audio", true)
	RecordChunk("image", false)
	RecordFrameEncoded()
	RecordFrameSkipped()

	if v := testutil.ToFloat64(relaySessions.WithLabelValues("success")); v != 1 {
		t.Fatalf("relay sessions: %v", v)
	}
	if v := testutil.ToFloat64(relayActiveSessions); v != 1 {
		t.Fatalf("active sessions: %v", v)
	}
	RecordSessionClose(2 * time.Second)
	if v := testutil.ToFloat64(relayActiveSessions); v != 0 {
		t.Fatalf("active sessions after close: %v", v)
	}
	if v := testutil.ToFloat64(relayMessages.WithLabelValues("inbound", "message")); v != 1 {
		t.Fatalf("relay messages: %v", v)
	}
	if v := testutil.ToFloat64(clientChunks.WithLabelValues("audio", "sent")); v != 1 {
		t.Fatalf("audio chunks: %v", v)
	}
	if v := testutil.ToFloat64(clientChunks.WithLabelValues("image", "dropped")); v != 1 {
		t.Fatalf("image chunks: %v", v)
	}
	if v := testutil.ToFloat64(framesEncoded); v != 1 {
		t.Fatalf("frames encoded: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("relay", "2026-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
}
