package audiocap

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tutorlink/tutorlink/internal/wire"
)

// fakeSource records start/stop calls and lets tests push PCM.
type fakeSource struct {
	onData   func([]byte)
	starts   int
	stops    int
	startErr error
}

func (f *fakeSource) Start(onData func([]byte)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.onData = onData
	return nil
}

func (f *fakeSource) Stop() { f.stops++ }

func pcmOf(sample int16, n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(sample))
	}
	return b
}

func TestStartStopIdempotent(t *testing.T) {
	src := &fakeSource{}
	p := New(DefaultConfig(), src, func(wire.MediaChunk) {}, nil)

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if src.starts != 1 {
		t.Fatalf("device opened %d times, want 1", src.starts)
	}

	p.Stop()
	p.Stop()
	if src.stops != 1 {
		t.Fatalf("device released %d times, want 1", src.stops)
	}
	if p.Started() {
		t.Fatal("pipeline still started after Stop")
	}
}

func TestStartErrorLeavesPipelineStopped(t *testing.T) {
	src := &fakeSource{startErr: errors.New("permission denied")}
	p := New(DefaultConfig(), src, func(wire.MediaChunk) {}, nil)
	if err := p.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if p.Started() {
		t.Fatal("pipeline started despite device failure")
	}
	p.Stop() // must not touch the never-opened device
	if src.stops != 0 {
		t.Fatalf("stop called %d times on failed source", src.stops)
	}
}

func TestChunkSlicing(t *testing.T) {
	cfg := Config{SampleRate: 16000, Chunk: 10 * time.Millisecond, Smoothing: 1}
	src := &fakeSource{}
	var chunks []wire.MediaChunk
	p := New(cfg, src, func(c wire.MediaChunk) { chunks = append(chunks, c) }, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// 10ms at 16kHz mono 16-bit = 320 bytes per chunk.
	src.onData(pcmOf(100, 240)) // 480 bytes: one chunk plus remainder
	if len(chunks) != 1 {
		t.Fatalf("chunks after first push: %d", len(chunks))
	}
	src.onData(pcmOf(100, 80)) // remainder completes the second chunk
	if len(chunks) != 2 {
		t.Fatalf("chunks after second push: %d", len(chunks))
	}
	for _, c := range chunks {
		if c.MimeType != wire.MimeAudioPCM {
			t.Fatalf("mime type: %q", c.MimeType)
		}
		raw, err := c.Bytes()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(raw) != 320 {
			t.Fatalf("chunk size: %d", len(raw))
		}
	}
}

func TestVolumeSmoothing(t *testing.T) {
	cfg := Config{SampleRate: 16000, Chunk: time.Second, Smoothing: 0.5}
	src := &fakeSource{}
	var vols []float64
	p := New(cfg, src, func(wire.MediaChunk) {}, func(v float64) { vols = append(vols, v) })
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.onData(pcmOf(0, 160))
	src.onData(pcmOf(16384, 160)) // rms = 0.5
	if len(vols) != 2 {
		t.Fatalf("volume updates: %d", len(vols))
	}
	if vols[0] != 0 {
		t.Fatalf("silent volume: %v", vols[0])
	}
	// One loud delivery smoothed at 0.5 lands at half the true RMS.
	if vols[1] < 0.2 || vols[1] > 0.3 {
		t.Fatalf("smoothed volume: %v", vols[1])
	}
	p.Stop()
	if p.Volume() != 0 {
		t.Fatalf("volume after stop: %v", p.Volume())
	}
}

func TestIngestAfterStopDropped(t *testing.T) {
	src := &fakeSource{}
	var chunks int
	p := New(Config{SampleRate: 16000, Chunk: time.Millisecond, Smoothing: 1}, src, func(wire.MediaChunk) { chunks++ }, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	cb := src.onData
	p.Stop()
	cb(pcmOf(100, 320)) // late delivery from the device callback
	if chunks != 0 {
		t.Fatalf("chunks emitted after stop: %d", chunks)
	}
}
