// Package audiocap captures microphone PCM at a fixed rate, slices it
// into fixed-size outbound chunks and derives a smoothed volume metric.
package audiocap

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/tutorlink/tutorlink/internal/wire"
)

// Source is a push-model PCM producer. Implementations own the device
// handle: the component that starts a source is the only one that stops
// it.
type Source interface {
	// Start begins capture and delivers PCM bytes (16-bit LE mono) to
	// onData from the device's own callback. A permission or device
	// failure is returned here; the source stays stopped.
	Start(onData func(pcm []byte)) error
	// Stop releases the device. Safe to call when not started.
	Stop()
}

// Config tunes the pipeline.
type Config struct {
	// SampleRate in Hz; the outbound mime type is fixed to 16 kHz PCM.
	SampleRate int
	// Chunk is the duration of one outbound chunk.
	Chunk time.Duration
	// Smoothing in (0,1]: weight of the newest RMS sample in the
	// reported volume. Lower is smoother.
	Smoothing float64
}

// DefaultConfig matches the wire contract: 16 kHz mono, 125ms chunks.
func DefaultConfig() Config {
	return Config{SampleRate: 16000, Chunk: 125 * time.Millisecond, Smoothing: 0.3}
}

// Pipeline wraps a Source. Start and Stop are idempotent so a mute
// toggle can call them repeatedly without leaking capture handles.
type Pipeline struct {
	cfg      Config
	src      Source
	onChunk  func(wire.MediaChunk)
	onVolume func(float64)

	mu      sync.Mutex
	started bool
	buf     []byte
	vol     float64
}

// New creates a pipeline. onChunk receives each completed PCM chunk;
// onVolume, when non-nil, receives the smoothed volume after every
// delivery from the source.
func New(cfg Config, src Source, onChunk func(wire.MediaChunk), onVolume func(float64)) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = DefaultConfig().Chunk
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = DefaultConfig().Smoothing
	}
	return &Pipeline{cfg: cfg, src: src, onChunk: onChunk, onVolume: onVolume}
}

// chunkBytes is the byte size of one outbound chunk (16-bit mono).
func (p *Pipeline) chunkBytes() int {
	return int(float64(p.cfg.SampleRate) * p.cfg.Chunk.Seconds() * 2)
}

// Start begins capture. A second Start while running is a no-op.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.src.Start(p.ingest); err != nil {
		return err
	}

	p.mu.Lock()
	p.started = true
	p.buf = p.buf[:0]
	p.mu.Unlock()
	return nil
}

// Stop releases the device and drops any partial chunk. Safe to call
// repeatedly.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.buf = p.buf[:0]
	p.vol = 0
	p.mu.Unlock()
	p.src.Stop()
}

// Started reports whether the pipeline currently holds the device.
func (p *Pipeline) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Volume returns the smoothed volume in [0,1].
func (p *Pipeline) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vol
}

// ingest accumulates PCM and emits fixed-size chunks in arrival order.
func (p *Pipeline) ingest(pcm []byte) {
	var chunks []wire.MediaChunk
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	rms := rms16(pcm)
	p.vol += (rms - p.vol) * p.cfg.Smoothing
	vol := p.vol

	p.buf = append(p.buf, pcm...)
	size := p.chunkBytes()
	for len(p.buf) >= size {
		chunks = append(chunks, wire.NewAudioChunk(p.buf[:size:size]))
		p.buf = append(p.buf[:0:0], p.buf[size:]...)
	}
	p.mu.Unlock()

	for _, c := range chunks {
		p.onChunk(c)
	}
	if p.onVolume != nil {
		p.onVolume(vol)
	}
}

// rms16 computes the normalized RMS of 16-bit LE samples.
func rms16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
