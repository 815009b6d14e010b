// Package sampler rasterizes a composite surface to JPEG stills at a
// throttled rate, decoupled from the rate at which sources update.
package sampler

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/metrics"
	"github.com/tutorlink/tutorlink/internal/wire"
)

// Surface is the raster the sampler reads. Render returns the current
// composite and the revision it reflects.
type Surface interface {
	Render() (*image.RGBA, uint64)
}

// Config bounds the sampler's output.
type Config struct {
	// Rate is the target sampling rate in Hz. Far below display refresh
	// by design; bounds bandwidth and vendor-side token cost.
	Rate float64
	// Quality is the JPEG quality (1-100).
	Quality int
}

// DefaultConfig samples at 1 Hz near-maximum quality.
func DefaultConfig() Config {
	return Config{Rate: 1, Quality: 92}
}

var bufPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

// Sampler drives the pacing loop. Ticks arriving faster than the target
// rate produce nothing; there is no backlog.
type Sampler struct {
	cfg  Config
	src  Surface
	emit func(wire.MediaChunk)

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	lastTick time.Time
	lastRev  uint64
	haveRev  bool
}

// New creates a sampler over src. Emitted chunks go to emit, which must
// not block; backpressure is handled by the sampling rate itself.
func New(cfg Config, src Surface, emit func(wire.MediaChunk)) *Sampler {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		cfg.Quality = DefaultConfig().Quality
	}
	return &Sampler{
		cfg:   cfg,
		src:   src,
		emit:  emit,
		now:   time.Now,
		after: func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
}

// Interval is the paced gap between emitted frames.
func (s *Sampler) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.Rate)
}

// Run ticks at the configured rate until ctx ends. Stopping the context
// is the only cancellation mechanism; teardown must cancel it or the
// loop keeps encoding frames nobody consumes.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(s.Interval()):
			s.Tick()
		}
	}
}

// Tick rasterizes and emits at most one chunk. The tick is dropped when
// the paced interval has not elapsed since the last emitted frame, or
// when no source changed since the last encode.
func (s *Sampler) Tick() bool {
	s.mu.Lock()
	now := s.now()
	if !s.lastTick.IsZero() && now.Sub(s.lastTick) < s.Interval() {
		s.mu.Unlock()
		return false
	}

	img, rev := s.src.Render()
	if img == nil {
		s.mu.Unlock()
		return false
	}
	if s.haveRev && rev == s.lastRev {
		s.mu.Unlock()
		metrics.RecordFrameSkipped()
		return false
	}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	err := jpeg.Encode(buf, img, &jpeg.Options{Quality: s.cfg.Quality})
	if err != nil {
		s.mu.Unlock()
		bufPool.Put(buf)
		logx.Log.Warn().Err(err).Msg("frame encode failed")
		return false
	}
	chunk := wire.NewImageChunk(buf.Bytes())
	bufPool.Put(buf)

	s.lastTick = now
	s.lastRev = rev
	s.haveRev = true
	s.mu.Unlock()

	metrics.RecordFrameEncoded()
	s.emit(chunk)
	return true
}
