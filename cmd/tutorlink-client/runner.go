package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlink/tutorlink/internal/advisory"
	"github.com/tutorlink/tutorlink/internal/audiocap"
	"github.com/tutorlink/tutorlink/internal/compositor"
	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/sampler"
	"github.com/tutorlink/tutorlink/internal/status"
	"github.com/tutorlink/tutorlink/internal/transport"
	"github.com/tutorlink/tutorlink/internal/wire"
)

// Runner wires the capture pipelines to the session transport and owns
// every device handle and pacing loop it starts. Close tears them down
// in capture-to-transport order so nothing produces chunks into a dead
// connection.
type Runner struct {
	cfg       config.ClientConfig
	sessionID string

	tr     *transport.Client
	comp   *compositor.Compositor
	samp   *sampler.Sampler
	audio  *audiocap.Pipeline
	bridge *advisory.Bridge

	audioChunks atomic.Uint64
	frameChunks atomic.Uint64
	volume      atomic.Uint64 // float64 bits
	lastAudio   atomic.Int64  // unix nanos of the last model audio part

	wg sync.WaitGroup
}

// NewRunner assembles the pipeline from config. Nothing is started
// until Run.
func NewRunner(cfg config.ClientConfig) *Runner {
	r := &Runner{cfg: cfg, sessionID: uuid.NewString()}

	compCfg := compositor.DefaultConfig()
	if cfg.CompositeWidth > 0 {
		compCfg.Width = cfg.CompositeWidth
	}
	if cfg.BandHeight > 0 {
		compCfg.BandHeight = cfg.BandHeight
	}
	r.comp = compositor.New(compCfg)

	url := cfg.RelayURL
	if cfg.ClientKey != "" {
		url += "?key=" + cfg.ClientKey
	}
	r.tr = transport.New(url, transport.Events{
		OnOpen: func() { logx.Log.Info().Msg("session connected") },
		OnSetupComplete: func() {
			logx.Log.Debug().Msg("vendor setup complete")
		},
		OnContent: func(parts []wire.Part) {
			if r.bridge != nil {
				r.bridge.Mirror(parts)
			}
		},
		OnAudio: func(pcm []byte) {
			r.lastAudio.Store(time.Now().UnixNano())
		},
		OnTurnComplete: func() {
			if r.bridge != nil {
				r.bridge.TurnComplete()
			}
		},
		OnInterrupted: func() { logx.Log.Debug().Msg("model interrupted, dropping turn audio") },
		OnError:       func(err error) { logx.Log.Error().Err(err).Msg("session error") },
		OnClose:       func(reason string) { logx.Log.Info().Str("reason", reason).Msg("session closed") },
	})

	r.samp = sampler.New(sampler.Config{Rate: cfg.FrameRate, Quality: cfg.JPEGQuality}, r.comp, func(c wire.MediaChunk) {
		r.frameChunks.Add(1)
		r.tr.SendRealtimeInput([]wire.MediaChunk{c})
	})

	r.audio = audiocap.New(
		audiocap.Config{SampleRate: cfg.SampleRate, Chunk: cfg.AudioChunk},
		audiocap.NewMicSource(cfg.SampleRate),
		func(c wire.MediaChunk) {
			r.audioChunks.Add(1)
			r.tr.SendRealtimeInput([]wire.MediaChunk{c})
		},
		func(v float64) { r.volume.Store(math.Float64bits(v)) },
	)

	if cfg.AdvisoryURL != "" {
		bcfg := advisory.DefaultConfig()
		bcfg.URL = cfg.AdvisoryURL
		bcfg.SessionID = r.sessionID
		r.bridge = advisory.New(bcfg, r.tr)
	}
	return r
}

// Run connects and keeps the pipeline alive until ctx is cancelled,
// then tears down with a bounded farewell wait.
func (r *Runner) Run(ctx context.Context, version status.VersionInfo) error {
	if !r.tr.Connect(ctx, wire.SessionConfig{}) {
		if err := r.tr.LastError(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return fmt.Errorf("connect refused")
	}

	if r.cfg.StatusAddr != "" {
		addr, err := status.New(version, r.snapshot).Start(ctx, r.cfg.StatusAddr)
		if err != nil {
			logx.Log.Warn().Err(err).Msg("status server failed to start")
		} else {
			logx.Log.Info().Str("addr", addr).Msg("status server listening")
		}
	}

	if err := r.audio.Start(); err != nil {
		// Capture denied is not fatal: the session continues without
		// microphone input and the pipeline stays stopped.
		logx.Log.Warn().Err(err).Msg("microphone capture unavailable")
	}

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.samp.Run(loopCtx)
	}()
	if r.bridge != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.bridge.Start(loopCtx)
		}()
	}

	<-ctx.Done()
	r.waitForFarewell()

	cancelLoops()
	r.audio.Stop()
	r.tr.Disconnect()
	r.wg.Wait()
	return nil
}

// waitForFarewell polls until the model's audio has been silent for
// FarewellSilence, bounded by FarewellMaxWait, so teardown does not cut
// the goodbye short.
func (r *Runner) waitForFarewell() {
	if r.cfg.FarewellMaxWait <= 0 || r.tr.Status() != transport.StatusConnected {
		return
	}
	deadline := time.Now().Add(r.cfg.FarewellMaxWait)
	for time.Now().Before(deadline) {
		last := r.lastAudio.Load()
		if last == 0 {
			return
		}
		quiet := time.Since(time.Unix(0, last))
		if quiet >= r.cfg.FarewellSilence {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (r *Runner) snapshot() status.Snapshot {
	return status.Snapshot{
		Transport:    r.tr.Status().String(),
		AudioRunning: r.audio.Started(),
		Volume:       math.Float64frombits(r.volume.Load()),
		AudioChunks:  r.audioChunks.Load(),
		FrameChunks:  r.frameChunks.Load(),
	}
}
