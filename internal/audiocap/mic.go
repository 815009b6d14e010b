package audiocap

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MicSource captures the default microphone via miniaudio. One instance
// owns one device handle.
type MicSource struct {
	sampleRate int

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	dev *malgo.Device
}

// NewMicSource prepares a capture source at the given sample rate. No
// device is touched until Start.
func NewMicSource(sampleRate int) *MicSource {
	return &MicSource{sampleRate: sampleRate}
}

// Start opens the device. Permission or hardware failures surface here;
// no retry is attempted.
func (m *MicSource) Start(onData func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			// The callback buffer is reused by the driver; copy out.
			onData(append([]byte(nil), in...))
		},
	}
	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start capture device: %w", err)
	}
	m.ctx = ctx
	m.dev = dev
	return nil
}

// Stop releases the device and context.
func (m *MicSource) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		_ = m.dev.Stop()
		m.dev.Uninit()
		m.dev = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}
