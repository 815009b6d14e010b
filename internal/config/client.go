package config

import (
	"flag"
	"strconv"
	"time"
)

// ClientConfig holds configuration for the client pipeline runner.
type ClientConfig struct {
	RelayURL    string `yaml:"relay_url"`
	AdvisoryURL string `yaml:"advisory_url"`
	ClientKey   string `yaml:"client_key"`
	StatusAddr  string `yaml:"status_addr"`

	// Capture and pacing.
	SampleRate     int           `yaml:"sample_rate"`
	AudioChunk     time.Duration `yaml:"audio_chunk"`
	FrameRate      float64       `yaml:"frame_rate"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	CompositeWidth int           `yaml:"composite_width"`
	BandHeight     int           `yaml:"band_height"`

	// Farewell wait tuning: how long the model's audio must stay silent
	// before teardown proceeds, and the hard cap on that wait.
	FarewellSilence time.Duration `yaml:"farewell_silence"`
	FarewellMaxWait time.Duration `yaml:"farewell_max_wait"`

	LogLevel   string `yaml:"log_level"`
	ConfigFile string `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables
// and binds command line flags so main can call flag.Parse().
func (c *ClientConfig) BindFlags() {
	c.RelayURL = getEnv("RELAY_URL", "ws://localhost:8080/live")
	c.AdvisoryURL = getEnv("ADVISORY_URL", "")
	c.ClientKey = getEnv("CLIENT_KEY", "")
	c.StatusAddr = getEnv("STATUS_ADDR", "")
	if v, err := strconv.Atoi(getEnv("SAMPLE_RATE", "16000")); err == nil {
		c.SampleRate = v
	}
	c.AudioChunk = parseDurationEnv("AUDIO_CHUNK", 125*time.Millisecond)
	if v, err := strconv.ParseFloat(getEnv("FRAME_RATE", "1"), 64); err == nil {
		c.FrameRate = v
	}
	if v, err := strconv.Atoi(getEnv("JPEG_QUALITY", "92")); err == nil {
		c.JPEGQuality = v
	}
	if v, err := strconv.Atoi(getEnv("COMPOSITE_WIDTH", "1280")); err == nil {
		c.CompositeWidth = v
	}
	if v, err := strconv.Atoi(getEnv("BAND_HEIGHT", "240")); err == nil {
		c.BandHeight = v
	}
	c.FarewellSilence = parseDurationEnv("FAREWELL_SILENCE", 600*time.Millisecond)
	c.FarewellMaxWait = parseDurationEnv("FAREWELL_MAX_WAIT", 5*time.Second)
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.ConfigFile = getEnv("CONFIG_FILE", "")

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, none)")
	flag.StringVar(&c.RelayURL, "relay-url", c.RelayURL, "relay websocket url")
	flag.StringVar(&c.AdvisoryURL, "advisory-url", c.AdvisoryURL, "advisory service websocket url; empty disables the bridge")
	flag.StringVar(&c.ClientKey, "client-key", c.ClientKey, "key presented to the relay")
	flag.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "status HTTP listen address; empty disables the status server")
	flag.IntVar(&c.SampleRate, "sample-rate", c.SampleRate, "microphone sample rate in Hz")
	flag.DurationVar(&c.AudioChunk, "audio-chunk", c.AudioChunk, "duration of one outbound PCM chunk")
	flag.Float64Var(&c.FrameRate, "frame-rate", c.FrameRate, "composite frame sampling rate in Hz")
	flag.IntVar(&c.JPEGQuality, "jpeg-quality", c.JPEGQuality, "JPEG quality for sampled frames (1-100)")
	flag.IntVar(&c.CompositeWidth, "composite-width", c.CompositeWidth, "composite surface width in pixels")
	flag.IntVar(&c.BandHeight, "band-height", c.BandHeight, "height of each composite band in pixels")
	flag.DurationVar(&c.FarewellSilence, "farewell-silence", c.FarewellSilence, "audio silence required before farewell teardown")
	flag.DurationVar(&c.FarewellMaxWait, "farewell-max-wait", c.FarewellMaxWait, "hard cap on the farewell wait")
}

// LoadFile overlays values from a YAML file onto the current config.
func (c *ClientConfig) LoadFile(path string) error {
	return loadYAML(path, c)
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, def.String())); err == nil {
		return d
	}
	return def
}
