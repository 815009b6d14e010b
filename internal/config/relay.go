package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// RelayConfig holds configuration for the tutorlink relay daemon. The
// vendor API key lives here and nowhere else; it never crosses the
// control connection.
type RelayConfig struct {
	Port           int      `yaml:"port"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	VendorKey      string   `yaml:"vendor_key"`
	VendorURL      string   `yaml:"vendor_url"`
	Model          string   `yaml:"model"`
	ClientKey      string   `yaml:"client_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RedisAddr      string   `yaml:"redis_addr"`
	LogLevel       string   `yaml:"log_level"`
	ConfigFile     string   `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables
// and binds command line flags so main can call flag.Parse().
func (c *RelayConfig) BindFlags() {
	port, _ := strconv.Atoi(getEnv("PORT", "8080"))
	c.Port = port
	mp := getEnv("METRICS_PORT", "")
	switch {
	case mp == "":
		c.MetricsAddr = fmt.Sprintf(":%d", port)
	case strings.Contains(mp, ":"):
		c.MetricsAddr = mp
	default:
		c.MetricsAddr = ":" + mp
	}
	c.VendorKey = getEnv("VENDOR_API_KEY", "")
	c.VendorURL = getEnv("VENDOR_URL", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent")
	c.Model = getEnv("MODEL", "models/gemini-2.0-flash-live-001")
	c.ClientKey = getEnv("CLIENT_KEY", "")
	c.AllowedOrigins = splitComma(getEnv("ALLOWED_ORIGINS", ""))
	c.RedisAddr = getEnv("REDIS_ADDR", "")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.ConfigFile = getEnv("CONFIG_FILE", "")

	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "relay config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the control connection endpoint")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	flag.StringVar(&c.VendorKey, "vendor-key", c.VendorKey, "vendor API key; required")
	flag.StringVar(&c.VendorURL, "vendor-url", c.VendorURL, "vendor live API websocket endpoint")
	flag.StringVar(&c.Model, "model", c.Model, "default vendor model for sessions that do not name one")
	flag.StringVar(&c.ClientKey, "client-key", c.ClientKey, "shared key clients must present when connecting; empty disables auth")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for relay session state")
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// LoadFile overlays values from a YAML file onto the current config.
func (c *RelayConfig) LoadFile(path string) error {
	return loadYAML(path, c)
}
