package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/metrics"
	"github.com/tutorlink/tutorlink/internal/status"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ClientConfig
	cfg.BindFlags()
	flag.Parse()
	if *showVersion {
		fmt.Printf("tutorlink-client version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo("client", version, buildSHA, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logx.Log.Info().Str("relay", cfg.RelayURL).Msg("client starting")
	r := NewRunner(cfg)
	vi := status.VersionInfo{Version: version, BuildSHA: buildSHA, BuildDate: buildDate}
	if err := r.Run(ctx, vi); err != nil {
		logx.Log.Fatal().Err(err).Msg("client exited")
	}
	logx.Log.Info().Msg("client stopped")
}
