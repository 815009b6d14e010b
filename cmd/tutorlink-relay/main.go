package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/metrics"
	"github.com/tutorlink/tutorlink/internal/relaysrv"
	"github.com/tutorlink/tutorlink/internal/relaystate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.RelayConfig
	cfg.BindFlags()
	flag.Parse()
	if *showVersion {
		fmt.Printf("tutorlink-relay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if cfg.VendorKey == "" {
		logx.Log.Fatal().Msg("vendor API key is required (--vendor-key or VENDOR_API_KEY)")
	}

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo("relay", version, buildSHA, buildDate)

	store, err := relaystate.NewStore(cfg.RedisAddr)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("session store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: relaysrv.New(cfg, store).Router(),
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	// A dedicated metrics listener when it differs from the main port.
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logx.Log.Warn().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
	}

	logx.Log.Info().Int("port", cfg.Port).Str("model", cfg.Model).Msg("relay starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("relay exited")
	}
	logx.Log.Info().Msg("relay stopped")
}
