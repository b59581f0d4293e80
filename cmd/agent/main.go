package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/logmonitor/logmonitor-agent/internal/config"
	"github.com/logmonitor/logmonitor-agent/internal/console"
	"github.com/logmonitor/logmonitor-agent/internal/environment"
	"github.com/logmonitor/logmonitor-agent/internal/forwarder"
	"github.com/logmonitor/logmonitor-agent/internal/logging/logmonitor"
	"github.com/logmonitor/logmonitor-agent/internal/source"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fallback := newLogger("info")
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := StartAgent(ctx, cfg, logger)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan
		logger.Info().Msg("received shutdown signal")
		cancel()
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	agent.Stop(shutdownCtx)
}

type Agent struct {
	hub       *source.Hub
	forwarder *forwarder.Forwarder
	tailer    *source.Tailer
	metrics   *http.Server
	logger    zerolog.Logger
}

// StartAgent wires the forwarder to a log hub. The process's slog default
// logger, and any files under cfg.TailPath, feed the hub.
func StartAgent(ctx context.Context, cfg config.Config, logger zerolog.Logger) *Agent {
	hub := source.NewHub(logger)
	slog.SetDefault(slog.New(source.NewHandler(hub)))

	sender := logmonitor.NewSender(cfg.Endpoint, cfg.RequestTimeout, logmonitor.WithLogger(logger))

	fwd := forwarder.New(sender, hub, newProbe(cfg),
		forwarder.WithConfig(cfg.LoggingConfig()),
		forwarder.WithLogger(logger),
		forwarder.WithEcho(console.New(os.Stdout, false)),
	)
	fwd.Initialize(cfg.APIKey)
	if cfg.UserID != "" {
		fwd.SetUser(cfg.UserID)
	}

	agent := &Agent{hub: hub, forwarder: fwd, logger: logger}

	if cfg.TailPath != "" {
		agent.tailer = source.NewTailer(ctx, source.TailerConfig{
			RootPath:     cfg.TailPath,
			Pattern:      cfg.TailPattern,
			ScanInterval: cfg.ScanInterval,
			MaxFiles:     cfg.MaxFiles,
			IdleTimeout:  5 * time.Minute,
		}, hub, logger)
		agent.tailer.Start()
	}

	if cfg.MetricsAddr != "" {
		agent.metrics = startMetricsServer(cfg.MetricsAddr, fwd, logger)
	}

	slog.Info("logmonitor agent started", "endpoint", sender.Endpoint(), "mode", fwd.Mode().String())
	return agent
}

// Stop follows the forwarder's disposal order: inputs first, then the final
// flush.
func (a *Agent) Stop(ctx context.Context) {
	if a.tailer != nil {
		a.tailer.Stop()
	}
	if err := a.forwarder.Dispose(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("dispose failed")
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("metrics server shutdown failed")
		}
	}
	m := a.forwarder.Metrics()
	a.logger.Info().
		Int("captured", m.EntriesCaptured).
		Int("sent", m.EntriesSent).
		Int("failed_batches", m.BatchesFailed).
		Msg("agent stopped")
}

func newProbe(cfg config.Config) environment.Probe {
	var probe environment.Probe = environment.NewBuildInfoProbe()
	if cfg.BundleID != "" {
		probe = environment.Static{BuildMode: probe.Mode(), Identifier: cfg.BundleID}
	}
	if cfg.Mode != config.ModeAuto {
		// Validate has already rejected unknown modes.
		mode, _ := environment.ParseMode(cfg.Mode)
		probe = environment.Override{Probe: probe, ForcedMode: mode}
	}
	return probe
}

func startMetricsServer(addr string, fwd *forwarder.Forwarder, logger zerolog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(forwarder.NewCollector(fwd, "logmonitor"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Str("component", "logmonitor").
		Logger()
}
