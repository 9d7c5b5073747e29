package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	gigecapture "github.com/e7canasta/orion-care-sensor/modules/gige-capture"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/device"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/fakecam"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/gstcam"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/ipcsink"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/supplier"
	"github.com/e7canasta/orion-care-sensor/modules/gige-capture/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration (optional)")
	backend := flag.String("backend", "", "Camera backend override: fake, gst")
	snapshotDir := flag.String("snapshot-dir", "", "Directory to save PNG snapshots (optional)")
	snapshotEvery := flag.Int("snapshot-every", 100, "Save every n-th delivered frame")
	readyDelay := flag.Duration("ready-delay", 0, "Delay before signalling system ready")
	statsInterval := flag.Duration("stats-interval", 10*time.Second, "Interval between stats log lines (0 = off)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gige-capture %s\n", gigecapture.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Camera.Backend = *backend
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	logger.Info().Str("version", gigecapture.Version).Str("config", cfg.String()).Msg("gige-capture: starting")

	if err := run(cfg, logger, options{
		snapshotDir:   *snapshotDir,
		snapshotEvery: *snapshotEvery,
		readyDelay:    *readyDelay,
		statsInterval: *statsInterval,
	}); err != nil {
		logger.Fatal().Err(err).Msg("gige-capture: stopped with error")
	}
	logger.Info().Msg("gige-capture: stopped")
}

type options struct {
	snapshotDir   string
	snapshotEvery int
	readyDelay    time.Duration
	statsInterval time.Duration
}

func setupLogger(lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return log.Logger
}

func openerFor(cfg *config.Config, logger zerolog.Logger) (device.Opener, error) {
	switch cfg.Camera.Backend {
	case "fake":
		return fakecam.New(cfg.FakeCamera()).Opener(), nil
	case "gst":
		return gstcam.Opener(cfg.GstCamera(), logger), nil
	}
	return nil, fmt.Errorf("unknown camera backend %q", cfg.Camera.Backend)
}

func run(cfg *config.Config, logger zerolog.Logger, opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opener, err := openerFor(cfg, logger)
	if err != nil {
		return err
	}

	// Downstream: fan-out supplier plus optional IPC sink
	sup := supplier.New(logger)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start frame supplier: %w", err)
	}
	defer sup.Stop()
	consumers := gigecapture.Consumers{sup}

	var sink *ipcsink.Sink
	if cfg.IPC.Enabled {
		sink = ipcsink.New(cfg.IPC.SocketPath, cfg.IPC.OutboxSize, logger)
		if err := sink.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ipc sink: %w", err)
		}
		defer sink.Stop()
		consumers = append(consumers, sink)
	}

	drv, err := gigecapture.New(opener, consumers, cfg.Driver(), logger)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	defer drv.Shutdown()

	if opts.snapshotDir != "" {
		w, err := newSnapshotWriter(opts.snapshotDir, opts.snapshotEvery, logger)
		if err != nil {
			return err
		}
		go w.run(sup.Subscribe("snapshots"))
	}

	// Control API
	var metrics = drv.Collector().Handler()
	if !cfg.Metrics.Enabled {
		metrics = nil
	}
	api := control.New(drv, metrics, logger)
	api.AddStats("supplier", func() any { return sup.Stats() })
	if sink != nil {
		api.AddStats("ipc", func() any { return sink.Stats() })
	}

	// Telemetry
	if cfg.MQTT.Enabled {
		pub, err := telemetry.Dial(ctx, cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			// telemetry is optional; acquisition runs without it
			logger.Warn().Err(err).Msg("gige-capture: mqtt unavailable, telemetry disabled")
		} else {
			defer pub.Close()
			em := telemetry.New(telemetry.Config{
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Interval:    cfg.MQTT.Interval,
				QoS:         cfg.MQTT.QoS,
			}, pub, drv, logger)
			drv.OnStateChange(em.OnStateChange)
			em.Start(ctx)
			api.AddStats("telemetry", func() any { return em.Stats() })
		}
	}

	if err := api.Start(cfg.HTTP.ListenAddr); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = api.Shutdown(shutdownCtx)
	}()

	if err := drv.Connect(ctx); err != nil {
		// the operator can retry with POST /connection/reset
		logger.Error().Err(err).Msg("gige-capture: initial connect failed")
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- drv.Run(ctx) }()

	go func() {
		select {
		case <-time.After(opts.readyDelay):
			drv.SignalReady()
		case <-ctx.Done():
			return
		}
		if cfg.Acquisition.AutoStart {
			if err := drv.StartAcquisition(ctx); err != nil {
				logger.Error().Err(err).Msg("gige-capture: auto start failed")
			}
		}
	}()

	if opts.statsInterval > 0 {
		go logStats(ctx, drv, opts.statsInterval, logger)
	}

	err = <-loopDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logStats(ctx context.Context, drv *gigecapture.Driver, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := drv.Stats()
			logger.Info().
				Str("state", s.State).
				Str("connection", s.Connection).
				Uint64("images", s.ImageCounter).
				Uint64("delivered", s.NumImagesCounter).
				Float64("fps", s.Metrics.Rate.FPSMean).
				Int("queue_depth", s.QueueDepth).
				Msg("gige-capture: stats")
		}
	}
}
