package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"feedsync/internal/codec"
	"feedsync/internal/config"
	"feedsync/internal/metrics"
	"feedsync/internal/plugin"
	"feedsync/internal/publisher"
	"feedsync/internal/session"
	"feedsync/internal/transport"
	"feedsync/internal/wire"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "feedsync",
		Short:        "Keep subscriptions to a publisher server in sync over one WebSocket connection",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.json", "path to config file (JSON or YAML)")

	return cmd
}

func run(ctx context.Context, configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Error().Err(err).Msg("failed to load config")
		return err
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", configPath).
		Str("url", cfg.URL).
		Int("channels", len(cfg.Channels)).
		Msg("starting feedsync")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := session.Options{}

	var metricsServer *metrics.Server
	if cfg.IsMetricsEnabled() {
		m, err := metrics.New()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		opts.Recorder = m
		opts.Observer = m
		metricsServer = metrics.NewServer(m, cfg.Metrics.Listen, cfg.Metrics.Path, logger)
	}

	var scripts codec.ScriptDecoder
	if cfg.IsPluginsEnabled() {
		pm := plugin.NewPluginManager(logger)
		pm.SetTimeout(cfg.GetPluginTimeoutDuration())
		if err := pm.LoadFromDirectory(cfg.GetPluginDirectory()); err != nil {
			return fmt.Errorf("failed to load plugins: %w", err)
		}
		defer pm.Close()
		logger.Info().Strs("channels", pm.GetChannels()).Msg("plugins loaded")
		scripts = pm
	}

	c := codec.New(scripts, logger)
	opts.Encoder = c
	opts.Decoder = c

	wireLogLevel, err := publisher.ParseWireLogLevel(cfg.WireLogLevel)
	if err != nil {
		return err
	}

	client := transport.NewWSClient(transport.Config{
		URL:               cfg.URL,
		ResponseTimeout:   cfg.GetResponseTimeoutDuration(),
		MessageTimeout:    cfg.GetMessageTimeoutDuration(),
		ReconnectInterval: cfg.GetReconnectIntervalDuration(),
		PingInterval:      cfg.GetPingIntervalDuration(),
	}, logger)

	handler := newLogHandler(logger)
	sess, err := session.New(session.Config{
		TickInterval: cfg.GetTickIntervalDuration(),
		Publisher: publisher.Config{
			SendThrottle:     cfg.SendThrottle,
			WireLogLevel:     wireLogLevel,
			WireLogCacheSize: cfg.WireLogCacheSize,
		},
	}, client, handler, opts, logger)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// Activate configured channels
	for i, chCfg := range cfg.Channels {
		ch, err := codec.NewChannel(chCfg.Controller, chCfg.Topic, wire.Action(chCfg.Action), chCfg.Data)
		if err != nil {
			return fmt.Errorf("invalid channel %s/%s: %w", chCfg.Controller, chCfg.Topic, err)
		}
		sub := publisher.NewSubscription(publisher.DataItemID(i+1), 1, ch, chCfg.IsResendAllowed())
		handler.track(sub)
		sess.Activate(sub)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("feedsync stopped")
		return err
	}

	logger.Info().Msg("feedsync stopped")
	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
