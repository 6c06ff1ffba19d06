package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/channel"
	"relaybot/internal/domain"
	"relaybot/internal/gateway"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server, channels and relay loop",
		Long:  "Starts the HTTP gateway (Messenger webhook, /healthz, /metrics), every enabled channel and the relay loop. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, logCloser, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var (
		channels []domain.Channel
		webhooks []gateway.Webhook
	)

	if cfg.Messenger.Enabled {
		if cfg.Messenger.PageAccessToken == "" {
			logger.Warn("messenger enabled without a page access token; replies will fail")
		}
		m := channel.NewMessenger(channel.MessengerChannelConfig{Config: cfg.Messenger, Logger: logger})
		if err := m.Start(ctx, p.bus); err != nil {
			p.Close()
			return fmt.Errorf("messenger: %w", err)
		}
		channels = append(channels, m)
		webhooks = append(webhooks, m)
	} else {
		logger.Info("messenger channel disabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			PublicURL: cfg.Server.PublicURL,
			Logger:    logger,
		})
		channels = append(channels, tg)
		webhooks = append(webhooks, tg)
		go func() {
			if err := tg.Start(ctx, p.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:        cfg.Server.Addr(),
		StaticDir:   cfg.Server.StaticDir,
		MetricsPath: metricsPath,
		Webhooks:    webhooks,
		Sessions:    p.sessions,
		Logger:      logger,
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		p.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start(ctx) }()

	logger.Info("relaybot started. Press Ctrl+C to stop.", "version", version, "addr", cfg.Server.Addr())

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}
	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop", "channel", ch.Name(), "err", err)
			}
		}
		<-loopDone
		p.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}
