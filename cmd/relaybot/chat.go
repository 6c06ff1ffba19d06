package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"relaybot/internal/channel"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the relay from the terminal",
		Long:  "Runs the same router and capability services as serve, with stdin as the only channel. Use /image <url> to send a picture.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Keep the terminal for the conversation: only warnings and above.
	cfg.General.LogLevel = "warn"
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

	loopCtx, cancelLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		p.Run(loopCtx)
	}()

	cli := channel.NewCLI(channel.CLIConfig{Logger: logger, In: cmd.InOrStdin(), Out: cmd.OutOrStdout()})
	err = cli.Start(ctx, p.bus)

	// Closing the bus lets the loop finish queued lines before it returns.
	p.bus.Close()
	<-loopDone
	cancelLoop()
	p.Close()
	return err
}
