package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/agent"
	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/dedupe"
	"relaybot/internal/journal"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/session"
)

// pipeline is everything between the channels and the capability services.
type pipeline struct {
	bus      *bus.InMemoryBus
	events   *bus.EventBus
	sessions *session.Store
	router   *agent.Router
	loop     *agent.Loop
	guard    dedupe.Guard
	journal  *journal.SQLiteJournal
	journalH string // journal's EventBus handler
	pruner   *journal.Pruner
	logger   *slog.Logger
}

func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{
		bus:    bus.New(cfg.General.QueueSize, logger),
		events: bus.NewEventBus(logger),
		logger: logger,
	}

	p.sessions = session.NewStore(session.StoreConfig{
		MaxTurns: cfg.Session.MaxTurns,
		Logger:   logger,
		OnCreate: func(count int) {
			metrics.ActiveSessions.Set(float64(count))
			p.events.Emit(bus.Event{
				Type:    bus.EventSessionCreated,
				Source:  "session",
				Payload: map[string]any{"sessions": count},
			})
		},
	})

	persona, err := agent.LoadPersona(cfg.Persona.Path, logger)
	if err != nil {
		return nil, err
	}

	factory := provider.NewFactory(cfg, logger)
	text, err := factory.TextGenerator()
	if err != nil {
		return nil, fmt.Errorf("text generation: %w", err)
	}

	p.router = agent.NewRouter(agent.RouterConfig{
		Sessions:    p.sessions,
		Text:        text,
		Images:      factory.ImageGenerator(),
		Vision:      factory.ImageAnalyzer(),
		Audio:       factory.AudioFinder(),
		Splitter:    agent.NewSplitter(cfg.Reply.Ceiling, cfg.Reply.Ellipsis),
		Persona:     persona,
		CallTimeout: time.Duration(cfg.General.CapabilityTimeoutSeconds) * time.Second,
		Events:      p.events,
		Logger:      logger,
	})

	p.guard, err = newGuard(ctx, cfg.Dedupe, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			p.guard.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		p.journalH = j.Subscribe(p.events)
		p.journal = j
		p.pruner = journal.NewPruner(journal.PrunerConfig{
			Journal:       j,
			Schedule:      cfg.Journal.PruneSchedule,
			RetentionDays: cfg.Journal.RetentionDays,
			Logger:        logger,
		})
		if err := p.pruner.Start(ctx); err != nil {
			p.events.Off("*", p.journalH)
			j.Close()
			p.guard.Close()
			return nil, err
		}
		logger.Info("journal enabled", "path", cfg.Journal.DBPath)
	}

	p.loop = agent.NewLoop(agent.LoopConfig{
		Router:          p.router,
		Bus:             p.bus,
		Guard:           p.guard,
		Events:          p.events,
		Logger:          logger,
		Concurrency:     cfg.General.MaxConcurrentEvents,
		DeliveryTimeout: time.Duration(cfg.General.DeliveryTimeoutSeconds) * time.Second,
	})

	return p, nil
}

// newGuard picks the redelivery guard: Redis when a URL is configured, an
// in-process map otherwise, or nothing when disabled.
func newGuard(ctx context.Context, cfg config.DedupeConfig, logger *slog.Logger) (dedupe.Guard, error) {
	if !cfg.Enabled {
		return dedupe.Nop{}, nil
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if cfg.RedisURL == "" {
		return dedupe.NewMemoryGuard(ttl), nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	g, err := dedupe.NewRedisGuard(pingCtx, cfg.RedisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("dedupe: %w", err)
	}
	logger.Info("redelivery guard using redis")
	return g, nil
}

// Run consumes the inbound queue until ctx is cancelled; it returns once
// in-flight events have drained.
func (p *pipeline) Run(ctx context.Context) {
	p.loop.Run(ctx)
}

// Close releases the guard and the journal. Call after Run has returned.
func (p *pipeline) Close() {
	p.bus.Close()
	if p.pruner != nil {
		p.pruner.Stop()
	}
	if p.journal != nil {
		p.events.Off("*", p.journalH)
		if err := p.journal.Close(); err != nil {
			p.logger.Warn("journal close", "err", err)
		}
	}
	if err := p.guard.Close(); err != nil {
		p.logger.Warn("dedupe close", "err", err)
	}
}
