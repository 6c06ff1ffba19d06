package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/dedupe"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	defaultConcurrency     = 8
	defaultDeliveryTimeout = 30 * time.Second
)

// Loop is the relay engine: receive event → route → deliver payloads in order.
//
// Events run on at most concurrency workers. Events from the same sender are
// queued on a lane and processed strictly in arrival order, so a sender's
// transcript is never written by two events at once.
type Loop struct {
	router          *Router
	bus             domain.MessageBus
	guard           dedupe.Guard
	events          *bus.EventBus
	logger          *slog.Logger
	concurrency     int
	deliveryTimeout time.Duration

	sem   chan struct{}
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// lane holds the pending events of one sender.
type lane struct {
	pending []domain.InboundMessage
}

// LoopConfig holds all dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Router          *Router
	Bus             domain.MessageBus
	Guard           dedupe.Guard  // optional: redelivery guard
	Events          *bus.EventBus // optional
	Logger          *slog.Logger
	Concurrency     int // max events processed at once (default 8)
	DeliveryTimeout time.Duration
}

// NewLoop creates a new loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if cfg.Guard == nil {
		cfg.Guard = dedupe.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		router:          cfg.Router,
		bus:             cfg.Bus,
		guard:           cfg.Guard,
		events:          cfg.Events,
		logger:          cfg.Logger,
		concurrency:     cfg.Concurrency,
		deliveryTimeout: cfg.DeliveryTimeout,
		sem:             make(chan struct{}, cfg.Concurrency),
		lanes:           make(map[string]*lane),
	}
}

// Run consumes inbound events until ctx is cancelled or the bus is closed,
// then waits for queued events to finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started", "concurrency", l.concurrency)
	defer l.wg.Wait()

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			l.enqueue(ctx, msg)
		}
	}
}

// enqueue appends msg to its sender's lane, starting a drainer for the lane
// when none is running.
func (l *Loop) enqueue(ctx context.Context, msg domain.InboundMessage) {
	key := msg.ConversationKey()

	l.mu.Lock()
	if ln, ok := l.lanes[key]; ok {
		ln.pending = append(ln.pending, msg)
		l.mu.Unlock()
		return
	}
	ln := &lane{pending: []domain.InboundMessage{msg}}
	l.lanes[key] = ln
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.drain(ctx, key, ln)
	}()
}

func (l *Loop) drain(ctx context.Context, key string, ln *lane) {
	for {
		l.mu.Lock()
		if len(ln.pending) == 0 {
			delete(l.lanes, key)
			l.mu.Unlock()
			return
		}
		msg := ln.pending[0]
		ln.pending = ln.pending[1:]
		l.mu.Unlock()

		l.sem <- struct{}{}
		l.processMessage(ctx, msg)
		<-l.sem
	}
}

// processMessage runs one event end to end. Failures are logged and counted,
// never returned: the webhook has already been acknowledged.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	kind := msg.Kind()
	metrics.EventsTotal.WithLabelValues(msg.Channel, kind.String()).Inc()
	l.logger.Info("processing event",
		"event", msg.EventID,
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"kind", kind,
	)
	l.events.Emit(bus.Event{
		Type:     bus.EventInboundReceived,
		Source:   msg.Channel,
		EventID:  msg.EventID,
		SenderID: msg.SenderID,
		Payload:  map[string]any{"kind": kind.String(), "mid": msg.MessageID, "text": msg.Text},
	})

	if l.duplicate(ctx, msg) {
		return
	}

	payloads := l.router.Route(ctx, msg)
	for i, p := range payloads {
		l.deliver(ctx, msg, i, p)
	}
}

func (l *Loop) duplicate(ctx context.Context, msg domain.InboundMessage) bool {
	if msg.MessageID == "" {
		return false
	}
	dup, err := l.guard.Seen(ctx, msg.Channel+":"+msg.MessageID)
	if err != nil {
		l.logger.Warn("redelivery check failed, processing anyway", "event", msg.EventID, "err", err)
		return false
	}
	if !dup {
		return false
	}

	metrics.EventsDropped.WithLabelValues(metrics.ResultDuplicate).Inc()
	l.logger.Info("skipping redelivered event", "event", msg.EventID, "mid", msg.MessageID, "sender", msg.SenderID)
	l.events.Emit(bus.Event{
		Type:     bus.EventInboundDuplicate,
		Source:   msg.Channel,
		EventID:  msg.EventID,
		SenderID: msg.SenderID,
		Payload:  map[string]any{"mid": msg.MessageID},
	})
	return true
}

// deliver sends one payload and waits for the outcome, so a continuation is
// never attempted before its primary has been handed to the platform.
func (l *Loop) deliver(ctx context.Context, msg domain.InboundMessage, seq int, p domain.OutboundPayload) {
	dctx, cancel := context.WithTimeout(ctx, l.deliveryTimeout)
	defer cancel()

	err := l.bus.Deliver(dctx, domain.OutboundMessage{
		EventID:     msg.EventID,
		Channel:     msg.Channel,
		RecipientID: msg.SenderID,
		Payload:     p,
	})

	evt := bus.Event{
		Source:   msg.Channel,
		EventID:  msg.EventID,
		SenderID: msg.SenderID,
		Payload:  map[string]any{"seq": seq, "kind": string(p.Kind), "media": string(p.Media), "text": p.Text, "url": p.URL},
	}
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues(msg.Channel, string(p.Kind), metrics.ResultError).Inc()
		l.logger.Error("delivery failed",
			"event", msg.EventID,
			"sender", msg.SenderID,
			"op", "deliver",
			"seq", seq,
			"err", err,
		)
		evt.Type = bus.EventDeliveryFailed
		evt.Payload["error"] = err.Error()
		l.events.Emit(evt)
		return
	}

	metrics.DeliveriesTotal.WithLabelValues(msg.Channel, string(p.Kind), metrics.ResultOK).Inc()
	evt.Type = bus.EventDeliverySent
	l.events.Emit(evt)
}
