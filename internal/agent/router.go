package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/session"
)

const defaultCallTimeout = 60 * time.Second

// Route names, used for logs, metrics and journal entries.
const (
	RouteImage        = "image"
	RouteImagine      = "imagine"
	RouteGemini       = "gemini"
	RoutePlay         = "play"
	RouteConversation = "conversation"
	RouteUnsupported  = "unsupported"
)

// Router turns one inbound message into the ordered payloads to send back.
// It owns every capability call and absorbs every failure: the caller always
// gets at least one payload and never an error.
type Router struct {
	sessions    *session.Store
	text        domain.TextGenerator
	images      domain.ImageGenerator
	vision      domain.ImageAnalyzer
	audio       domain.AudioFinder
	splitter    Splitter
	persona     Persona
	callTimeout time.Duration
	events      *bus.EventBus
	logger      *slog.Logger
}

// RouterConfig holds the router's dependencies.
type RouterConfig struct {
	Sessions    *session.Store
	Text        domain.TextGenerator
	Images      domain.ImageGenerator
	Vision      domain.ImageAnalyzer
	Audio       domain.AudioFinder
	Splitter    Splitter
	Persona     Persona
	CallTimeout time.Duration // per capability call
	Events      *bus.EventBus // optional
	Logger      *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Splitter == (Splitter{}) {
		cfg.Splitter = NewSplitter(0, "")
	}
	if cfg.Persona.SystemInstruction == "" {
		cfg.Persona = DefaultPersona()
	}
	return &Router{
		sessions:    cfg.Sessions,
		text:        cfg.Text,
		images:      cfg.Images,
		vision:      cfg.Vision,
		audio:       cfg.Audio,
		splitter:    cfg.Splitter,
		persona:     cfg.Persona,
		callTimeout: cfg.CallTimeout,
		events:      cfg.Events,
		logger:      cfg.Logger,
	}
}

// Route dispatches msg, first match wins:
// image attachment, /imagine, /gemini, /play, conversation, then the
// unsupported fallback.
func (r *Router) Route(ctx context.Context, msg domain.InboundMessage) []domain.OutboundPayload {
	var (
		route string
		out   []domain.OutboundPayload
	)

	switch msg.Kind() {
	case domain.InboundImage:
		route, out = RouteImage, r.storeImage(msg)
	case domain.InboundText:
		cmd := ParseCommand(msg.Text)
		switch {
		case cmd == nil:
			route, out = RouteConversation, r.converse(ctx, msg, strings.TrimSpace(msg.Text))
		case cmd.Name == CommandImagine:
			route, out = RouteImagine, r.imagine(ctx, msg, cmd.Arg)
		case cmd.Name == CommandGemini:
			route, out = RouteGemini, r.analyze(ctx, msg, cmd.Arg)
		case cmd.Name == CommandPlay:
			route, out = RoutePlay, r.play(ctx, msg, cmd.Args())
		}
	default:
		route, out = RouteUnsupported, r.texts(r.persona.Replies.Unsupported)
	}

	metrics.RoutesTotal.WithLabelValues(route).Inc()
	r.logger.Debug("message routed", "sender", msg.SenderID, "route", route, "payloads", len(out))
	r.events.Emit(bus.Event{
		Type:     bus.EventRouted,
		Source:   "router",
		EventID:  msg.EventID,
		SenderID: msg.SenderID,
		Payload:  map[string]any{"route": route, "payloads": len(out)},
	})
	return out
}

func (r *Router) storeImage(msg domain.InboundMessage) []domain.OutboundPayload {
	r.sessions.SetLastImage(msg.ConversationKey(), msg.ImageURL())
	return r.texts(r.persona.Replies.ImageReceived)
}

func (r *Router) imagine(ctx context.Context, msg domain.InboundMessage, prompt string) []domain.OutboundPayload {
	var url string
	err := r.call(ctx, domain.CapabilityImage, func(ctx context.Context) (err error) {
		url, err = r.images.GenerateImage(ctx, prompt)
		return err
	})
	if err != nil {
		r.fail(msg, domain.CapabilityImage, "imagine", err)
		return r.texts(failure(r.persona.Replies.ImageFailed))
	}
	return []domain.OutboundPayload{domain.MediaPayload(domain.MediaImage, url, false)}
}

func (r *Router) analyze(ctx context.Context, msg domain.InboundMessage, prompt string) []domain.OutboundPayload {
	imageURL, ok := r.sessions.LastImage(msg.ConversationKey())
	if !ok {
		return r.texts(r.persona.Replies.SendImageFirst)
	}

	var answer string
	err := r.call(ctx, domain.CapabilityVision, func(ctx context.Context) (err error) {
		answer, err = r.vision.AnalyzeImage(ctx, prompt, imageURL)
		if err == nil && strings.TrimSpace(answer) == "" {
			err = domain.ErrNoResult
		}
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNoResult):
		r.logger.Info("image analysis returned nothing", "sender", msg.SenderID, "op", "gemini")
		return r.texts(r.persona.Replies.AnalysisEmpty)
	case err != nil:
		r.fail(msg, domain.CapabilityVision, "gemini", err)
		return r.texts(failure(r.persona.Replies.AnalysisFailed))
	}
	return r.texts(answer)
}

func (r *Router) play(ctx context.Context, msg domain.InboundMessage, query []string) []domain.OutboundPayload {
	var (
		url   string
		found bool
	)
	err := r.call(ctx, domain.CapabilityAudio, func(ctx context.Context) (err error) {
		url, found, err = r.audio.FindAudio(ctx, query)
		if err == nil && !found {
			err = domain.ErrNoResult
		}
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNoResult):
		return r.texts(r.persona.Replies.AudioNotFound)
	case err != nil:
		r.fail(msg, domain.CapabilityAudio, "play", err)
		return r.texts(failure(r.persona.Replies.AudioFailed))
	}
	return []domain.OutboundPayload{domain.MediaPayload(domain.MediaAudio, url, true)}
}

// converse records the user turn, generates a reply from the whole transcript
// and records the reply. The assistant turn holds the full text, not the
// truncated primary payload.
func (r *Router) converse(ctx context.Context, msg domain.InboundMessage, text string) []domain.OutboundPayload {
	key := msg.ConversationKey()
	r.sessions.RecordTurn(key, domain.RoleUser, text)
	transcript := r.sessions.Transcript(key)

	var reply string
	err := r.call(ctx, domain.CapabilityText, func(ctx context.Context) (err error) {
		reply, err = r.text.Generate(ctx, transcript, r.persona.SystemInstruction)
		if err == nil && strings.TrimSpace(reply) == "" {
			err = domain.NewServiceError(domain.CapabilityText, r.text.Name(), domain.ErrNoResult)
		}
		return err
	})
	if err != nil {
		r.fail(msg, domain.CapabilityText, "conversation", err)
		errText := failure(r.persona.Replies.TextFailed)
		r.sessions.RecordTurn(key, domain.RoleAssistant, errText)
		return r.texts(errText)
	}

	r.sessions.RecordTurn(key, domain.RoleAssistant, reply)

	primary, continuation, split := r.splitter.Split(reply)
	if !split {
		return r.texts(primary)
	}
	metrics.RepliesSplit.Inc()
	return r.texts(primary, continuation)
}

// call runs one capability invocation under the per-call timeout and records
// its outcome.
func (r *Router) call(ctx context.Context, capability string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)

	result := metrics.ResultOK
	switch {
	case errors.Is(err, domain.ErrNoResult):
		result = metrics.ResultEmpty
	case err != nil:
		result = metrics.ResultError
	}
	metrics.ObserveCapability(capability, result, time.Since(start))
	return err
}

func (r *Router) fail(msg domain.InboundMessage, capability, op string, err error) {
	r.logger.Error("capability call failed",
		"sender", msg.SenderID,
		"capability", capability,
		"op", op,
		"err", err,
	)
	r.events.Emit(bus.Event{
		Type:     bus.EventCapabilityFailed,
		Source:   "router",
		EventID:  msg.EventID,
		SenderID: msg.SenderID,
		Payload:  map[string]any{"capability": capability, "op": op, "error": err.Error()},
	})
}

func (r *Router) texts(texts ...string) []domain.OutboundPayload {
	out := make([]domain.OutboundPayload, 0, len(texts))
	for _, t := range texts {
		out = append(out, domain.TextPayload(t))
	}
	return out
}
