package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// BackendConstructor creates a text backend from a config entry.
type BackendConstructor func(name string, bc config.BackendConfig, client *http.Client, logger *slog.Logger) domain.TextGenerator

// Factory builds every capability client from config. Text backends are
// created once and cached by name.
type Factory struct {
	cfg          *config.Config
	client       *http.Client
	logger       *slog.Logger
	constructors map[string]BackendConstructor
	cache        map[string]domain.TextGenerator
	mu           sync.RWMutex
}

// NewFactory creates a factory with the built-in backend types registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		client:       SharedHTTPClient(0),
		logger:       logger,
		constructors: make(map[string]BackendConstructor),
		cache:        make(map[string]domain.TextGenerator),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a backend type.
func (f *Factory) RegisterConstructor(backendType string, ctor BackendConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[backendType] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(name string, bc config.BackendConfig, client *http.Client, logger *slog.Logger) domain.TextGenerator {
		return NewOpenAI(OpenAIConfig{
			Name:        name,
			APIKey:      bc.APIKey,
			APIBase:     bc.APIBase,
			Model:       bc.Model,
			MaxTokens:   bc.MaxTokens,
			Temperature: bc.Temperature,
			HTTPClient:  client,
			Logger:      logger,
		})
	}
	f.constructors["ollama"] = func(name string, bc config.BackendConfig, client *http.Client, logger *slog.Logger) domain.TextGenerator {
		return NewOllama(OllamaConfig{
			Name:         name,
			APIBase:      bc.APIBase,
			DefaultModel: bc.Model,
			Client:       client,
			Logger:       logger,
		})
	}
}

// Backend returns the named text backend.
// Uses double-check locking so concurrent callers share one instance.
func (f *Factory) Backend(name string) (domain.TextGenerator, error) {
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	bc, ok := f.cfg.TextGeneration.Backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown text backend: %s", name)
	}
	ctor, ok := f.constructors[bc.BackendType(name)]
	if !ok {
		return nil, fmt.Errorf("text backend %s: no constructor for type %q", name, bc.BackendType(name))
	}

	g := ctor(name, bc, f.client, f.logger)
	f.cache[name] = g
	return g, nil
}

// TextGenerator assembles the configured backend, its failover chain and the
// optional throttle into a single generator.
func (f *Factory) TextGenerator() (domain.TextGenerator, error) {
	tg := f.cfg.TextGeneration
	primary, err := f.Backend(tg.Backend)
	if err != nil {
		return nil, err
	}

	gen := primary
	if len(tg.Failover) > 0 {
		chain := []domain.TextGenerator{primary}
		for _, name := range tg.Failover {
			b, err := f.Backend(name)
			if err != nil {
				return nil, fmt.Errorf("failover: %w", err)
			}
			chain = append(chain, b)
		}
		gen = NewFailoverGenerator(chain, f.logger)
	}

	if rpm := f.cfg.General.RateLimitPerMinute; rpm > 0 {
		burst := rpm / 6
		if burst < 1 {
			burst = 1
		}
		gen = NewThrottledGenerator(gen, NewRateLimiter(burst, float64(rpm)))
	}

	f.logger.Info("text generation ready", "backend", gen.Name(), "rate_per_minute", f.cfg.General.RateLimitPerMinute)
	return gen, nil
}

func (f *Factory) ImageGenerator() domain.ImageGenerator {
	return NewImagine(ImagineConfig{APIBase: f.cfg.Capabilities.Imagine.APIBase, Client: f.client, Logger: f.logger})
}

func (f *Factory) ImageAnalyzer() domain.ImageAnalyzer {
	return NewGeminiVision(GeminiVisionConfig{APIBase: f.cfg.Capabilities.Gemini.APIBase, Client: f.client, Logger: f.logger})
}

func (f *Factory) AudioFinder() domain.AudioFinder {
	return NewSpotify(SpotifyConfig{APIBase: f.cfg.Capabilities.Spotify.APIBase, Client: f.client, Logger: f.logger})
}
