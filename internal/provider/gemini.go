package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"relaybot/internal/domain"
)

const geminiDefaultBase = "https://joshweb.click"

// GeminiVision answers questions about an image through the joshweb gemini endpoint.
type GeminiVision struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type GeminiVisionConfig struct {
	APIBase string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewGeminiVision(cfg GeminiVisionConfig) *GeminiVision {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiDefaultBase
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GeminiVision{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type geminiResponse struct {
	Gemini string `json:"gemini"`
}

// AnalyzeImage returns the model's answer. A response without the answer
// field is reported as domain.ErrNoResult.
func (g *GeminiVision) AnalyzeImage(ctx context.Context, prompt, imageURL string) (string, error) {
	q := url.Values{"prompt": {prompt}, "url": {imageURL}}
	endpoint := g.apiBase + "/gemini?" + q.Encode()

	var resp geminiResponse
	if err := getJSON(ctx, g.client, endpoint, &resp); err != nil {
		return "", domain.NewServiceError(domain.CapabilityVision, "analyze", err)
	}
	if strings.TrimSpace(resp.Gemini) == "" {
		return "", domain.NewServiceError(domain.CapabilityVision, "analyze", domain.ErrNoResult)
	}
	return resp.Gemini, nil
}
