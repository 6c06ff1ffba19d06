package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"relaybot/internal/domain"
)

const imagineDefaultBase = "https://imagine890.onrender.com"

// Imagine generates images through the imagine890 API. The API answers with a
// file name; the public image URL is derived from it.
type Imagine struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

type ImagineConfig struct {
	APIBase string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewImagine(cfg ImagineConfig) *Imagine {
	if cfg.APIBase == "" {
		cfg.APIBase = imagineDefaultBase
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Imagine{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type imagineResponse struct {
	FileName string `json:"fileName"`
}

// GenerateImage returns the public URL of an image generated from prompt.
func (i *Imagine) GenerateImage(ctx context.Context, prompt string) (string, error) {
	endpoint := i.apiBase + "/api/imagine?" + url.Values{"prompt": {prompt}}.Encode()

	var resp imagineResponse
	if err := getJSON(ctx, i.client, endpoint, &resp); err != nil {
		return "", domain.NewServiceError(domain.CapabilityImage, "imagine", err)
	}
	if resp.FileName == "" {
		return "", domain.NewServiceError(domain.CapabilityImage, "imagine", domain.ErrNoResult)
	}

	imageURL := i.apiBase + "/api/image/" + url.PathEscape(resp.FileName)
	i.logger.Debug("image generated", "file", resp.FileName)
	return imageURL, nil
}
