package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"relaybot/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama generates replies with a local or remote Ollama server.
type Ollama struct {
	name         string
	apiBase      string
	defaultModel string
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	Name         string
	APIBase      string
	DefaultModel string
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Name == "" {
		cfg.Name = "ollama"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		name:         cfg.Name,
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		defaultModel: cfg.DefaultModel,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return o.name }

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message    ollamaMsg `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason"`
}

func (o *Ollama) Generate(ctx context.Context, transcript []domain.Turn, systemInstruction string) (string, error) {
	msgs := make([]ollamaMsg, 0, len(transcript)+1)
	if systemInstruction != "" {
		msgs = append(msgs, ollamaMsg{Role: string(domain.RoleSystem), Content: systemInstruction})
	}
	for _, t := range transcript {
		msgs = append(msgs, ollamaMsg{Role: string(t.Role), Content: t.Content})
	}

	body, err := json.Marshal(ollamaRequest{Model: o.defaultModel, Messages: msgs})
	if err != nil {
		return "", domain.NewServiceError(domain.CapabilityText, o.name, fmt.Errorf("marshal request: %w", err))
	}

	reply, err := o.chat(ctx, body)
	if err != nil {
		return "", domain.NewServiceError(domain.CapabilityText, o.name, err)
	}
	return reply, nil
}

func (o *Ollama) chat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Message.Content == "" {
		return "", fmt.Errorf("empty message (done_reason=%q): %w", out.DoneReason, domain.ErrNoResult)
	}
	return out.Message.Content, nil
}
