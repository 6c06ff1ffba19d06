package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"relaybot/internal/domain"
)

const openaiDefaultModel = "gpt-4o"

// OpenAI generates conversational replies through any OpenAI-compatible
// chat completions API.
type OpenAI struct {
	name        string
	model       string
	maxTokens   int
	temperature float32
	client      *openai.Client
	logger      *slog.Logger
}

type OpenAIConfig struct {
	Name        string // defaults to "openai"; lets several compatible backends coexist
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = SharedHTTPClient(0)
	}

	return &OpenAI{
		name:        cfg.Name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      openai.NewClientWithConfig(oc),
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

// Generate sends the system instruction followed by the transcript.
func (o *OpenAI) Generate(ctx context.Context, transcript []domain.Turn, systemInstruction string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    toOpenAIMessages(transcript, systemInstruction),
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			err = &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return "", domain.NewServiceError(domain.CapabilityText, o.name, err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.NewServiceError(domain.CapabilityText, o.name, fmt.Errorf("no choices: %w", domain.ErrNoResult))
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", domain.NewServiceError(domain.CapabilityText, o.name, fmt.Errorf("empty content: %w", domain.ErrNoResult))
	}

	o.logger.Debug("openai completion",
		"backend", o.name,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return content, nil
}

func toOpenAIMessages(transcript []domain.Turn, systemInstruction string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	if systemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemInstruction})
	}
	for _, t := range transcript {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case domain.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case domain.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}
