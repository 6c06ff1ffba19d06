package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// FailoverGenerator tries multiple text backends in order, falling back to
// the next one when the current fails. Each backend is called at most once
// per Generate.
type FailoverGenerator struct {
	backends []domain.TextGenerator
	logger   *slog.Logger
}

// NewFailoverGenerator creates a failover chain. At least one backend is required.
func NewFailoverGenerator(backends []domain.TextGenerator, logger *slog.Logger) *FailoverGenerator {
	return &FailoverGenerator{
		backends: backends,
		logger:   logger,
	}
}

func (fg *FailoverGenerator) Name() string {
	names := make([]string, len(fg.backends))
	for i, b := range fg.backends {
		names[i] = b.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Generate returns the first successful reply.
func (fg *FailoverGenerator) Generate(ctx context.Context, transcript []domain.Turn, systemInstruction string) (string, error) {
	if len(fg.backends) == 0 {
		return "", domain.NewServiceError(domain.CapabilityText, "failover", fmt.Errorf("no backends configured"))
	}

	var lastErr error
	for i, b := range fg.backends {
		reply, err := b.Generate(ctx, transcript, systemInstruction)
		if err == nil {
			if i > 0 {
				fg.logger.Info("failover: used fallback backend",
					"backend", b.Name(),
					"attempt", i+1,
				)
			}
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		fg.logger.Warn("failover: backend failed, trying next",
			"backend", b.Name(),
			"attempt", i+1,
			"err", err,
		)
	}
	return "", fmt.Errorf("all backends in failover chain failed: %w", lastErr)
}
