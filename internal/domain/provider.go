package domain

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry of a sender's conversation transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Capability names, used for logging, metrics and error attribution.
const (
	CapabilityText   = "text_generation"
	CapabilityImage  = "image_generation"
	CapabilityVision = "image_analysis"
	CapabilityAudio  = "audio_lookup"
)

// TextGenerator produces the assistant reply for a transcript.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, transcript []Turn, systemInstruction string) (string, error)
}

// ImageGenerator turns a prompt into a public image URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ImageAnalyzer answers a prompt about the image at imageURL.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, prompt, imageURL string) (string, error)
}

// AudioFinder looks up a downloadable track. found is false when the query
// has no match; that is not an error.
type AudioFinder interface {
	FindAudio(ctx context.Context, query []string) (url string, found bool, err error)
}

// Deliverer sends one payload to a recipient.
type Deliverer interface {
	Deliver(ctx context.Context, recipientID string, payload OutboundPayload) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, recipientID string, payload OutboundPayload) error

func (f DelivererFunc) Deliver(ctx context.Context, recipientID string, payload OutboundPayload) error {
	return f(ctx, recipientID, payload)
}

// ErrNoResult marks a capability response that came back without the expected field.
var ErrNoResult = errors.New("no result in response")

// ServiceError is any failure of a capability client.
type ServiceError struct {
	Capability string
	Op         string
	Err        error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Capability, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError wraps err as a ServiceError, leaving existing ServiceErrors untouched.
func NewServiceError(capability, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Capability: capability, Op: op, Err: err}
}
