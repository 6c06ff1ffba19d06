package domain

import (
	"errors"
	"testing"
)

func TestInboundKind_ImageWinsOverText(t *testing.T) {
	msg := InboundMessage{
		Text:        "look at this",
		Attachments: []Attachment{{Kind: AttachmentImage, URL: "https://cdn.example/a.jpg"}},
	}
	if msg.Kind() != InboundImage {
		t.Fatalf("expected image, got %s", msg.Kind())
	}
	if msg.ImageURL() != "https://cdn.example/a.jpg" {
		t.Fatalf("unexpected image url %q", msg.ImageURL())
	}
}

func TestInboundKind_NonImageAttachmentFallsBackToText(t *testing.T) {
	msg := InboundMessage{
		Text:        "hello",
		Attachments: []Attachment{{Kind: AttachmentAudio, URL: "https://cdn.example/a.mp3"}},
	}
	if msg.Kind() != InboundText {
		t.Fatalf("expected text, got %s", msg.Kind())
	}
	if msg.ImageURL() != "" {
		t.Fatalf("non-image message should have no image url")
	}
}

func TestInboundKind_Unsupported(t *testing.T) {
	cases := []InboundMessage{
		{},
		{Text: "   \n\t"},
		{Attachments: []Attachment{{Kind: AttachmentFile, URL: "https://cdn.example/a.pdf"}}},
		{Attachments: []Attachment{{Kind: AttachmentImage}}},
	}
	for i, msg := range cases {
		if msg.Kind() != InboundUnsupported {
			t.Errorf("case %d: expected unsupported, got %s", i, msg.Kind())
		}
	}
}

func TestServiceError_WrapsOnce(t *testing.T) {
	base := NewServiceError(CapabilityImage, "generate", ErrNoResult)
	again := NewServiceError(CapabilityText, "other", base)

	var se *ServiceError
	if !errors.As(again, &se) {
		t.Fatal("expected ServiceError")
	}
	if se.Capability != CapabilityImage {
		t.Fatalf("expected original capability to be kept, got %s", se.Capability)
	}
	if !errors.Is(again, ErrNoResult) {
		t.Fatal("expected ErrNoResult to be reachable through the chain")
	}
	if NewServiceError(CapabilityText, "x", nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}
