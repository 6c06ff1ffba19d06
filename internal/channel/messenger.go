package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

const (
	messengerName        = "messenger"
	messengerAPIBase     = "https://graph.facebook.com/v21.0"
	messengerMaxBody     = 1 << 20
	eventReceivedMessage = "EVENT_RECEIVED"
)

// Messenger implements domain.Channel for the Messenger Platform: webhook
// ingress plus delivery through the Send API.
type Messenger struct {
	cfg    config.MessengerConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
	now    func() time.Time
}

type MessengerChannelConfig struct {
	Config config.MessengerConfig
	Client *http.Client // defaults to a 30s client
	Logger *slog.Logger
}

func NewMessenger(cfg MessengerChannelConfig) *Messenger {
	if cfg.Config.APIBase == "" {
		cfg.Config.APIBase = messengerAPIBase
	}
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = "/webhook"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Messenger{
		cfg:    cfg.Config,
		logger: cfg.Logger,
		client: cfg.Client,
		now:    time.Now,
	}
}

func (m *Messenger) Name() string { return messengerName }

// WebhookPath is where Routes should be mounted.
func (m *Messenger) WebhookPath() string { return m.cfg.WebhookPath }

func (m *Messenger) Start(ctx context.Context, bus domain.MessageBus) error {
	m.bus = bus
	bus.OnOutbound(messengerName, m)
	m.logger.Info("messenger channel ready", "webhook", m.cfg.WebhookPath, "signed", m.cfg.AppSecret != "")
	return nil
}

func (m *Messenger) Stop() error { return nil }

// Routes returns the webhook handler (GET verification, POST receipt).
func (m *Messenger) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", m.handleVerification)
	r.Post("/", m.handleIncoming)
	return r
}

// --- Webhook handlers ---

func (m *Messenger) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	if mode == "subscribe" && token == m.cfg.VerifyToken {
		m.logger.Info("messenger webhook verified")
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, challenge)
		return
	}

	m.logger.Warn("messenger webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (m *Messenger) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, messengerMaxBody))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if m.cfg.AppSecret != "" && !verifyHMAC(body, m.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256")) {
		m.logger.Warn("messenger invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload fbPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		m.logger.Warn("messenger bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	if payload.Object != "page" {
		http.NotFound(rw, r)
		return
	}

	for _, msg := range m.parseEvents(payload) {
		if m.bus == nil || !m.bus.TryPublish(msg) {
			m.logger.Error("messenger event not queued", "event", msg.EventID, "sender", msg.SenderID)
		}
	}

	// Acknowledge regardless of per-event processing.
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, eventReceivedMessage)
}

func (m *Messenger) parseEvents(payload fbPayload) []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho {
				continue
			}
			msg := domain.InboundMessage{
				EventID:   uuid.NewString(),
				Channel:   messengerName,
				SenderID:  ev.Sender.ID,
				MessageID: ev.Message.Mid,
				Text:      ev.Message.Text,
				Timestamp: m.now(),
			}
			if ev.Timestamp > 0 {
				msg.Timestamp = time.UnixMilli(ev.Timestamp)
			}
			for _, a := range ev.Message.Attachments {
				msg.Attachments = append(msg.Attachments, domain.Attachment{
					Kind: domain.AttachmentKind(a.Type),
					URL:  a.Payload.URL,
				})
			}

			m.logger.Info("messenger message received",
				"sender", msg.SenderID, "kind", msg.Kind().String(), "text_len", len(msg.Text))
			out = append(out, msg)
		}
	}
	return out
}

// verifyHMAC checks an X-Hub-Signature-256 header ("sha256=<hex>") against body.
func verifyHMAC(body []byte, secret, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(hexSig), []byte(computed))
}

// --- Send API ---

// Deliver sends one payload to a page-scoped user id through the Send API.
func (m *Messenger) Deliver(ctx context.Context, recipientID string, payload domain.OutboundPayload) error {
	req := fbSendRequest{
		Recipient:     fbID{ID: recipientID},
		MessagingType: "RESPONSE",
	}
	switch payload.Kind {
	case domain.PayloadText:
		req.Message.Text = payload.Text
	case domain.PayloadMedia:
		req.Message.Attachment = &fbAttachment{
			Type:    string(payload.Media),
			Payload: fbAttachmentPayload{URL: payload.URL, IsReusable: payload.Reusable},
		}
	default:
		return fmt.Errorf("messenger: unsupported payload kind %q", payload.Kind)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	endpoint := strings.TrimRight(m.cfg.APIBase, "/") + "/me/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.PageAccessToken)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messenger API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// --- Messenger webhook payload types ---

type fbPayload struct {
	Object string    `json:"object"`
	Entry  []fbEntry `json:"entry"`
}

type fbEntry struct {
	ID        string        `json:"id"`
	Time      int64         `json:"time"`
	Messaging []fbMessaging `json:"messaging"`
}

type fbMessaging struct {
	Sender    fbID       `json:"sender"`
	Recipient fbID       `json:"recipient"`
	Timestamp int64      `json:"timestamp"`
	Message   *fbMessage `json:"message,omitempty"`
}

type fbID struct {
	ID string `json:"id"`
}

type fbMessage struct {
	Mid         string         `json:"mid"`
	Text        string         `json:"text"`
	IsEcho      bool           `json:"is_echo"`
	Attachments []fbAttachment `json:"attachments"`
}

type fbAttachment struct {
	Type    string              `json:"type"`
	Payload fbAttachmentPayload `json:"payload"`
}

type fbAttachmentPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable,omitempty"`
}

type fbSendRequest struct {
	Recipient     fbID          `json:"recipient"`
	MessagingType string        `json:"messaging_type"`
	Message       fbSendMessage `json:"message"`
}

type fbSendMessage struct {
	Text       string        `json:"text,omitempty"`
	Attachment *fbAttachment `json:"attachment,omitempty"`
}
