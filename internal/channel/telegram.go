package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/domain"
)

const (
	telegramName      = "telegram"
	telegramFilesPath = "/telegram"
	telegramFileTTL   = 24 * time.Hour
)

// Telegram implements domain.Channel for a Telegram bot (long polling).
// The chat id is used as the sender id so replies land in the same chat.
//
// Telegram file URLs embed the bot token, so inbound photos are exposed as
// {publicURL}/telegram/file/{fileID} and fetched server-side by Routes.
type Telegram struct {
	token        string
	endpoint     string
	fileEndpoint string
	publicURL    string
	client       *http.Client
	allowFrom    []int64 // Allowed user IDs (empty = allow all)

	mu    sync.Mutex
	files map[string]time.Time // file id -> first seen

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token        string
	AllowFrom    []string // User IDs as strings
	PublicURL    string   // base URL the gateway is reachable at; photos are dropped without it
	APIEndpoint  string   // defaults to tgbotapi.APIEndpoint
	FileEndpoint string   // defaults to tgbotapi.FileEndpoint
	Client       *http.Client
	Logger       *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:        cfg.Token,
		endpoint:     cfg.APIEndpoint,
		fileEndpoint: cfg.FileEndpoint,
		publicURL:    strings.TrimRight(cfg.PublicURL, "/"),
		client:       cfg.Client,
		allowFrom:    allowed,
		files:        make(map[string]time.Time),
		logger:       cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramName }

// WebhookPath is where the file proxy is mounted.
func (t *Telegram) WebhookPath() string { return telegramFilesPath }

// Routes serves GET /file/{fileID} for file ids seen in inbound photos.
func (t *Telegram) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/file/{fileID}", t.handleFile)
	return r
}

// Connect authenticates the bot. Start calls it when needed.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", t.redact(err))
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus
	if err := t.Connect(); err != nil {
		return err
	}
	bus.OnOutbound(telegramName, t)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: StopReceivingUpdates runs when Start's context is
// cancelled, and calling it twice panics.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg, ok := t.toInbound(update)
	if !ok {
		return
	}
	if !t.bus.Publish(msg) {
		t.logger.Error("telegram event not queued", "event", msg.EventID, "sender", msg.SenderID)
	}
}

// toInbound converts an update into an inbound message. Photos become an
// image attachment pointing at the file proxy for the largest size; the
// caption, if any, is kept as text.
func (t *Telegram) toInbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}

	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		return domain.InboundMessage{}, false
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := domain.InboundMessage{
		EventID:   chatID + ":" + strconv.Itoa(m.MessageID),
		Channel:   telegramName,
		SenderID:  chatID,
		MessageID: strconv.Itoa(m.MessageID),
		Text:      m.Text,
		Timestamp: m.Time(),
	}

	if len(m.Photo) > 0 {
		largest := m.Photo[len(m.Photo)-1]
		if link, ok := t.fileLink(largest.FileID); ok {
			msg.Attachments = []domain.Attachment{{Kind: domain.AttachmentImage, URL: link}}
		} else {
			t.logger.Warn("telegram photo dropped: server.publicUrl is not set", "sender", chatID)
		}
		msg.Text = m.Caption
	}

	t.logger.Info("telegram message received",
		"user_id", m.From.ID,
		"chat_id", m.Chat.ID,
		"kind", msg.Kind().String(),
	)
	return msg, true
}

// fileLink registers fileID with the proxy and returns its public URL.
func (t *Telegram) fileLink(fileID string) (string, bool) {
	if t.publicURL == "" || fileID == "" {
		return "", false
	}
	now := time.Now()
	t.mu.Lock()
	for id, seen := range t.files {
		if now.Sub(seen) > telegramFileTTL {
			delete(t.files, id)
		}
	}
	t.files[fileID] = now
	t.mu.Unlock()
	return t.publicURL + telegramFilesPath + "/file/" + url.PathEscape(fileID), true
}

func (t *Telegram) knownFile(fileID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.files[fileID]
	return ok && time.Since(seen) <= telegramFileTTL
}

func (t *Telegram) handleFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if !t.knownFile(fileID) {
		http.NotFound(w, r)
		return
	}
	if t.bot == nil {
		http.Error(w, "telegram not connected", http.StatusServiceUnavailable)
		return
	}

	file, err := t.botFor(r.Context()).GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		t.logger.Error("telegram file lookup failed", "file_id", fileID, "err", t.redact(err))
		http.Error(w, "file lookup failed", http.StatusBadGateway)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, fmt.Sprintf(t.fileEndpoint, t.token, file.FilePath), nil)
	if err != nil {
		http.Error(w, "file lookup failed", http.StatusInternalServerError)
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("telegram file download failed", "file_id", fileID, "err", t.redact(err))
		http.Error(w, "file download failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Error("telegram file download failed", "file_id", fileID, "status", resp.StatusCode)
		http.Error(w, "file download failed", http.StatusBadGateway)
		return
	}

	ct := mime.TypeByExtension(path.Ext(file.FilePath))
	if ct == "" {
		ct = resp.Header.Get("Content-Type")
	}
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if resp.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		t.logger.Warn("telegram file copy interrupted", "file_id", fileID, "err", t.redact(err))
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// Deliver sends a text, photo or audio message to a chat.
func (t *Telegram) Deliver(ctx context.Context, recipientID string, payload domain.OutboundPayload) error {
	if t.bot == nil {
		return fmt.Errorf("telegram: not connected")
	}
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	var c tgbotapi.Chattable
	switch {
	case payload.Kind == domain.PayloadText:
		c = tgbotapi.NewMessage(chatID, payload.Text)
	case payload.Kind == domain.PayloadMedia && payload.Media == domain.MediaImage:
		c = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(payload.URL))
	case payload.Kind == domain.PayloadMedia && payload.Media == domain.MediaAudio:
		c = tgbotapi.NewAudio(chatID, tgbotapi.FileURL(payload.URL))
	default:
		return fmt.Errorf("telegram: unsupported payload %s/%s", payload.Kind, payload.Media)
	}

	if _, err := t.botFor(ctx).Send(c); err != nil {
		return fmt.Errorf("telegram send: %w", t.redact(err))
	}
	return nil
}

// ctxClient binds Bot API requests to a context; tgbotapi builds its
// requests without one.
type ctxClient struct {
	ctx    context.Context
	client *http.Client
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// botFor returns a copy of the connected bot whose requests honour ctx.
func (t *Telegram) botFor(ctx context.Context) *tgbotapi.BotAPI {
	b := *t.bot
	b.Client = ctxClient{ctx: ctx, client: t.client}
	return &b
}

// redact strips the bot token from err; request URLs carry it in the path.
func (t *Telegram) redact(err error) error {
	if err == nil || t.token == "" || !strings.Contains(err.Error(), t.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), t.token, "<redacted>"))
}
