package channel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

// fakeBotAPI answers the handful of Bot API methods the channel uses and
// records every call's form values.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []botCall
}

type botCall struct {
	method string
	form   map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/") {
		if r.URL.Path != "/file/bot123:abc/photos/cat.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("JPEGDATA"))
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	form := make(map[string]string)
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	f.mu.Lock()
	f.calls = append(f.calls, botCall{method: method, form: form})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"relay","username":"relaybot"}}`))
	case "getFile":
		w.Write([]byte(`{"ok":true,"result":{"file_id":"big","file_path":"photos/cat.jpg"}}`))
	case "sendMessage", "sendPhoto", "sendAudio":
		w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":42,"type":"private"}}}`))
	default:
		w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (f *fakeBotAPI) sent() []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if strings.HasPrefix(c.method, "send") {
			out = append(out, c)
		}
	}
	return out
}

func newTestTelegram(t *testing.T, allow []string) (*Telegram, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tg := NewTelegram(TelegramConfig{
		Token:        "123:abc",
		AllowFrom:    allow,
		PublicURL:    "https://relay.example/",
		APIEndpoint:  srv.URL + "/bot%s/%s",
		FileEndpoint: srv.URL + "/file/bot%s/%s",
		Client:       srv.Client(),
		Logger:       testLogger(),
	})
	if err := tg.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return tg, api
}

func TestTelegramDeliver(t *testing.T) {
	tg, api := newTestTelegram(t, nil)
	ctx := context.Background()

	if err := tg.Deliver(ctx, "42", domain.TextPayload("hello")); err != nil {
		t.Fatal(err)
	}
	if err := tg.Deliver(ctx, "42", domain.MediaPayload(domain.MediaImage, "https://cdn.example/a.png", false)); err != nil {
		t.Fatal(err)
	}
	if err := tg.Deliver(ctx, "42", domain.MediaPayload(domain.MediaAudio, "https://cdn.example/a.mp3", true)); err != nil {
		t.Fatal(err)
	}

	sent := api.sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sent))
	}
	if sent[0].method != "sendMessage" || sent[0].form["text"] != "hello" || sent[0].form["chat_id"] != "42" {
		t.Errorf("unexpected text send: %+v", sent[0])
	}
	if sent[1].method != "sendPhoto" || sent[1].form["photo"] != "https://cdn.example/a.png" {
		t.Errorf("unexpected photo send: %+v", sent[1])
	}
	if sent[2].method != "sendAudio" || sent[2].form["audio"] != "https://cdn.example/a.mp3" {
		t.Errorf("unexpected audio send: %+v", sent[2])
	}
}

func TestTelegramDeliver_BadRecipient(t *testing.T) {
	tg, _ := newTestTelegram(t, nil)
	if err := tg.Deliver(context.Background(), "not-a-number", domain.TextPayload("x")); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestTelegramDeliver_NotConnected(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	if err := tg.Deliver(context.Background(), "42", domain.TextPayload("x")); err == nil {
		t.Fatal("expected error before Connect")
	}
}

func TestTelegramToInbound(t *testing.T) {
	tg, _ := newTestTelegram(t, nil)

	text := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: 9},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      "/imagine a cat",
		Date:      1700000000,
	}}
	msg, ok := tg.toInbound(text)
	if !ok {
		t.Fatal("expected text update to convert")
	}
	if msg.SenderID != "42" || msg.MessageID != "5" || msg.Channel != "telegram" {
		t.Errorf("unexpected addressing: %+v", msg)
	}
	if msg.Kind() != domain.InboundText || msg.Text != "/imagine a cat" {
		t.Errorf("unexpected text: %+v", msg)
	}

	photo := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 6,
		From:      &tgbotapi.User{ID: 9},
		Chat:      &tgbotapi.Chat{ID: 42},
		Caption:   "look",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "big", Width: 1280, Height: 1280},
		},
	}}
	msg, ok = tg.toInbound(photo)
	if !ok {
		t.Fatal("expected photo update to convert")
	}
	if msg.Kind() != domain.InboundImage {
		t.Fatalf("expected image kind, got %s", msg.Kind())
	}
	if msg.ImageURL() != "https://relay.example/telegram/file/big" {
		t.Errorf("unexpected image url %q", msg.ImageURL())
	}
	if msg.Text != "look" {
		t.Errorf("expected caption kept as text, got %q", msg.Text)
	}

	if _, ok := tg.toInbound(tgbotapi.Update{}); ok {
		t.Error("update without message should be ignored")
	}
}

func TestTelegramAllowFrom(t *testing.T) {
	tg, _ := newTestTelegram(t, []string{"9", " 10 ", "junk"})
	b := bus.New(4, testLogger())
	tg.bus = b

	for _, from := range []int64{9, 10, 11} {
		tg.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
			MessageID: int(from),
			From:      &tgbotapi.User{ID: from},
			Chat:      &tgbotapi.Chat{ID: from},
			Text:      "hi",
		}})
	}

	msgs := drainBus(b)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 allowed messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.SenderID == "11" {
			t.Error("user 11 should have been filtered")
		}
	}
}

func TestTelegramToInbound_NoPublicURL(t *testing.T) {
	tg, _ := newTestTelegram(t, nil)
	tg.publicURL = ""

	msg, ok := tg.toInbound(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 6,
		From:      &tgbotapi.User{ID: 9},
		Chat:      &tgbotapi.Chat{ID: 42},
		Photo:     []tgbotapi.PhotoSize{{FileID: "big"}},
	}})
	if !ok {
		t.Fatal("expected update to convert")
	}
	if len(msg.Attachments) != 0 {
		t.Fatalf("photo must not be forwarded without a public URL: %+v", msg.Attachments)
	}
}

func TestTelegramFileProxy(t *testing.T) {
	tg, _ := newTestTelegram(t, nil)
	link, ok := tg.fileLink("big")
	if !ok {
		t.Fatal("expected a proxy link")
	}
	if strings.Contains(link, "123:abc") {
		t.Fatalf("proxy link leaks the bot token: %s", link)
	}

	srv := httptest.NewServer(tg.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/file/big")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "JPEGDATA" {
		t.Fatalf("unexpected proxy response %d %q", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}

	resp, err = http.Get(srv.URL + "/file/never-seen")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown file ids must 404, got %d", resp.StatusCode)
	}
}

func TestTelegramDeliver_HonoursContext(t *testing.T) {
	tg, api := newTestTelegram(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tg.Deliver(ctx, "42", domain.TextPayload("late"))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if strings.Contains(err.Error(), "123:abc") {
		t.Fatalf("error leaks the bot token: %v", err)
	}
	if len(api.sent()) != 0 {
		t.Error("nothing should reach the Bot API after cancellation")
	}
}
