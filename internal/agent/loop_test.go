package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/dedupe"
	"relaybot/internal/domain"
	"relaybot/internal/session"
)

type sent struct {
	recipient string
	payload   domain.OutboundPayload
}

// recordingDeliverer captures deliveries and can fail selected ones.
type recordingDeliverer struct {
	mu     sync.Mutex
	sent   []sent
	failAt map[int]bool
	calls  int
}

func (d *recordingDeliverer) Deliver(_ context.Context, recipient string, p domain.OutboundPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.calls
	d.calls++
	if d.failAt[n] {
		return errors.New("send api rejected")
	}
	d.sent = append(d.sent, sent{recipient, p})
	return nil
}

func (d *recordingDeliverer) snapshot() []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sent(nil), d.sent...)
}

// echoText replies with the last user turn after an optional delay.
type echoText struct {
	delay func(text string) time.Duration
}

func (echoText) Name() string { return "echo" }

func (e echoText) Generate(ctx context.Context, turns []domain.Turn, _ string) (string, error) {
	last := turns[len(turns)-1].Content
	if e.delay != nil {
		select {
		case <-time.After(e.delay(last)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "echo: " + last, nil
}

type loopFixture struct {
	loop      *Loop
	bus       *bus.InMemoryBus
	deliverer *recordingDeliverer
	sessions  *session.Store
	events    *bus.EventBus
}

func newLoopFixture(t *testing.T, text domain.TextGenerator, guard dedupe.Guard) *loopFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &loopFixture{
		bus:       bus.New(16, logger),
		deliverer: &recordingDeliverer{failAt: map[int]bool{}},
		sessions:  session.NewStore(session.StoreConfig{Logger: logger}),
		events:    bus.NewEventBus(logger),
	}
	f.bus.OnOutbound("test", f.deliverer)
	router := NewRouter(RouterConfig{
		Sessions: f.sessions,
		Text:     text,
		Images:   &mockImages{url: "https://img.example/x.png"},
		Vision:   &mockVision{answer: "ok"},
		Audio:    &mockAudio{url: "https://cdn.example/a.mp3", found: true},
		Logger:   logger,
	})
	f.loop = NewLoop(LoopConfig{
		Router:      router,
		Bus:         f.bus,
		Guard:       guard,
		Events:      f.events,
		Logger:      logger,
		Concurrency: 4,
	})
	return f
}

// run publishes msgs, closes the bus and waits for the loop to finish.
func (f *loopFixture) run(t *testing.T, msgs ...domain.InboundMessage) {
	t.Helper()
	for _, m := range msgs {
		if !f.bus.Publish(m) {
			t.Fatalf("publish %s failed", m.EventID)
		}
	}
	f.bus.Close()

	done := make(chan struct{})
	go func() {
		f.loop.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not finish")
	}
}

func TestLoop_DeliversReply(t *testing.T) {
	f := newLoopFixture(t, echoText{}, nil)
	f.run(t, textMsg("u1", "hi"))

	got := f.deliverer.snapshot()
	if len(got) != 1 || got[0].recipient != "u1" || got[0].payload.Text != "echo: hi" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestLoop_PerSenderOrder(t *testing.T) {
	// The first message is slow; the second must still be answered after it.
	slowFirst := echoText{delay: func(text string) time.Duration {
		if text == "one" {
			return 50 * time.Millisecond
		}
		return 0
	}}
	f := newLoopFixture(t, slowFirst, nil)
	f.run(t, textMsg("u1", "one"), textMsg("u1", "two"), textMsg("u2", "other"))

	var u1 []string
	for _, s := range f.deliverer.snapshot() {
		if s.recipient == "u1" {
			u1 = append(u1, s.payload.Text)
		}
	}
	if strings.Join(u1, ",") != "echo: one,echo: two" {
		t.Fatalf("sender order not preserved: %v", u1)
	}

	turns := f.sessions.Transcript("test:u1")
	if len(turns) != 4 || turns[0].Content != "one" || turns[2].Content != "two" {
		t.Fatalf("transcript interleaved: %+v", turns)
	}
}

func TestLoop_ContinuationAfterPrimary(t *testing.T) {
	long := strings.Repeat("y", 2100)
	f := newLoopFixture(t, echoText{}, nil)
	f.run(t, textMsg("u1", long))

	got := f.deliverer.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected primary and continuation, got %d", len(got))
	}
	if !strings.HasSuffix(got[0].payload.Text, "...") || !strings.HasPrefix(got[1].payload.Text, "...") {
		t.Fatal("primary must be delivered before continuation")
	}
}

func TestLoop_DeliveryFailureDoesNotStopContinuation(t *testing.T) {
	f := newLoopFixture(t, echoText{}, nil)
	f.deliverer.failAt[0] = true

	var failed int
	f.events.On(bus.EventDeliveryFailed, func(bus.Event) { failed++ })
	f.run(t, textMsg("u1", strings.Repeat("y", 2100)))

	got := f.deliverer.snapshot()
	if len(got) != 1 || !strings.HasPrefix(got[0].payload.Text, "...") {
		t.Fatalf("continuation should still be attempted, got %+v", got)
	}
	if failed != 1 {
		t.Fatalf("expected one delivery.failed event, got %d", failed)
	}
}

func TestLoop_SkipsRedelivery(t *testing.T) {
	f := newLoopFixture(t, echoText{}, dedupe.NewMemoryGuard(time.Minute))
	first := textMsg("u1", "hi")
	first.MessageID = "mid.42"
	again := first
	again.EventID = "evt-retry"

	f.run(t, first, again)

	if got := f.deliverer.snapshot(); len(got) != 1 {
		t.Fatalf("redelivered event must be processed once, got %d deliveries", len(got))
	}
	if n := len(f.sessions.Transcript("test:u1")); n != 2 {
		t.Fatalf("expected a single user/assistant pair, got %d turns", n)
	}
}

func TestLoop_UnknownChannelIsLogged(t *testing.T) {
	f := newLoopFixture(t, echoText{}, nil)
	msg := textMsg("u1", "hi")
	msg.Channel = "nowhere"

	var failed []bus.Event
	f.events.On(bus.EventDeliveryFailed, func(e bus.Event) { failed = append(failed, e) })
	f.run(t, msg)

	if len(failed) != 1 {
		t.Fatalf("expected delivery failure event, got %d", len(failed))
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	f := newLoopFixture(t, echoText{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}
