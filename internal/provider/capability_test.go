package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

func serveJSON(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

// --- Imagine ---

func TestImagine_BuildsImageURL(t *testing.T) {
	var gotPrompt string
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/imagine" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotPrompt = r.URL.Query().Get("prompt")
		w.Write([]byte(`{"fileName":"fox 1.png"}`))
	})

	img := NewImagine(ImagineConfig{APIBase: srv.URL + "/", Client: srv.Client(), Logger: testLogger()})
	url, err := img.GenerateImage(context.Background(), "a red & blue fox")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotPrompt != "a red & blue fox" {
		t.Fatalf("prompt not encoded correctly, server saw %q", gotPrompt)
	}
	if url != srv.URL+"/api/image/fox%201.png" {
		t.Fatalf("unexpected image url %q", url)
	}
}

func TestImagine_MissingFileName(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"queued"}`))
	})

	img := NewImagine(ImagineConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := img.GenerateImage(context.Background(), "x")
	if !errors.Is(err, domain.ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestImagine_ServerError(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	img := NewImagine(ImagineConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := img.GenerateImage(context.Background(), "x")

	var se *domain.ServiceError
	if !errors.As(err, &se) || se.Capability != domain.CapabilityImage {
		t.Fatalf("expected image ServiceError, got %v", err)
	}
	var st *StatusError
	if !errors.As(err, &st) || st.StatusCode != http.StatusBadGateway || !st.Transient() {
		t.Fatalf("expected transient 502 status error, got %v", err)
	}
}

// --- Gemini ---

func TestGeminiVision_Answer(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/gemini" || q.Get("prompt") != "what is this" || q.Get("url") != "https://cdn.fb/x.jpg?a=1&b=2" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`{"gemini":"It is a cat."}`))
	})

	g := NewGeminiVision(GeminiVisionConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	answer, err := g.AnalyzeImage(context.Background(), "what is this", "https://cdn.fb/x.jpg?a=1&b=2")
	if err != nil || answer != "It is a cat." {
		t.Fatalf("unexpected result %q %v", answer, err)
	}
}

func TestGeminiVision_EmptyAnswer(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"gemini":""}`))
	})

	g := NewGeminiVision(GeminiVisionConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := g.AnalyzeImage(context.Background(), "p", "u")
	if !errors.Is(err, domain.ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestGeminiVision_BadJSON(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	g := NewGeminiVision(GeminiVisionConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := g.AnalyzeImage(context.Background(), "p", "u")
	if err == nil || errors.Is(err, domain.ErrNoResult) {
		t.Fatalf("malformed body should be a service failure, got %v", err)
	}
}

// --- Spotify ---

func TestSpotify_FirstDownload(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") != "bohemian rhapsody" {
			t.Errorf("unexpected search %q", r.URL.Query().Get("search"))
		}
		w.Write([]byte(`[{"download":"https://dl/1.mp3"},{"download":"https://dl/2.mp3"}]`))
	})

	s := NewSpotify(SpotifyConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	url, found, err := s.FindAudio(context.Background(), []string{"bohemian", "rhapsody"})
	if err != nil || !found || url != "https://dl/1.mp3" {
		t.Fatalf("unexpected result %q %v %v", url, found, err)
	}
}

func TestSpotify_NotFound(t *testing.T) {
	for _, body := range []string{`[]`, `[{"title":"x"}]`, `{"error":"no results"}`} {
		srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})

		s := NewSpotify(SpotifyConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
		_, found, err := s.FindAudio(context.Background(), []string{"q"})
		if err != nil || found {
			t.Errorf("%s: expected not found without error, got found=%v err=%v", body, found, err)
		}
	}
}

func TestSpotify_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	s := NewSpotify(SpotifyConfig{APIBase: base, Logger: testLogger()})
	_, _, err := s.FindAudio(context.Background(), []string{"q"})
	var se *domain.ServiceError
	if !errors.As(err, &se) || se.Capability != domain.CapabilityAudio {
		t.Fatalf("expected audio ServiceError, got %v", err)
	}
}

// --- Text backends ---

func TestOpenAI_Generate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	})

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL + "/v1", HTTPClient: srv.Client(), Logger: testLogger()})
	reply, err := o.Generate(context.Background(), []domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hey"},
		{Role: domain.RoleUser, Content: "how are you"},
	}, "be nice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "Hello!" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got.Model != "gpt-4o" || len(got.Messages) != 4 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "be nice" || got.Messages[2].Role != "assistant" {
		t.Fatalf("transcript not mapped in order: %+v", got.Messages)
	}
}

func TestOpenAI_EmptyContent(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"  "},"finish_reason":"stop"}]}`))
	})

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})
	reply, err := o.Generate(context.Background(), []domain.Turn{{Role: domain.RoleUser, Content: "hi"}}, "")
	if reply != "" {
		t.Fatalf("expected no reply, got %q", reply)
	}
	if !errors.Is(err, domain.ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
	var se *domain.ServiceError
	if !errors.As(err, &se) || se.Capability != domain.CapabilityText {
		t.Fatalf("expected text ServiceError, got %v", err)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, HTTPClient: srv.Client(), Logger: testLogger()})
	_, err := o.Generate(context.Background(), []domain.Turn{{Role: domain.RoleUser, Content: "hi"}}, "")

	var st *StatusError
	if !errors.As(err, &st) || st.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status error, got %v", err)
	}
	var se *domain.ServiceError
	if !errors.As(err, &se) || se.Capability != domain.CapabilityText {
		t.Fatalf("expected text ServiceError, got %v", err)
	}
}

func TestOllama_Generate(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("generation must not stream")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"pong"},"done":true}`))
	})

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	reply, err := o.Generate(context.Background(), []domain.Turn{{Role: domain.RoleUser, Content: "ping"}}, "sys")
	if err != nil || reply != "pong" {
		t.Fatalf("unexpected result %q %v", reply, err)
	}
}

func TestOllama_ErrorStatus(t *testing.T) {
	srv := serveJSON(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 2000), http.StatusInternalServerError)
	})

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	_, err := o.Generate(context.Background(), nil, "")
	var st *StatusError
	if !errors.As(err, &st) || len(st.Body) > maxErrorBody {
		t.Fatalf("expected truncated status error, got %v", err)
	}
}

// --- Factory ---

func TestFactory_TextGeneratorChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.TextGeneration.Failover = []string{"ollama"}
	cfg.General.RateLimitPerMinute = 60

	f := NewFactory(cfg, testLogger())
	gen, err := f.TextGenerator()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tg, ok := gen.(*ThrottledGenerator)
	if !ok {
		t.Fatalf("expected throttled generator, got %T", gen)
	}
	if _, ok := tg.next.(*FailoverGenerator); !ok {
		t.Fatalf("expected failover inside throttle, got %T", tg.next)
	}
}

func TestFactory_PlainBackend(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	gen, err := f.TextGenerator()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := gen.(*OpenAI); !ok {
		t.Fatalf("expected bare OpenAI backend, got %T", gen)
	}

	again, _ := f.Backend("openai")
	if again != gen {
		t.Fatal("backends should be cached")
	}
}

func TestFactory_UnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.TextGeneration.Backend = "missing"
	if _, err := NewFactory(cfg, testLogger()).TextGenerator(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFactory_CustomConstructor(t *testing.T) {
	cfg := config.Defaults()
	cfg.TextGeneration.Backends["echo"] = config.BackendConfig{Type: "echo"}
	cfg.TextGeneration.Backend = "echo"

	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("echo", func(name string, _ config.BackendConfig, _ *http.Client, _ *slog.Logger) domain.TextGenerator {
		return &mockGenerator{name: name, reply: "echo"}
	})

	gen, err := f.TextGenerator()
	if err != nil || gen.Name() != "echo" {
		t.Fatalf("custom backend not used: %v %v", gen, err)
	}
}
