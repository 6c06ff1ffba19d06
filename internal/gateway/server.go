package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"relaybot/internal/metrics"
)

// Webhook is an ingress channel that serves HTTP callbacks.
type Webhook interface {
	Name() string
	WebhookPath() string
	Routes() http.Handler
}

// SessionCounter reports how many sessions are held.
type SessionCounter interface {
	Len() int
}

// Server is the public HTTP surface: webhooks, health, metrics and static files.
type Server struct {
	addr   string
	router chi.Router
	server *http.Server
	logger *slog.Logger
}

type ServerConfig struct {
	Addr        string
	StaticDir   string // served at / when the directory exists
	MetricsPath string // empty disables /metrics
	Webhooks    []Webhook
	Sessions    SessionCounter
	Logger      *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{addr: cfg.Addr, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthHandler(cfg.Sessions))
	if cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, metrics.Handler())
	}
	for _, wh := range cfg.Webhooks {
		r.Mount(wh.WebhookPath(), wh.Routes())
		cfg.Logger.Info("webhook mounted", "channel", wh.Name(), "path", wh.WebhookPath())
	}
	if cfg.StaticDir != "" {
		if fi, err := os.Stat(cfg.StaticDir); err == nil && fi.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
			cfg.Logger.Info("serving static files", "dir", cfg.StaticDir)
		}
	}

	s.router = r
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "err", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status        string  `json:"status"`
	Sessions      int     `json:"sessions"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

func healthHandler(sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", UptimeSeconds: metrics.Uptime().Seconds()}
		if sessions != nil {
			resp.Sessions = sessions.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
