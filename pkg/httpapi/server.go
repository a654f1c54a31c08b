// Package httpapi exposes the command router over HTTP, including the
// signed automation endpoint used by workflow tools.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/pkg/command"
	"github.com/harun/wabridge/pkg/webhook"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Server serves the command API.
type Server struct {
	host     string
	port     int
	timeout  time.Duration
	secret   string
	commands *command.Router
	limiter  *webhook.RateLimiter
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
	now      func() time.Time
}

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration // per-request deadline for commands

	// InboundSecret, when set, requires a valid X-Webhook-Signature on
	// automation requests.
	InboundSecret    string
	InboundRateLimit int // automation requests per client IP per minute

	Router *command.Router
	Logger zerolog.Logger
}

// NewServer creates an API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("command router is required")
	}
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Server{
		host:     cfg.Host,
		port:     cfg.Port,
		timeout:  cfg.Timeout,
		secret:   cfg.InboundSecret,
		commands: cfg.Router,
		limiter:  webhook.NewRateLimiter(cfg.InboundRateLimit),
		logger:   cfg.Logger.With().Str("component", "httpapi").Logger(),
		now:      time.Now,
	}, nil
}

// Handler returns the routed handler wrapped in tracing and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /sessions/{id}/contacts", s.handleContacts)
	mux.HandleFunc("GET /sessions/{id}/chats", s.handleChats)
	mux.HandleFunc("POST /sessions/{id}/send-text", s.handleSendText)
	mux.HandleFunc("POST /sessions/{id}/send-media", s.handleSendMedia)
	mux.HandleFunc("POST /sessions/{id}/mention-all", s.handleMentionAll)
	mux.HandleFunc("POST /sessions/{id}/block", s.handleBlock)
	mux.HandleFunc("POST /sessions/{id}/webhook", s.handleWebhook)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleLogout)

	mux.HandleFunc("POST /webhook-inbound/{id}", s.handleInbound)
	mux.HandleFunc("GET /automation/test", s.handleAutomationTest)
	mux.HandleFunc("GET /automation/sessions", s.handleAutomationSessions)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.MetricsHandler())

	return s.recoverer(s.traced(mux))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprint(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP API")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP API server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.limiter.Stop()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http api: %w", err)
	}
	s.logger.Info().Msg("HTTP API stopped")
	return nil
}
