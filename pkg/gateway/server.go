// Package gateway is the real-time transport: websocket subscribers send
// init and logout frames and receive their sessions' events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/hub"
	"github.com/harun/wabridge/pkg/webhook"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// SessionService is the session lifecycle the gateway drives.
type SessionService interface {
	Init(ctx context.Context, sessionID, variant, subscriberID string) (hub.InitResult, error)
	Logout(ctx context.Context, sessionID string) error
	UnbindSubscriber(subscriberID string) []string
}

// Server is the websocket gateway.
type Server struct {
	host        string
	port        int
	rateLimit   int
	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	router      *FrameRouter
	authHandler *AuthHandler
	broadcaster *EventBroadcaster
	sessions    SessionService
	logger      zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string // empty disables the auth handshake
	RateLimit    int    // inbound frames per client per minute
	Sessions     SessionService
	Logger       zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		rateLimit:   cfg.RateLimit,
		clients:     clients,
		router:      NewFrameRouter(),
		authHandler: NewAuthHandler(cfg.SharedSecret),
		broadcaster: NewEventBroadcaster(clients, logger),
		sessions:    cfg.Sessions,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinHandlers()

	return s, nil
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
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

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
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

// Stop notifies clients, waits for in-flight frames until ctx is done and
// closes every connection.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight frames completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    webhook.ClientIP(r),
		Limiter:      NewFrameLimiter(s.rateLimit, 10),
		State:        StateConnecting,
	}

	if !s.authHandler.Enabled() {
		client.Authenticated = true
		client.State = StateAuthenticated
	}

	observability.SetGatewayClients(s.clients.Add(client))

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", client.IPAddress).
		Msg("Client connected")

	if s.authHandler.Enabled() {
		if err := s.sendAuthChallenge(client); err != nil {
			s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
			s.disconnect(client)
			return
		}
	}

	go s.handleClient(client)
}

func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

func (s *Server) handleClient(client *Client) {
	defer s.disconnect(client)

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// disconnect drops the client and unbinds it from its sessions. The
// sessions themselves keep running.
func (s *Server) disconnect(client *Client) {
	_ = client.Conn.Close()
	s.clients.Mutate(client, func(c *Client) { c.State = StateDisconnected })
	observability.SetGatewayClients(s.clients.Remove(client.ID))

	unbound := s.sessions.UnbindSubscriber(client.ID)
	s.logger.Info().
		Str("clientId", client.ID).
		Int("sessions", len(unbound)).
		Msg("Client disconnected")
}

func (s *Server) handleMessage(client *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		s.handleAuthMessage(client, authResp)
		return
	}

	if !client.Authenticated {
		s.sendError(client, AuthenticationRequired, "Authentication required")
		return
	}

	frame, err := s.router.ParseFrame(message)
	if err != nil {
		var fe *FrameError
		if errors.As(err, &fe) {
			s.sendError(client, fe.Code, fe.Message)
		} else {
			s.sendError(client, ParseError, err.Error())
		}
		return
	}

	release, err := client.Limiter.Acquire()
	if err != nil {
		code := RateLimitExceeded
		if errors.Is(err, ErrTooManyConcurrent) {
			code = TooManyConcurrent
		}
		s.sendError(client, code, err.Error())
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer release()
		defer s.inFlightReqs.Done()

		ctx := tracing.WithSubscriberID(tracing.NewRequestContext(context.Background()), client.ID)

		out := s.router.Route(ctx, client, frame)
		if err := client.WriteJSON(out); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("event", frame.Event).
				Msg("Failed to send response")
		}
	}()
}

func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	var (
		result   AuthResult
		attempts int
	)
	s.clients.Mutate(client, func(c *Client) {
		result = s.authHandler.HandleAuthResponse(c, authResp.Signature)
		attempts = c.AuthAttempts
	})

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")

	if attempts >= maxAuthAttempts {
		_ = client.Conn.Close()
	}
}

func (s *Server) sendError(client *Client, code int, message string) {
	if err := client.WriteJSON(errorFrame(code, message)); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error frame")
	}
}

// Publish pushes a session event to one subscriber.
func (s *Server) Publish(subscriberID, event, sessionID string, data any) error {
	return s.SendToClient(subscriberID, EventMessage{Event: event, Session: sessionID, Data: data})
}

// SendToClient pushes msg to one authenticated client.
func (s *Server) SendToClient(clientID string, msg EventMessage) error {
	return s.broadcaster.SendToClient(clientID, msg)
}

// Broadcast sends an event to every authenticated client.
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
