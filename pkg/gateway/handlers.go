package gateway

import (
	"context"
	"encoding/json"

	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/adapter"
)

func (s *Server) registerBuiltinHandlers() {
	_ = s.router.RegisterHandler("init", s.handleInit)
	_ = s.router.RegisterHandler("logout", s.handleLogout)
}

// handleInit creates or resumes a session and binds it to the sender.
func (s *Server) handleInit(ctx context.Context, _ *Client, data json.RawMessage) any {
	var req InitRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return InitResponse{Error: "invalid init payload: " + err.Error()}
		}
	}
	if req.SessionID == "" {
		return InitResponse{Error: "sessionId is required"}
	}
	if req.Type == "" {
		req.Type = string(adapter.VariantWeb)
	}

	clientID := tracing.GetSubscriberID(ctx)
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	log := tracing.LoggerFromContext(ctx, s.logger)
	log.Info().Str("variant", req.Type).Msg("Initializing session")

	res, err := s.sessions.Init(ctx, req.SessionID, req.Type, clientID)
	if err != nil {
		return InitResponse{SessionID: req.SessionID, Type: req.Type, Error: err.Error()}
	}

	return InitResponse{
		Success:   true,
		SessionID: res.SessionID,
		Type:      string(res.Variant),
		Resumed:   res.Resumed,
	}
}

// handleLogout logs a session out and removes it.
func (s *Server) handleLogout(ctx context.Context, _ *Client, data json.RawMessage) any {
	var req LogoutRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return LogoutResponse{Error: "invalid logout payload: " + err.Error()}
		}
	}
	if req.SessionID == "" {
		return LogoutResponse{Error: "sessionId is required"}
	}

	ctx = tracing.WithSessionID(ctx, req.SessionID)
	if err := s.sessions.Logout(ctx, req.SessionID); err != nil {
		log := tracing.LoggerFromContext(ctx, s.logger)
		log.Warn().Err(err).Msg("Logout failed")
		return LogoutResponse{SessionID: req.SessionID, Error: err.Error()}
	}

	return LogoutResponse{Success: true, SessionID: req.SessionID}
}
