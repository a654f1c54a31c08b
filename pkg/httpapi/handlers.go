package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/command"
	"github.com/harun/wabridge/pkg/webhook"
	"github.com/xeipuuv/gojsonschema"
)

// Codes produced by the HTTP layer itself.
const (
	codeRateLimited  command.Code = "rate_limited"
	codeUnauthorized command.Code = "unauthorized"
)

// inboundRequest is the automation body. mediaUrl and mediaType are accepted
// as aliases used by older workflow definitions.
type inboundRequest struct {
	command.AutomationRequest
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, s.commands.List(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.Status(ctx, r.PathValue("id")))
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.Contacts(ctx, r.PathValue("id")))
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.Chats(ctx, r.PathValue("id")))
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req command.SendTextRequest
	if !s.decode(w, r, sendTextValidator, &req) {
		return
	}
	req.SessionID = r.PathValue("id")

	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.SendText(ctx, req))
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	var req command.SendMediaRequest
	if !s.decode(w, r, sendMediaValidator, &req) {
		return
	}
	req.SessionID = r.PathValue("id")

	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.SendMedia(ctx, req))
}

func (s *Server) handleMentionAll(w http.ResponseWriter, r *http.Request) {
	var req command.MentionAllRequest
	if !s.decode(w, r, mentionAllValidator, &req) {
		return
	}
	req.SessionID = r.PathValue("id")

	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.MentionAll(ctx, req))
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req command.BlockRequest
	if !s.decode(w, r, blockValidator, &req) {
		return
	}
	req.SessionID = r.PathValue("id")

	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.SetBlock(ctx, req))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req command.WebhookRequest
	if !s.decode(w, r, webhookValidator, &req) {
		return
	}
	req.SessionID = r.PathValue("id")
	writeEnvelope(w, s.commands.SetWebhook(r.Context(), req))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.Logout(ctx, r.PathValue("id")))
}

// handleInbound runs an automation request after rate limiting and
// signature checks.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	ip := webhook.ClientIP(r)
	if !s.limiter.Allow(ip) {
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfter(ip)))
		writeJSON(w, http.StatusTooManyRequests, command.Envelope{Error: &command.ErrorBody{
			Code:    codeRateLimited,
			Message: "too many requests",
		}})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, command.Fail(fmt.Errorf("%w: unreadable body", command.ErrInvalidRequest)))
		return
	}

	if s.secret != "" && !webhook.Verify(body, r.Header.Get(webhook.SignatureHeader), s.secret) {
		log := tracing.LoggerFromContext(r.Context(), s.logger)
		log.Warn().
			Str("ip", ip).
			Msg("Rejected automation request with bad signature")
		writeJSON(w, http.StatusUnauthorized, command.Envelope{Error: &command.ErrorBody{
			Code:    codeUnauthorized,
			Message: "invalid signature",
		}})
		return
	}

	var req inboundRequest
	if err := decodeBytes(body, automationValidator, &req); err != nil {
		writeEnvelope(w, command.Fail(err))
		return
	}
	if req.MediaRef == "" {
		req.MediaRef = req.MediaURL
	}
	if req.MediaKind == "" {
		req.MediaKind = req.MediaType
	}
	req.SessionID = r.PathValue("id")

	ctx, cancel := s.commandContext(r)
	defer cancel()
	writeEnvelope(w, s.commands.Automation(ctx, req.AutomationRequest))
}

func (s *Server) handleAutomationTest(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, command.OK(map[string]string{
		"message":   "connection established",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}))
}

func (s *Server) handleAutomationSessions(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, s.commands.List(r.Context()))
}

func (s *Server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// decode validates the request body and unmarshals it into dst. On failure
// it writes the envelope and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, command.Fail(fmt.Errorf("%w: unreadable body", command.ErrInvalidRequest)))
		return false
	}
	if err := decodeBytes(body, schema, dst); err != nil {
		writeEnvelope(w, command.Fail(err))
		return false
	}
	return true
}

func decodeBytes(body []byte, schema *gojsonschema.Schema, dst any) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := validate(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", command.ErrInvalidRequest, err)
	}
	return nil
}

func statusFor(env command.Envelope) int {
	if env.Success || env.Error == nil {
		return http.StatusOK
	}
	switch env.Error.Code {
	case command.CodeNotFound:
		return http.StatusNotFound
	case command.CodeInvalidRequest, command.CodeNotAGroup:
		return http.StatusBadRequest
	case command.CodeAlreadyExists, command.CodeLoggedOut:
		return http.StatusConflict
	case command.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, env command.Envelope) {
	writeJSON(w, statusFor(env), env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
