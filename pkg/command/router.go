// Package command validates commands against live sessions, invokes the
// session's adapter and reports every outcome as an Envelope.
package command

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/session"
	"github.com/rs/zerolog"
)

// Sessions is the registry surface the router reads.
type Sessions interface {
	Get(id string) (session.Session, error)
	List() []session.Summary
}

// Lifecycle performs the commands that change session membership or
// persisted settings.
type Lifecycle interface {
	Logout(ctx context.Context, id string) error
	SetWebhook(ctx context.Context, id string, cfg *session.WebhookConfig) error
}

// Router executes commands. It never panics and never returns a bare error.
type Router struct {
	sessions  Sessions
	lifecycle Lifecycle
	logger    zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(sessions Sessions, lifecycle Lifecycle, logger zerolog.Logger) *Router {
	return &Router{
		sessions:  sessions,
		lifecycle: lifecycle,
		logger:    logger.With().Str("component", "command").Logger(),
	}
}

type SendTextRequest struct {
	SessionID string
	To        string `json:"to"`
	Body      string `json:"body"`
}

type SendMediaRequest struct {
	SessionID string
	To        string `json:"to"`
	MediaRef  string `json:"mediaRef"`
	MediaKind string `json:"mediaKind"`
	Caption   string `json:"caption"`
}

type MentionAllRequest struct {
	SessionID string
	GroupID   string `json:"groupId"`
	Message   string `json:"message"`
	Anonymous bool   `json:"anonymous"`
}

type BlockRequest struct {
	SessionID string
	ContactID string `json:"contactId"`
	Blocked   bool   `json:"blocked"`
}

type WebhookRequest struct {
	SessionID         string
	URL               string `json:"url"`
	IgnoreGroupEvents bool   `json:"ignoreGroupEvents"`
}

// SendText sends a plain text message.
func (r *Router) SendText(ctx context.Context, req SendTextRequest) Envelope {
	return r.withAdapter(ctx, "send_text", req.SessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		if err := required("to", req.To); err != nil {
			return nil, err
		}
		return a.SendText(ctx, req.To, req.Body)
	})
}

// SendMedia sends an image, audio clip or document.
func (r *Router) SendMedia(ctx context.Context, req SendMediaRequest) Envelope {
	return r.withAdapter(ctx, "send_media", req.SessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		if err := required("to", req.To); err != nil {
			return nil, err
		}
		if err := required("mediaRef", req.MediaRef); err != nil {
			return nil, err
		}
		kind, err := adapter.ParseMediaKind(req.MediaKind)
		if err != nil {
			return nil, err
		}
		return a.SendMedia(ctx, req.To, adapter.MediaDescriptor{Ref: req.MediaRef, Kind: kind}, req.Caption)
	})
}

// MentionAll sends one message mentioning every group participant.
func (r *Router) MentionAll(ctx context.Context, req MentionAllRequest) Envelope {
	return r.withAdapter(ctx, "mention_all", req.SessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		if err := required("groupId", req.GroupID); err != nil {
			return nil, err
		}
		return nil, a.MentionAll(ctx, req.GroupID, req.Message, req.Anonymous)
	})
}

// SetBlock blocks or unblocks a contact.
func (r *Router) SetBlock(ctx context.Context, req BlockRequest) Envelope {
	return r.withAdapter(ctx, "block", req.SessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		if err := required("contactId", req.ContactID); err != nil {
			return nil, err
		}
		return nil, a.SetBlockStatus(ctx, req.ContactID, req.Blocked)
	})
}

// Contacts lists the session's contacts.
func (r *Router) Contacts(ctx context.Context, sessionID string) Envelope {
	return r.withAdapter(ctx, "contacts", sessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		return a.FetchContacts(ctx)
	})
}

// Chats lists the session's chats.
func (r *Router) Chats(ctx context.Context, sessionID string) Envelope {
	return r.withAdapter(ctx, "chats", sessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		return a.FetchChats(ctx)
	})
}

// Status reports whether the session's backend is connected.
func (r *Router) Status(ctx context.Context, sessionID string) Envelope {
	return r.withAdapter(ctx, "status", sessionID, func(ctx context.Context, a adapter.Adapter) (any, error) {
		return a.Status(ctx)
	})
}

// SetWebhook sets or, with an empty URL, clears the session's webhook.
func (r *Router) SetWebhook(ctx context.Context, req WebhookRequest) Envelope {
	return r.run(ctx, "set_webhook", req.SessionID, func(ctx context.Context) (any, error) {
		if _, err := r.sessions.Get(req.SessionID); err != nil {
			return nil, err
		}

		var cfg *session.WebhookConfig
		if req.URL != "" {
			if err := validateWebhookURL(req.URL); err != nil {
				return nil, err
			}
			cfg = &session.WebhookConfig{URL: req.URL, IgnoreGroupEvents: req.IgnoreGroupEvents}
		}
		return nil, r.lifecycle.SetWebhook(ctx, req.SessionID, cfg)
	})
}

// List summarizes every session.
func (r *Router) List(ctx context.Context) Envelope {
	return r.run(ctx, "list", "", func(context.Context) (any, error) {
		return r.sessions.List(), nil
	})
}

// Logout ends the session and removes it.
func (r *Router) Logout(ctx context.Context, sessionID string) Envelope {
	return r.run(ctx, "logout", sessionID, func(ctx context.Context) (any, error) {
		return nil, r.lifecycle.Logout(ctx, sessionID)
	})
}

// withAdapter resolves the session before fn touches its adapter.
func (r *Router) withAdapter(ctx context.Context, name, sessionID string, fn func(context.Context, adapter.Adapter) (any, error)) Envelope {
	return r.run(ctx, name, sessionID, func(ctx context.Context) (any, error) {
		s, err := r.sessions.Get(sessionID)
		if err != nil {
			return nil, err
		}
		if s.State == session.StateLoggedOut {
			return nil, fmt.Errorf("%w: %s", session.ErrLoggedOut, sessionID)
		}
		if s.Adapter == nil {
			return nil, fmt.Errorf("session %s has no backend", sessionID)
		}
		return fn(ctx, s.Adapter)
	})
}

func (r *Router) run(ctx context.Context, name, sessionID string, fn func(context.Context) (any, error)) (env Envelope) {
	ctx = tracing.WithCommand(tracing.EnsureTraceID(ctx), name)
	if sessionID != "" {
		ctx = tracing.WithSessionID(ctx, sessionID)
	}
	log := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Command panicked")
			env = Envelope{Error: &ErrorBody{Code: CodeInternal, Message: fmt.Sprintf("internal error: %v", p)}}
		}
		observability.RecordCommand(name, time.Since(start), env.Success)
	}()

	result, err := fn(ctx)
	if err != nil {
		env = Fail(err)
		log.Warn().Err(err).Str("code", string(env.Error.Code)).Msg("Command failed")
		return env
	}

	log.Debug().Dur("duration", time.Since(start)).Msg("Command completed")
	return OK(result)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: webhook url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}
