// Package relay fans normalized backend events out to the session's bound
// subscriber and, independently, to its webhook.
package relay

import (
	"context"

	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/events"
	"github.com/harun/wabridge/pkg/session"
	"github.com/harun/wabridge/pkg/webhook"
	"github.com/rs/zerolog"
)

// Publisher pushes an event to one real-time subscriber.
type Publisher interface {
	Publish(subscriberID, event, sessionID string, data any) error
}

// WebhookSink delivers an envelope to a URL without blocking the caller.
type WebhookSink interface {
	Dispatch(url string, env webhook.Envelope)
}

// SessionLookup resolves a session snapshot.
type SessionLookup interface {
	Get(id string) (session.Session, error)
}

// Relay routes events. Subscriber pushes are best effort; a missing or
// failing subscriber drops the event without retry.
type Relay struct {
	sessions  SessionLookup
	publisher Publisher
	webhooks  WebhookSink
	logger    zerolog.Logger
}

// New creates a relay.
func New(sessions SessionLookup, publisher Publisher, webhooks WebhookSink, logger zerolog.Logger) *Relay {
	return &Relay{
		sessions:  sessions,
		publisher: publisher,
		webhooks:  webhooks,
		logger:    logger.With().Str("component", "relay").Logger(),
	}
}

// Deliver routes ev for sessionID.
func (r *Relay) Deliver(ctx context.Context, sessionID string, ev events.Event) {
	log := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("sessionId", sessionID).
		Str("event", string(ev.Kind)).
		Logger()

	s, err := r.sessions.Get(sessionID)
	if err != nil {
		log.Debug().Err(err).Msg("Dropping event for unknown session")
		return
	}

	observability.RecordEventRelayed(string(ev.Kind))

	r.publish(log, s, ev)
	r.dispatch(log, s, ev)
}

func (r *Relay) publish(log zerolog.Logger, s session.Session, ev events.Event) {
	if s.SubscriberID == "" || r.publisher == nil {
		observability.RecordSubscriberDelivery("unbound")
		return
	}

	if err := r.publisher.Publish(s.SubscriberID, string(ev.Kind), s.ID, ev.Payload(s.ID)); err != nil {
		observability.RecordSubscriberDelivery("error")
		log.Debug().Err(err).Str("clientId", s.SubscriberID).Msg("Subscriber push dropped")
		return
	}
	observability.RecordSubscriberDelivery("success")
}

func (r *Relay) dispatch(log zerolog.Logger, s session.Session, ev events.Event) {
	if s.Webhook == nil || s.Webhook.URL == "" || r.webhooks == nil {
		return
	}
	if s.Webhook.IgnoreGroupEvents && ev.IsGroupMessage() {
		log.Debug().Msg("Skipping webhook for group message")
		return
	}

	r.webhooks.Dispatch(s.Webhook.URL, webhook.NewEnvelope(string(ev.Kind), s.ID, webhookData(s.ID, ev)))
}

// Messages are posted as the bare normalized message; every other kind
// uses the subscriber payload.
func webhookData(sessionID string, ev events.Event) any {
	if ev.Kind == events.KindMessage && ev.Message != nil {
		return ev.Message
	}
	return ev.Payload(sessionID)
}
