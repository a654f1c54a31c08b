// Package session keeps the single authoritative table of live chat
// sessions: which backend variant serves each one, the adapter bound to it,
// its connection state, its webhook and the subscriber receiving its events.
package session

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/harun/wabridge/pkg/adapter"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
	// ErrLoggedOut rejects re-initializing a session that must first be
	// removed with an explicit logout.
	ErrLoggedOut = errors.New("session logged out")
	ErrInvalidID = errors.New("invalid session id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateID rejects IDs that are empty, too long or unsafe as a directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// State is the connection state of a session.
type State string

const (
	StateInitializing    State = "initializing"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateDisconnected    State = "disconnected"
	StateReconnecting    State = "reconnecting"
	StateLoggedOut       State = "logged_out"
)

// WebhookConfig is the per-session outbound webhook.
type WebhookConfig struct {
	URL               string `json:"url"`
	IgnoreGroupEvents bool   `json:"ignoreGroupEvents"`
}

// Session is a snapshot of a registry entry. Mutations go through Registry.
type Session struct {
	ID           string
	Variant      adapter.Variant
	SubscriberID string
	State        State
	Webhook      *WebhookConfig
	Adapter      adapter.Adapter
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string          `json:"id"`
	Variant      adapter.Variant `json:"variant"`
	State        State           `json:"connectionState"`
	SubscriberID string          `json:"subscriberId,omitempty"`
	HasWebhook   bool            `json:"hasWebhook"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (s *Session) summary() Summary {
	return Summary{
		ID:           s.ID,
		Variant:      s.Variant,
		State:        s.State,
		SubscriberID: s.SubscriberID,
		HasWebhook:   s.Webhook != nil,
		CreatedAt:    s.CreatedAt,
	}
}

func (s *Session) snapshot() Session {
	out := *s
	if s.Webhook != nil {
		wh := *s.Webhook
		out.Webhook = &wh
	}
	return out
}
