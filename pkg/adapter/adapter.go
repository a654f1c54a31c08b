// Package adapter hides the two chat backend variants behind one capability
// interface. Each variant normalizes its native events into events.Event and
// owns its reconnection policy, so nothing outside this package branches on
// the variant.
package adapter

import (
	"context"
	"fmt"

	"github.com/harun/wabridge/pkg/events"
)

// Variant identifies a backend implementation. The values are the wire
// names accepted by init.
type Variant string

const (
	VariantWeb    Variant = "whatsapp-web.js"
	VariantSocket Variant = "baileys"
)

// ParseVariant accepts the wire names and the short aliases "web" and "socket".
func ParseVariant(s string) (Variant, error) {
	switch s {
	case string(VariantWeb), "web":
		return VariantWeb, nil
	case string(VariantSocket), "socket":
		return VariantSocket, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, s)
	}
}

// Plan is the reconnection decision a variant makes for a disconnect.
type Plan int

const (
	// PlanInPlace re-initializes the existing client.
	PlanInPlace Plan = iota
	// PlanRecreate discards the client and runs the full connect sequence.
	PlanRecreate
	// PlanFinalize marks the session logged out; no reconnect.
	PlanFinalize
)

func (p Plan) String() string {
	switch p {
	case PlanInPlace:
		return "in_place"
	case PlanRecreate:
		return "recreate"
	case PlanFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Sink receives normalized events. It is called on the backend's reader
// goroutine and must not block for long.
type Sink func(events.Event)

// DeliveryResult is what the backend reports for a sent message.
type DeliveryResult struct {
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Contact is a directory entry as reported by the backend.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Number    string `json:"number,omitempty"`
	IsGroup   bool   `json:"isGroup"`
	IsBlocked bool   `json:"isBlocked"`
}

// Chat is a conversation summary as reported by the backend.
type Chat struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	IsGroup     bool   `json:"isGroup"`
	UnreadCount int    `json:"unreadCount"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// Status is the connection report returned by the status command.
type Status struct {
	Connected bool `json:"connected"`
	Info      any  `json:"info"`
}

// Adapter is the per-session capability surface over one backend client.
type Adapter interface {
	Variant() Variant

	// Connect starts the backend. Lifecycle events arrive on the Sink.
	Connect(ctx context.Context) error
	// Reconnect re-initializes the existing client. Variants that cannot do
	// this return ErrRecreateRequired.
	Reconnect(ctx context.Context) error
	// PlanReconnect decides what a disconnect with the given reason means.
	PlanReconnect(reason events.DisconnectReason) Plan

	SendText(ctx context.Context, to, body string) (DeliveryResult, error)
	SendMedia(ctx context.Context, to string, media MediaDescriptor, caption string) (DeliveryResult, error)
	MentionAll(ctx context.Context, groupID, message string, anonymous bool) error
	SetBlockStatus(ctx context.Context, contactID string, blocked bool) error
	FetchContacts(ctx context.Context) ([]Contact, error)
	FetchChats(ctx context.Context) ([]Chat, error)
	Status(ctx context.Context) (Status, error)

	// Logout ends the backend session. The adapter is unusable afterwards.
	Logout(ctx context.Context) error
	// Close releases the client without logging out.
	Close() error
}
