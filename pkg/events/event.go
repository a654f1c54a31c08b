// Package events defines the provider-agnostic event model every backend
// variant is normalized into.
package events

import (
	"strconv"
	"time"
)

// Kind discriminates normalized events. The values double as the event
// names pushed to subscribers and posted to webhooks.
type Kind string

const (
	KindQR            Kind = "qr"
	KindAuthenticated Kind = "authenticated"
	KindReady         Kind = "ready"
	KindMessage       Kind = "message"
	KindDisconnected  Kind = "disconnected"
)

// Message is a normalized inbound chat message.
type Message struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	HasMedia bool   `json:"hasMedia"`
	IsGroup  bool   `json:"isGroup"`
	// Epoch seconds as reported by the network.
	Timestamp int64 `json:"timestamp"`
	// Native message type for web sessions, "baileys" for socket sessions.
	Type          string `json:"type"`
	SourceVariant string `json:"sourceVariant"`
}

// DisconnectReason describes why a backend connection dropped.
type DisconnectReason struct {
	Code      int    `json:"code,omitempty"`
	Text      string `json:"text,omitempty"`
	LoggedOut bool   `json:"loggedOut"`
}

// String renders the reason for logs and subscriber payloads.
func (r DisconnectReason) String() string {
	switch {
	case r.LoggedOut:
		return "logged_out"
	case r.Text != "":
		return r.Text
	case r.Code != 0:
		return "status_" + strconv.Itoa(r.Code)
	default:
		return "unknown"
	}
}

// Event is a normalized backend event. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind       Kind
	QR         string
	Message    *Message
	Reason     *DisconnectReason
	ReceivedAt time.Time
}

// QR returns a QrCodeIssued event.
func QR(code string) Event {
	return Event{Kind: KindQR, QR: code, ReceivedAt: time.Now()}
}

// Authenticated returns an Authenticated event.
func Authenticated() Event {
	return Event{Kind: KindAuthenticated, ReceivedAt: time.Now()}
}

// Ready returns a Ready event.
func Ready() Event {
	return Event{Kind: KindReady, ReceivedAt: time.Now()}
}

// Received returns a MessageReceived event.
func Received(msg Message) Event {
	return Event{Kind: KindMessage, Message: &msg, ReceivedAt: time.Now()}
}

// Disconnected returns a Disconnected event.
func Disconnected(reason DisconnectReason) Event {
	return Event{Kind: KindDisconnected, Reason: &reason, ReceivedAt: time.Now()}
}

// IsGroupMessage reports whether the event is a message from a group chat.
func (e Event) IsGroupMessage() bool {
	return e.Kind == KindMessage && e.Message != nil && e.Message.IsGroup
}

// Payload is the event body as sent to subscribers and webhooks.
// sessionID is embedded so consumers of a shared stream can route it.
func (e Event) Payload(sessionID string) map[string]any {
	data := map[string]any{"sessionId": sessionID}
	switch e.Kind {
	case KindQR:
		data["qr"] = e.QR
	case KindMessage:
		if e.Message != nil {
			data["message"] = e.Message
		}
	case KindDisconnected:
		if e.Reason != nil {
			data["reason"] = e.Reason.String()
			data["detail"] = e.Reason
		}
	}
	return data
}
