package gateway

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClientNotFound is returned when pushing to a client that is gone or
// not yet authenticated.
var ErrClientNotFound = errors.New("client not connected")

// EventBroadcaster stamps and writes server-pushed events. Sequence numbers
// are shared across all clients.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// SendToClient delivers msg to one authenticated client.
func (b *EventBroadcaster) SendToClient(clientID string, msg EventMessage) error {
	client, ok := b.clients.GetAuthenticated(clientID)
	if !ok {
		return ErrClientNotFound
	}

	data, err := b.encode(&msg)
	if err != nil {
		return err
	}
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	b.logger.Debug().
		Str("clientId", clientID).
		Str("event", msg.Event).
		Str("sessionId", msg.Session).
		Int64("seq", msg.Seq).
		Msg("Event pushed")
	return nil
}

// Broadcast sends an event to every authenticated client.
func (b *EventBroadcaster) Broadcast(event string, data any) {
	msg := EventMessage{Event: event, Data: data}
	payload, err := b.encode(&msg)
	if err != nil {
		return
	}

	clients := b.clients.GetAuthenticatedClients()
	if len(clients) == 0 {
		b.logger.Debug().Str("event", event).Msg("No authenticated clients to broadcast to")
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().Err(err).Str("clientId", client.ID).Str("event", event).Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("success", len(clients)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

func (b *EventBroadcaster) encode(msg *EventMessage) ([]byte, error) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = b.nextSeq()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
		return nil, err
	}
	return data, nil
}

func (b *EventBroadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
