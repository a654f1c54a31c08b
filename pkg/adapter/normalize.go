package adapter

import (
	"context"

	"github.com/harun/wabridge/pkg/events"
)

// chatLookup is the part of WebClient the web normalizer needs.
type chatLookup interface {
	GetChatByID(ctx context.Context, chatID string) (WebChat, error)
}

// NormalizeWebMessage converts a web backend message. Group membership is
// asked of the backend; if the lookup fails the address suffix decides and
// the error is returned alongside the message for logging.
func NormalizeWebMessage(ctx context.Context, chats chatLookup, msg WebMessage) (events.Message, error) {
	out := events.Message{
		From:          msg.From,
		Body:          msg.Body,
		HasMedia:      msg.HasMedia,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		SourceVariant: string(VariantWeb),
	}

	chat, err := chats.GetChatByID(ctx, msg.From)
	if err != nil {
		out.IsGroup = IsGroupAddress(msg.From)
		return out, err
	}
	out.IsGroup = chat.IsGroup
	return out, nil
}

// NormalizeSocketMessage converts a socket backend message. ok is false for
// messages that must not be relayed: our own and empty ones.
func NormalizeSocketMessage(msg SocketMessage) (events.Message, bool) {
	if msg.Key.FromMe || msg.Message == nil {
		return events.Message{}, false
	}

	body := msg.Message.Conversation
	if body == "" && msg.Message.ExtendedTextMessage != nil {
		body = msg.Message.ExtendedTextMessage.Text
	}

	return events.Message{
		From: msg.Key.RemoteJID,
		Body: body,
		// Only image and audio count; video and documents do not.
		HasMedia:      msg.Message.ImageMessage != nil || msg.Message.AudioMessage != nil,
		IsGroup:       IsGroupAddress(msg.Key.RemoteJID),
		Timestamp:     msg.MessageTimestamp,
		Type:          string(VariantSocket),
		SourceVariant: string(VariantSocket),
	}, true
}

// NormalizeConnectionUpdate converts a socket connection.update into zero
// or more events, in the order they must be emitted.
func NormalizeConnectionUpdate(u ConnectionUpdate) []events.Event {
	var out []events.Event
	if u.QR != "" {
		out = append(out, events.QR(u.QR))
	}
	switch u.Connection {
	case "open":
		out = append(out, events.Ready())
	case "close":
		out = append(out, events.Disconnected(events.DisconnectReason{
			Code:      u.StatusCode,
			Text:      u.Error,
			LoggedOut: u.StatusCode == LoggedOutStatus,
		}))
	}
	return out
}
