package adapter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/harun/wabridge/pkg/events"
	"github.com/rs/zerolog"
)

// socketAdapter drives a protocol-socket backend. A closed socket cannot be
// revived, so any disconnect other than a logout recreates the client.
type socketAdapter struct {
	sessionID string
	client    SocketClient
	sink      Sink
	media     *MediaResolver
	marker    string
	logger    zerolog.Logger
	connected atomic.Bool
}

func newSocketAdapter(opts Options, factory SocketClientFactory) (*socketAdapter, error) {
	a := &socketAdapter{
		sessionID: opts.SessionID,
		sink:      opts.Sink,
		media:     opts.Media,
		marker:    opts.AnonymityMarker,
		logger:    opts.Logger.With().Str("variant", string(VariantSocket)).Logger(),
	}

	client, err := factory(opts.SessionID, opts.AuthDir, a)
	if err != nil {
		return nil, wrap(KindConnect, "create client", err)
	}
	a.client = client
	return a, nil
}

func (a *socketAdapter) Variant() Variant { return VariantSocket }

func (a *socketAdapter) Connect(ctx context.Context) error {
	return wrap(KindConnect, "connect", a.client.Connect(ctx))
}

func (a *socketAdapter) Reconnect(context.Context) error {
	return ErrRecreateRequired
}

func (a *socketAdapter) PlanReconnect(reason events.DisconnectReason) Plan {
	if reason.LoggedOut {
		return PlanFinalize
	}
	return PlanRecreate
}

// HandleSocketEvent implements SocketHandler.
func (a *socketAdapter) HandleSocketEvent(ev SocketEvent) {
	switch ev.Type {
	case SocketEventConnectionUpdate:
		if ev.Connection == nil {
			return
		}
		switch ev.Connection.Connection {
		case "open":
			a.connected.Store(true)
		case "close":
			a.connected.Store(false)
		}
		for _, e := range NormalizeConnectionUpdate(*ev.Connection) {
			a.sink(e)
		}
	case SocketEventMessagesUpsert:
		if ev.UpsertType != "" && ev.UpsertType != "notify" {
			return
		}
		for _, m := range ev.Messages {
			msg, ok := NormalizeSocketMessage(m)
			if !ok {
				continue
			}
			a.sink(events.Received(msg))
		}
	default:
		a.logger.Debug().Str("type", ev.Type).Msg("Ignoring unknown socket event")
	}
}

func (a *socketAdapter) send(ctx context.Context, op, jid string, content SocketContent) (DeliveryResult, error) {
	sent, err := a.client.SendMessage(ctx, jid, content)
	if err != nil {
		return DeliveryResult{}, wrap(KindSend, op, err)
	}
	return DeliveryResult{ID: sent.Key.ID, Timestamp: sent.MessageTimestamp}, nil
}

func (a *socketAdapter) SendText(ctx context.Context, to, body string) (DeliveryResult, error) {
	return a.send(ctx, "send text", to, SocketContent{Text: body})
}

func (a *socketAdapter) SendMedia(ctx context.Context, to string, media MediaDescriptor, caption string) (DeliveryResult, error) {
	payload, err := a.media.Resolve(ctx, media, VariantSocket)
	if err != nil {
		return DeliveryResult{}, mediaError(err)
	}

	content := SocketContent{Media: payload}
	if payload.Kind.CarriesCaption() {
		content.Caption = caption
	}
	return a.send(ctx, "send media", to, content)
}

func (a *socketAdapter) MentionAll(ctx context.Context, groupID, message string, anonymous bool) error {
	if !IsGroupAddress(groupID) {
		return &Error{Kind: KindNotAGroup, Op: "mention all", Err: fmt.Errorf("%s is not a group", groupID)}
	}

	meta, err := a.client.GroupMetadata(ctx, groupID)
	if err != nil {
		return wrap(KindGroupFetch, "group metadata", err)
	}

	text, mentions := BuildMention(meta.Participants, message, anonymous, a.marker)
	_, err = a.send(ctx, "mention all", groupID, SocketContent{Text: text, Mentions: mentions})
	return err
}

func (a *socketAdapter) SetBlockStatus(ctx context.Context, contactID string, blocked bool) error {
	action := "unblock"
	if blocked {
		action = "block"
	}
	return wrap(KindBlock, action, a.client.UpdateBlockStatus(ctx, contactID, action))
}

// The socket backend keeps no contact or chat store.
func (a *socketAdapter) FetchContacts(context.Context) ([]Contact, error) {
	return []Contact{}, nil
}

func (a *socketAdapter) FetchChats(context.Context) ([]Chat, error) {
	return []Chat{}, nil
}

func (a *socketAdapter) Status(context.Context) (Status, error) {
	connected := a.connected.Load()
	if !connected {
		return Status{Connected: false}, nil
	}
	return Status{Connected: true, Info: map[string]any{"sessionId": a.sessionID}}, nil
}

// Logout drops local state only; the linked device stays registered with
// the network until it is removed from the phone.
func (a *socketAdapter) Logout(context.Context) error {
	a.connected.Store(false)
	if err := a.client.Close(); err != nil {
		return wrap(KindLogout, "close", err)
	}
	return nil
}

func (a *socketAdapter) Close() error {
	a.connected.Store(false)
	return a.client.Close()
}
