package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/wabridge/pkg/events"
	"github.com/rs/zerolog"
)

// chatLookupTimeout bounds the group check made for each inbound message.
const chatLookupTimeout = 10 * time.Second

// webAdapter drives a browser-automation backend. Its reconnection policy is
// an unconditional in-place re-initialize for any disconnect reason.
type webAdapter struct {
	sessionID string
	client    WebClient
	sink      Sink
	media     *MediaResolver
	marker    string
	logger    zerolog.Logger
}

func newWebAdapter(opts Options, factory WebClientFactory) (*webAdapter, error) {
	a := &webAdapter{
		sessionID: opts.SessionID,
		sink:      opts.Sink,
		media:     opts.Media,
		marker:    opts.AnonymityMarker,
		logger:    opts.Logger.With().Str("variant", string(VariantWeb)).Logger(),
	}

	client, err := factory(opts.SessionID, opts.AuthDir, a)
	if err != nil {
		return nil, wrap(KindConnect, "create client", err)
	}
	a.client = client
	return a, nil
}

func (a *webAdapter) Variant() Variant { return VariantWeb }

func (a *webAdapter) Connect(ctx context.Context) error {
	return wrap(KindConnect, "initialize", a.client.Initialize(ctx))
}

func (a *webAdapter) Reconnect(ctx context.Context) error {
	return wrap(KindConnect, "reinitialize", a.client.Initialize(ctx))
}

func (a *webAdapter) PlanReconnect(events.DisconnectReason) Plan {
	return PlanInPlace
}

// HandleWebEvent implements WebHandler.
func (a *webAdapter) HandleWebEvent(ev WebEvent) {
	switch ev.Type {
	case WebEventQR:
		a.sink(events.QR(ev.QR))
	case WebEventAuthenticated:
		a.sink(events.Authenticated())
	case WebEventReady:
		a.sink(events.Ready())
	case WebEventMessage:
		if ev.Message == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), chatLookupTimeout)
		msg, err := NormalizeWebMessage(ctx, a.client, *ev.Message)
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("sessionId", a.sessionID).Str("from", ev.Message.From).
				Msg("Chat lookup failed, group detection fell back to address suffix")
		}
		a.sink(events.Received(msg))
	case WebEventDisconnected:
		a.sink(events.Disconnected(events.DisconnectReason{Text: ev.Reason}))
	default:
		a.logger.Debug().Str("type", ev.Type).Msg("Ignoring unknown web event")
	}
}

func (a *webAdapter) SendText(ctx context.Context, to, body string) (DeliveryResult, error) {
	sent, err := a.client.SendMessage(ctx, to, WebContent{Text: body}, WebSendOptions{})
	if err != nil {
		return DeliveryResult{}, wrap(KindSend, "send text", err)
	}
	return DeliveryResult{ID: sent.ID, Timestamp: sent.Timestamp}, nil
}

func (a *webAdapter) SendMedia(ctx context.Context, to string, media MediaDescriptor, caption string) (DeliveryResult, error) {
	payload, err := a.media.Resolve(ctx, media, VariantWeb)
	if err != nil {
		return DeliveryResult{}, mediaError(err)
	}

	var opts WebSendOptions
	if payload.Kind.CarriesCaption() {
		opts.Caption = caption
	}

	sent, err := a.client.SendMessage(ctx, to, WebContent{Media: payload}, opts)
	if err != nil {
		return DeliveryResult{}, wrap(KindSend, "send media", err)
	}
	return DeliveryResult{ID: sent.ID, Timestamp: sent.Timestamp}, nil
}

func (a *webAdapter) MentionAll(ctx context.Context, groupID, message string, anonymous bool) error {
	chat, err := a.client.GetChatByID(ctx, groupID)
	if err != nil {
		return wrap(KindGroupFetch, "get chat", err)
	}
	if !chat.IsGroup {
		return &Error{Kind: KindNotAGroup, Op: "mention all", Err: fmt.Errorf("%s is not a group", groupID)}
	}

	text, mentions := BuildMention(chat.Participants, message, anonymous, a.marker)
	_, err = a.client.SendMessage(ctx, groupID, WebContent{Text: text}, WebSendOptions{Mentions: mentions})
	return wrap(KindSend, "mention all", err)
}

func (a *webAdapter) SetBlockStatus(ctx context.Context, contactID string, blocked bool) error {
	if blocked {
		return wrap(KindBlock, "block", a.client.BlockContact(ctx, contactID))
	}
	return wrap(KindBlock, "unblock", a.client.UnblockContact(ctx, contactID))
}

func (a *webAdapter) FetchContacts(ctx context.Context) ([]Contact, error) {
	contacts, err := a.client.GetContacts(ctx)
	if err != nil {
		return nil, wrap(KindFetch, "contacts", err)
	}
	if contacts == nil {
		contacts = []Contact{}
	}
	return contacts, nil
}

func (a *webAdapter) FetchChats(ctx context.Context) ([]Chat, error) {
	chats, err := a.client.GetChats(ctx)
	if err != nil {
		return nil, wrap(KindFetch, "chats", err)
	}
	if chats == nil {
		chats = []Chat{}
	}
	return chats, nil
}

// Status reports connected exactly when the backend has client info.
func (a *webAdapter) Status(ctx context.Context) (Status, error) {
	info, err := a.client.Info(ctx)
	if err != nil {
		return Status{}, wrap(KindFetch, "info", err)
	}
	if info == nil {
		return Status{Connected: false}, nil
	}
	return Status{Connected: true, Info: info}, nil
}

func (a *webAdapter) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return wrap(KindLogout, "logout", err)
	}
	return nil
}

func (a *webAdapter) Close() error {
	return a.client.Close()
}

// mediaError keeps ErrInvalidMediaKind visible to the router and tags
// everything else as a send failure.
func mediaError(err error) error {
	if errors.Is(err, ErrInvalidMediaKind) {
		return err
	}
	return wrap(KindSend, "resolve media", err)
}
