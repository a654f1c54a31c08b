package bridge

import (
	"context"
	"encoding/json"

	"github.com/harun/wabridge/pkg/adapter"
	"github.com/pkg/errors"
)

// ReasonDriverLost is the disconnect reason reported when the driver
// connection itself drops.
const ReasonDriverLost = "DRIVER_CONNECTION_LOST"

// WebFactory returns a client factory for the whatsapp-web.js driver.
func WebFactory(cfg Config) adapter.WebClientFactory {
	return func(sessionID, authDir string, handler adapter.WebHandler) (adapter.WebClient, error) {
		return NewWebClient(cfg, sessionID, authDir, handler)
	}
}

// WebClient drives a whatsapp-web.js instance.
type WebClient struct {
	conn    *Conn
	handler adapter.WebHandler
}

// NewWebClient prepares a client; the driver is dialed on Initialize.
func NewWebClient(cfg Config, sessionID, authDir string, handler adapter.WebHandler) (*WebClient, error) {
	c := &WebClient{handler: handler}
	conn, err := NewConn(cfg, sessionID, string(adapter.VariantWeb), authDir, c.onEvent, c.onDrop)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *WebClient) onEvent(name string, data json.RawMessage) {
	ev := adapter.WebEvent{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ev); err != nil {
			c.conn.logger.Warn().Err(err).Str("event", name).Msg("Discarding undecodable web event")
			return
		}
	}
	ev.Type = name
	c.handler.HandleWebEvent(ev)
}

func (c *WebClient) onDrop(error) {
	c.handler.HandleWebEvent(adapter.WebEvent{Type: adapter.WebEventDisconnected, Reason: ReasonDriverLost})
}

func (c *WebClient) Initialize(ctx context.Context) error {
	return c.conn.Call(ctx, "initialize", nil, nil)
}

func (c *WebClient) SendMessage(ctx context.Context, chatID string, content adapter.WebContent, opts adapter.WebSendOptions) (adapter.WebSentMessage, error) {
	var sent adapter.WebSentMessage
	err := c.conn.Call(ctx, "sendMessage", map[string]any{
		"chatId":  chatID,
		"content": content,
		"options": opts,
	}, &sent)
	return sent, err
}

func (c *WebClient) GetChatByID(ctx context.Context, chatID string) (adapter.WebChat, error) {
	var chat adapter.WebChat
	err := c.conn.Call(ctx, "getChatById", map[string]string{"chatId": chatID}, &chat)
	return chat, err
}

func (c *WebClient) BlockContact(ctx context.Context, contactID string) error {
	return c.conn.Call(ctx, "blockContact", map[string]string{"contactId": contactID}, nil)
}

func (c *WebClient) UnblockContact(ctx context.Context, contactID string) error {
	return c.conn.Call(ctx, "unblockContact", map[string]string{"contactId": contactID}, nil)
}

func (c *WebClient) GetContacts(ctx context.Context) ([]adapter.Contact, error) {
	var contacts []adapter.Contact
	if err := c.conn.Call(ctx, "getContacts", nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *WebClient) GetChats(ctx context.Context) ([]adapter.Chat, error) {
	var chats []adapter.Chat
	if err := c.conn.Call(ctx, "getChats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Info returns nil until the driver reports the client ready.
func (c *WebClient) Info(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.conn.Call(ctx, "info", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *WebClient) Logout(ctx context.Context) error {
	return errors.Wrap(c.conn.Call(ctx, "logout", nil, nil), "web logout")
}

func (c *WebClient) Close() error {
	return c.conn.Close()
}
