package bridge

import (
	"context"
	"encoding/json"

	"github.com/harun/wabridge/pkg/adapter"
)

// SocketFactory returns a client factory for the baileys driver.
func SocketFactory(cfg Config) adapter.SocketClientFactory {
	return func(sessionID, authDir string, handler adapter.SocketHandler) (adapter.SocketClient, error) {
		return NewSocketClient(cfg, sessionID, authDir, handler)
	}
}

// SocketClient drives a baileys socket.
type SocketClient struct {
	conn    *Conn
	handler adapter.SocketHandler
}

// NewSocketClient prepares a client; the driver is dialed on Connect.
func NewSocketClient(cfg Config, sessionID, authDir string, handler adapter.SocketHandler) (*SocketClient, error) {
	c := &SocketClient{handler: handler}
	conn, err := NewConn(cfg, sessionID, string(adapter.VariantSocket), authDir, c.onEvent, c.onDrop)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

type upsertPayload struct {
	Type     string                  `json:"type"`
	Messages []adapter.SocketMessage `json:"messages"`
}

func (c *SocketClient) onEvent(name string, data json.RawMessage) {
	ev := adapter.SocketEvent{Type: name}

	switch name {
	case adapter.SocketEventConnectionUpdate:
		var update adapter.ConnectionUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			c.conn.logger.Warn().Err(err).Msg("Discarding undecodable connection update")
			return
		}
		ev.Connection = &update
	case adapter.SocketEventMessagesUpsert:
		var upsert upsertPayload
		if err := json.Unmarshal(data, &upsert); err != nil {
			c.conn.logger.Warn().Err(err).Msg("Discarding undecodable message upsert")
			return
		}
		ev.UpsertType = upsert.Type
		ev.Messages = upsert.Messages
	default:
		return
	}

	c.handler.HandleSocketEvent(ev)
}

// onDrop reports a lost driver as a closed connection without a status,
// which the socket variant treats as recoverable.
func (c *SocketClient) onDrop(err error) {
	update := &adapter.ConnectionUpdate{Connection: "close"}
	if err != nil {
		update.Error = err.Error()
	}
	c.handler.HandleSocketEvent(adapter.SocketEvent{Type: adapter.SocketEventConnectionUpdate, Connection: update})
}

func (c *SocketClient) Connect(ctx context.Context) error {
	return c.conn.Call(ctx, "connect", nil, nil)
}

func (c *SocketClient) SendMessage(ctx context.Context, jid string, content adapter.SocketContent) (adapter.SocketSentMessage, error) {
	var sent adapter.SocketSentMessage
	err := c.conn.Call(ctx, "sendMessage", map[string]any{"jid": jid, "content": content}, &sent)
	return sent, err
}

func (c *SocketClient) GroupMetadata(ctx context.Context, jid string) (adapter.GroupMetadata, error) {
	var meta adapter.GroupMetadata
	err := c.conn.Call(ctx, "groupMetadata", map[string]string{"jid": jid}, &meta)
	return meta, err
}

func (c *SocketClient) UpdateBlockStatus(ctx context.Context, jid, action string) error {
	return c.conn.Call(ctx, "updateBlockStatus", map[string]string{"jid": jid, "action": action}, nil)
}

// Close asks the driver to end the socket, then drops the connection.
func (c *SocketClient) Close() error {
	if c.conn.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := c.conn.Call(ctx, "close", nil, nil); err != nil {
			c.conn.logger.Debug().Err(err).Msg("Driver close request failed")
		}
	}
	return c.conn.Close()
}
