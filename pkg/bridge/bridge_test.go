package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	result any
	err    *RemoteError
	silent bool
}

// fakeDriver is a minimal backend driver speaking the bridge protocol.
type fakeDriver struct {
	srv *httptest.Server

	mu      sync.Mutex
	conns   []*websocket.Conn
	queries []url.Values
	reqs    []request
	replies map[string]reply
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	d := &fakeDriver{replies: make(map[string]reply)}
	upgrader := websocket.Upgrader{}

	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, ws)
		d.queries = append(d.queries, r.URL.Query())
		d.mu.Unlock()

		for {
			var req request
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			d.mu.Lock()
			d.reqs = append(d.reqs, req)
			rep := d.replies[req.Method]
			d.mu.Unlock()
			if rep.silent {
				continue
			}

			resp := map[string]any{"id": req.ID}
			if rep.err != nil {
				resp["error"] = rep.err
			} else {
				resp["result"] = rep.result
			}
			d.write(ws, resp)
		}
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDriver) url() string {
	return "ws" + strings.TrimPrefix(d.srv.URL, "http") + "/drive"
}

func (d *fakeDriver) config() Config {
	return Config{URL: d.url(), RequestTimeout: time.Second, Logger: zerolog.Nop()}
}

func (d *fakeDriver) on(method string, r reply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[method] = r
}

func (d *fakeDriver) write(ws *websocket.Conn, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = ws.WriteJSON(v)
}

func (d *fakeDriver) push(t *testing.T, event string, data any) {
	t.Helper()
	d.mu.Lock()
	require.NotEmpty(t, d.conns)
	ws := d.conns[len(d.conns)-1]
	d.mu.Unlock()
	d.write(ws, map[string]any{"event": event, "data": data})
}

func (d *fakeDriver) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ws := range d.conns {
		_ = ws.Close()
	}
}

func (d *fakeDriver) requests() []request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]request(nil), d.reqs...)
}

func (d *fakeDriver) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type webEvents chan adapter.WebEvent

func (w webEvents) HandleWebEvent(ev adapter.WebEvent) { w <- ev }

type socketEvents chan adapter.SocketEvent

func (s socketEvents) HandleSocketEvent(ev adapter.SocketEvent) { s <- ev }

func next[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestNewConnEndpoint(t *testing.T) {
	conn, err := NewConn(Config{URL: "ws://127.0.0.1:7001/drive?token=x"}, "s1", "baileys", "/data/sessions/s1", nil, nil)
	require.NoError(t, err)

	u, err := url.Parse(conn.Endpoint())
	require.NoError(t, err)
	assert.Equal(t, "s1", u.Query().Get("session"))
	assert.Equal(t, "baileys", u.Query().Get("variant"))
	assert.Equal(t, "/data/sessions/s1", u.Query().Get("auth_dir"))
	assert.Equal(t, "x", u.Query().Get("token"))
	assert.False(t, conn.Connected())

	_, err = NewConn(Config{URL: "http://127.0.0.1:7001"}, "s1", "baileys", "", nil, nil)
	assert.Error(t, err)
}

func TestWebClientRoundTrip(t *testing.T) {
	d := newFakeDriver(t)
	d.on("sendMessage", reply{result: adapter.WebSentMessage{ID: "true_628@c.us_ABC", Timestamp: 1700000000}})
	d.on("getChatById", reply{result: adapter.WebChat{ID: "g@g.us", IsGroup: true, Participants: []string{"1@c.us"}}})

	events := make(webEvents, 4)
	c, err := NewWebClient(d.config(), "s1", "/tmp/s1", events)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, 1, d.dials())

	sent, err := c.SendMessage(ctx, "628@c.us", adapter.WebContent{Text: "hi"}, adapter.WebSendOptions{Mentions: []string{"1@c.us"}})
	require.NoError(t, err)
	assert.Equal(t, "true_628@c.us_ABC", sent.ID)

	chat, err := c.GetChatByID(ctx, "g@g.us")
	require.NoError(t, err)
	assert.True(t, chat.IsGroup)

	reqs := d.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "initialize", reqs[0].Method)
	assert.NotEmpty(t, reqs[0].ID)
	assert.NotEqual(t, reqs[0].ID, reqs[1].ID)

	params, err := json.Marshal(reqs[1].Params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chatId":"628@c.us","content":{"text":"hi"},"options":{"mentions":["1@c.us"]}}`, string(params))

	d.push(t, "qr", map[string]string{"qr": "2@xyz"})
	ev := next(t, events)
	assert.Equal(t, adapter.WebEvent{Type: adapter.WebEventQR, QR: "2@xyz"}, ev)

	d.push(t, "message", map[string]any{"message": map[string]any{"from": "628@c.us", "body": "yo", "timestamp": 1700000001}})
	ev = next(t, events)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "yo", ev.Message.Body)
}

func TestRemoteError(t *testing.T) {
	d := newFakeDriver(t)
	d.on("blockContact", reply{err: &RemoteError{Code: "E_NOT_FOUND", Message: "contact missing"}})

	c, err := NewWebClient(d.config(), "s1", "/tmp/s1", make(webEvents, 1))
	require.NoError(t, err)
	defer c.Close()

	err = c.BlockContact(context.Background(), "628@c.us")
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "blockContact", remote.Method)
	assert.Equal(t, "blockContact: E_NOT_FOUND: contact missing", err.Error())
}

func TestInfoNullWhileNotReady(t *testing.T) {
	d := newFakeDriver(t)
	d.on("info", reply{result: nil})

	c, err := NewWebClient(d.config(), "s1", "/tmp/s1", make(webEvents, 1))
	require.NoError(t, err)
	defer c.Close()

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestRequestTimeout(t *testing.T) {
	d := newFakeDriver(t)
	d.on("getChats", reply{silent: true})

	cfg := d.config()
	cfg.RequestTimeout = 50 * time.Millisecond
	c, err := NewWebClient(cfg, "s1", "/tmp/s1", make(webEvents, 1))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetChats(context.Background())
	assert.True(t, errors.Is(err, ErrRequestTimeout))
}

func TestWebDropReportsDisconnectAndRedials(t *testing.T) {
	d := newFakeDriver(t)
	events := make(webEvents, 4)
	c, err := NewWebClient(d.config(), "s1", "/tmp/s1", events)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Initialize(context.Background()))
	d.dropAll()

	ev := next(t, events)
	assert.Equal(t, adapter.WebEventDisconnected, ev.Type)
	assert.Equal(t, ReasonDriverLost, ev.Reason)

	require.Eventually(t, func() bool { return !c.conn.Connected() }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, 2, d.dials())
}

func TestSocketClientEvents(t *testing.T) {
	d := newFakeDriver(t)
	d.on("groupMetadata", reply{result: adapter.GroupMetadata{ID: "g@g.us", Subject: "team", Participants: []string{"1@s.whatsapp.net"}}})

	events := make(socketEvents, 4)
	c, err := NewSocketClient(d.config(), "s2", "/tmp/s2", events)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	meta, err := c.GroupMetadata(ctx, "g@g.us")
	require.NoError(t, err)
	assert.Equal(t, "team", meta.Subject)

	d.push(t, "connection.update", map[string]any{"connection": "close", "statusCode": 401})
	ev := next(t, events)
	require.NotNil(t, ev.Connection)
	assert.Equal(t, adapter.LoggedOutStatus, ev.Connection.StatusCode)

	d.push(t, "messages.upsert", map[string]any{
		"type": "notify",
		"messages": []map[string]any{{
			"key":              map[string]any{"remoteJid": "628@s.whatsapp.net", "id": "A1"},
			"message":          map[string]any{"conversation": "hello"},
			"messageTimestamp": 1700000002,
		}},
	})
	ev = next(t, events)
	assert.Equal(t, adapter.SocketEventMessagesUpsert, ev.Type)
	assert.Equal(t, "notify", ev.UpsertType)
	require.Len(t, ev.Messages, 1)
	assert.Equal(t, "hello", ev.Messages[0].Message.Conversation)

	d.push(t, "presence.update", map[string]any{"id": "x"})

	require.NoError(t, c.Close())
	methods := []string{}
	for _, r := range d.requests() {
		methods = append(methods, r.Method)
	}
	assert.Equal(t, []string{"connect", "groupMetadata", "close"}, methods)

	_, err = c.SendMessage(ctx, "628@s.whatsapp.net", adapter.SocketContent{Text: "late"})
	assert.True(t, errors.Is(err, ErrClosed))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after close: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSocketDropIsRecoverableClose(t *testing.T) {
	d := newFakeDriver(t)
	events := make(socketEvents, 4)
	c, err := NewSocketClient(d.config(), "s2", "/tmp/s2", events)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	d.dropAll()

	ev := next(t, events)
	require.NotNil(t, ev.Connection)
	assert.Equal(t, "close", ev.Connection.Connection)
	assert.Zero(t, ev.Connection.StatusCode)
}

func TestCloseWithoutDialDoesNotConnect(t *testing.T) {
	d := newFakeDriver(t)
	c, err := NewSocketClient(d.config(), "s2", "/tmp/s2", make(socketEvents, 1))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, d.dials())
}

func TestWebMessageAsksDriverForGroupFlag(t *testing.T) {
	d := newFakeDriver(t)
	d.on("getChatById", reply{result: adapter.WebChat{ID: "team@c.us", IsGroup: true}})
	d.on("sendMessage", reply{result: adapter.WebSentMessage{ID: "m1"}})

	received := make(chan events.Event, 4)
	factory := &adapter.Factory{Web: WebFactory(d.config()), Logger: zerolog.Nop()}
	a, err := factory.New(adapter.VariantWeb, "s1", "/tmp/s1", func(ev events.Event) { received <- ev })
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))

	start := time.Now()
	d.push(t, "message", map[string]any{"message": map[string]any{"from": "team@c.us", "body": "standup", "timestamp": 1700000003}})

	ev := next(t, received)
	require.Equal(t, events.KindMessage, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.True(t, ev.Message.IsGroup, "group flag comes from the chat, not the address")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// commands on the same connection are not held up by event handling
	_, err = a.SendText(ctx, "628@c.us", "ack")
	require.NoError(t, err)
}

func TestEventsKeepDriverOrder(t *testing.T) {
	d := newFakeDriver(t)
	got := make(webEvents, 16)
	c, err := NewWebClient(d.config(), "s1", "/tmp/s1", got)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Initialize(context.Background()))
	d.push(t, "qr", map[string]string{"qr": "1"})
	d.push(t, "authenticated", nil)
	d.push(t, "ready", nil)
	d.dropAll()

	var order []string
	for i := 0; i < 4; i++ {
		order = append(order, next(t, got).Type)
	}
	assert.Equal(t, []string{adapter.WebEventQR, adapter.WebEventAuthenticated, adapter.WebEventReady, adapter.WebEventDisconnected}, order)
}
