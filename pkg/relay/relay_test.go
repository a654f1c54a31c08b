package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/events"
	"github.com/harun/wabridge/pkg/session"
	"github.com/harun/wabridge/pkg/webhook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subscriberID string
	event        string
	sessionID    string
	data         any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(subscriberID, event, sessionID string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{subscriberID, event, sessionID, data})
	return nil
}

type fakeWebhooks struct {
	mu   sync.Mutex
	urls []string
	envs []webhook.Envelope
}

func (w *fakeWebhooks) Dispatch(url string, env webhook.Envelope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.urls = append(w.urls, url)
	w.envs = append(w.envs, env)
}

func setup(t *testing.T) (*session.Registry, *fakePublisher, *fakeWebhooks, *Relay) {
	t.Helper()
	reg := session.NewRegistry()
	pub := &fakePublisher{}
	hooks := &fakeWebhooks{}
	return reg, pub, hooks, New(reg, pub, hooks, zerolog.Nop())
}

func TestDeliverToSubscriber(t *testing.T) {
	reg, pub, hooks, r := setup(t)
	_, err := reg.Create("s1", adapter.VariantWeb, "client-1")
	require.NoError(t, err)

	r.Deliver(context.Background(), "s1", events.QR("2@qr"))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "client-1", pub.sent[0].subscriberID)
	assert.Equal(t, "qr", pub.sent[0].event)
	assert.Equal(t, "2@qr", pub.sent[0].data.(map[string]any)["qr"])
	assert.Empty(t, hooks.envs, "no webhook configured")
}

func TestDeliverWithoutSubscriberStillDispatchesWebhook(t *testing.T) {
	reg, pub, hooks, r := setup(t)
	_, _ = reg.Create("s1", adapter.VariantSocket, "")
	_ = reg.SetWebhook("s1", &session.WebhookConfig{URL: "https://hook"})

	r.Deliver(context.Background(), "s1", events.Ready())

	assert.Empty(t, pub.sent)
	require.Len(t, hooks.envs, 1)
	assert.Equal(t, "ready", hooks.envs[0].Event)
}

func TestDeliverPublishFailureIsSwallowed(t *testing.T) {
	reg, pub, hooks, r := setup(t)
	_, _ = reg.Create("s1", adapter.VariantSocket, "gone")
	_ = reg.SetWebhook("s1", &session.WebhookConfig{URL: "https://hook"})
	pub.err = errors.New("client not found")

	assert.NotPanics(t, func() {
		r.Deliver(context.Background(), "s1", events.Received(events.Message{Body: "x"}))
	})
	assert.Len(t, hooks.envs, 1)
}

func TestDeliverGroupFilter(t *testing.T) {
	reg, pub, hooks, r := setup(t)
	_, _ = reg.Create("s1", adapter.VariantSocket, "client-1")
	_ = reg.SetWebhook("s1", &session.WebhookConfig{URL: "https://hook", IgnoreGroupEvents: true})

	r.Deliver(context.Background(), "s1", events.Received(events.Message{From: "g@g.us", IsGroup: true, Body: "group"}))
	r.Deliver(context.Background(), "s1", events.Received(events.Message{From: "p@s.whatsapp.net", Body: "direct"}))

	assert.Len(t, pub.sent, 2, "subscriber receives both")
	require.Len(t, hooks.envs, 1, "webhook skips the group message")
	assert.Equal(t, "direct", hooks.envs[0].Data.(*events.Message).Body)
}

func TestDeliverGroupMessageWithoutFilter(t *testing.T) {
	reg, _, hooks, r := setup(t)
	_, _ = reg.Create("s1", adapter.VariantSocket, "")
	_ = reg.SetWebhook("s1", &session.WebhookConfig{URL: "https://hook"})

	r.Deliver(context.Background(), "s1", events.Received(events.Message{IsGroup: true}))
	assert.Len(t, hooks.envs, 1)
}

func TestDeliverUnknownSession(t *testing.T) {
	_, pub, hooks, r := setup(t)

	r.Deliver(context.Background(), "ghost", events.Ready())

	assert.Empty(t, pub.sent)
	assert.Empty(t, hooks.envs)
}

func TestDeliverWebhookRoundTrip(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
	}))
	defer srv.Close()

	reg := session.NewRegistry()
	_, _ = reg.Create("s1", adapter.VariantWeb, "")
	_ = reg.SetWebhook("s1", &session.WebhookConfig{URL: srv.URL})

	d := webhook.NewDispatcher(webhook.DispatcherOptions{Timeout: 2 * time.Second, Logger: zerolog.Nop()})
	r := New(reg, nil, d, zerolog.Nop())

	r.Deliver(context.Background(), "s1", events.Received(events.Message{From: "628@c.us", Body: "verbatim body ✓", Timestamp: 1700000000}))

	select {
	case body := <-received:
		var env struct {
			Event     string         `json:"event"`
			SessionID string         `json:"sessionId"`
			Data      events.Message `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &env))
		assert.Equal(t, "message", env.Event)
		assert.Equal(t, "s1", env.SessionID)
		assert.Equal(t, "verbatim body ✓", env.Data.Body)
		assert.Equal(t, int64(1700000000), env.Data.Timestamp)
	case <-time.After(3 * time.Second):
		t.Fatal("webhook not delivered")
	}
}
