package command

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op   string
	args []any
}

type fakeAdapter struct {
	adapter.Adapter
	calls []call
	err   error
	panic bool
}

func (f *fakeAdapter) record(op string, args ...any) error {
	if f.panic {
		panic("backend exploded")
	}
	f.calls = append(f.calls, call{op: op, args: args})
	return f.err
}

func (f *fakeAdapter) SendText(_ context.Context, to, body string) (adapter.DeliveryResult, error) {
	if err := f.record("text", to, body); err != nil {
		return adapter.DeliveryResult{}, err
	}
	return adapter.DeliveryResult{ID: "msg-1", Timestamp: 1700000000}, nil
}

func (f *fakeAdapter) SendMedia(_ context.Context, to string, media adapter.MediaDescriptor, caption string) (adapter.DeliveryResult, error) {
	return adapter.DeliveryResult{ID: "msg-2"}, f.record("media", to, media, caption)
}

func (f *fakeAdapter) MentionAll(_ context.Context, groupID, message string, anonymous bool) error {
	return f.record("mention", groupID, message, anonymous)
}

func (f *fakeAdapter) SetBlockStatus(_ context.Context, contactID string, blocked bool) error {
	return f.record("block", contactID, blocked)
}

func (f *fakeAdapter) FetchContacts(context.Context) ([]adapter.Contact, error) {
	return []adapter.Contact{{ID: "628@c.us"}}, f.record("contacts")
}

func (f *fakeAdapter) FetchChats(context.Context) ([]adapter.Chat, error) {
	return nil, f.record("chats")
}

func (f *fakeAdapter) Status(context.Context) (adapter.Status, error) {
	return adapter.Status{Connected: true}, f.record("status")
}

type fakeLifecycle struct {
	reg       *session.Registry
	logoutErr error
	loggedOut []string
}

func (f *fakeLifecycle) Logout(_ context.Context, id string) error {
	if _, err := f.reg.Remove(id); err != nil {
		return err
	}
	f.loggedOut = append(f.loggedOut, id)
	return f.logoutErr
}

func (f *fakeLifecycle) SetWebhook(_ context.Context, id string, cfg *session.WebhookConfig) error {
	return f.reg.SetWebhook(id, cfg)
}

func setup(t *testing.T) (*Router, *fakeAdapter, *session.Registry, *fakeLifecycle) {
	t.Helper()
	reg := session.NewRegistry()
	_, err := reg.Create("s1", adapter.VariantWeb, "client-a")
	require.NoError(t, err)

	a := &fakeAdapter{}
	_, err = reg.SetAdapter("s1", a)
	require.NoError(t, err)

	lc := &fakeLifecycle{reg: reg}
	return NewRouter(reg, lc, zerolog.Nop()), a, reg, lc
}

func TestSendText(t *testing.T) {
	r, a, _, _ := setup(t)

	env := r.SendText(context.Background(), SendTextRequest{SessionID: "s1", To: "628@c.us", Body: "hello"})
	require.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, adapter.DeliveryResult{ID: "msg-1", Timestamp: 1700000000}, env.Result)
	assert.Equal(t, []call{{op: "text", args: []any{"628@c.us", "hello"}}}, a.calls)
}

func TestUnknownSessionNeverTouchesAdapter(t *testing.T) {
	r, a, _, _ := setup(t)
	ctx := context.Background()

	envs := []Envelope{
		r.SendText(ctx, SendTextRequest{SessionID: "ghost", To: "x", Body: "y"}),
		r.SendMedia(ctx, SendMediaRequest{SessionID: "ghost", To: "x", MediaRef: "/a.png", MediaKind: "image"}),
		r.MentionAll(ctx, MentionAllRequest{SessionID: "ghost", GroupID: "g@g.us"}),
		r.SetBlock(ctx, BlockRequest{SessionID: "ghost", ContactID: "x"}),
		r.Contacts(ctx, "ghost"),
		r.Chats(ctx, "ghost"),
		r.Status(ctx, "ghost"),
		r.SetWebhook(ctx, WebhookRequest{SessionID: "ghost", URL: "https://example.com"}),
		r.Logout(ctx, "ghost"),
	}
	for _, env := range envs {
		assert.False(t, env.Success)
		require.NotNil(t, env.Error)
		assert.Equal(t, CodeNotFound, env.Error.Code)
	}
	assert.Empty(t, a.calls)
}

func TestValidation(t *testing.T) {
	r, a, _, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		env  Envelope
	}{
		{"missing recipient", r.SendText(ctx, SendTextRequest{SessionID: "s1", Body: "hi"})},
		{"missing media ref", r.SendMedia(ctx, SendMediaRequest{SessionID: "s1", To: "x", MediaKind: "image"})},
		{"unknown media kind", r.SendMedia(ctx, SendMediaRequest{SessionID: "s1", To: "x", MediaRef: "/a", MediaKind: "video"})},
		{"missing group", r.MentionAll(ctx, MentionAllRequest{SessionID: "s1"})},
		{"missing contact", r.SetBlock(ctx, BlockRequest{SessionID: "s1", Blocked: true})},
		{"bad webhook url", r.SetWebhook(ctx, WebhookRequest{SessionID: "s1", URL: "ftp://x"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.env.Error)
			assert.Equal(t, CodeInvalidRequest, tt.env.Error.Code)
		})
	}
	assert.Empty(t, a.calls)
}

func TestAdapterErrorsMapToCodes(t *testing.T) {
	tests := []struct {
		err  error
		code Code
	}{
		{&adapter.Error{Kind: adapter.KindSend, Err: errors.New("boom")}, CodeSendError},
		{&adapter.Error{Kind: adapter.KindBlock, Err: errors.New("boom")}, CodeBlockError},
		{&adapter.Error{Kind: adapter.KindGroupFetch, Err: errors.New("boom")}, CodeGroupFetchError},
		{&adapter.Error{Kind: adapter.KindNotAGroup, Op: "mention"}, CodeNotAGroup},
		{&adapter.Error{Kind: adapter.KindFetch, Err: errors.New("boom")}, CodeFetchError},
		{context.DeadlineExceeded, CodeTimeout},
		{errors.New("surprise"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			r, a, _, _ := setup(t)
			a.err = tt.err

			env := r.MentionAll(context.Background(), MentionAllRequest{SessionID: "s1", GroupID: "g@g.us", Message: "hi"})
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.err.Error(), env.Error.Message)
		})
	}
}

func TestPanicBecomesInternalEnvelope(t *testing.T) {
	r, a, _, _ := setup(t)
	a.panic = true

	var env Envelope
	require.NotPanics(t, func() {
		env = r.Status(context.Background(), "s1")
	})
	assert.False(t, env.Success)
	assert.Equal(t, CodeInternal, env.Error.Code)
	assert.Contains(t, env.Error.Message, "backend exploded")
}

func TestLoggedOutSessionRejectsCommands(t *testing.T) {
	r, a, reg, _ := setup(t)
	require.NoError(t, reg.SetState("s1", session.StateLoggedOut))

	env := r.SendText(context.Background(), SendTextRequest{SessionID: "s1", To: "x", Body: "y"})
	assert.Equal(t, CodeLoggedOut, env.Error.Code)
	assert.Empty(t, a.calls)
}

func TestSetWebhookAndClear(t *testing.T) {
	r, _, reg, _ := setup(t)
	ctx := context.Background()

	env := r.SetWebhook(ctx, WebhookRequest{SessionID: "s1", URL: "https://hooks.example.com", IgnoreGroupEvents: true})
	require.True(t, env.Success)

	s, _ := reg.Get("s1")
	require.NotNil(t, s.Webhook)
	assert.True(t, s.Webhook.IgnoreGroupEvents)

	require.True(t, r.SetWebhook(ctx, WebhookRequest{SessionID: "s1"}).Success)
	s, _ = reg.Get("s1")
	assert.Nil(t, s.Webhook)
}

func TestListAndLogout(t *testing.T) {
	r, _, reg, lc := setup(t)
	ctx := context.Background()

	env := r.List(ctx)
	require.True(t, env.Success)
	list := env.Result.([]session.Summary)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)

	require.True(t, r.Logout(ctx, "s1").Success)
	assert.Equal(t, []string{"s1"}, lc.loggedOut)
	assert.Equal(t, 0, reg.Count())
}

func TestLogoutBackendFailureStillReported(t *testing.T) {
	r, _, reg, lc := setup(t)
	lc.logoutErr = &adapter.Error{Kind: adapter.KindLogout, Err: errors.New("page closed")}

	env := r.Logout(context.Background(), "s1")
	assert.Equal(t, CodeLogoutError, env.Error.Code)
	assert.Equal(t, 0, reg.Count())
}

func TestCodeForSessionErrors(t *testing.T) {
	assert.Equal(t, CodeAlreadyExists, CodeFor(session.ErrAlreadyExists))
	assert.Equal(t, CodeInvalidRequest, CodeFor(session.ValidateID("../x")))
	_, err := adapter.ParseVariant("telegram")
	assert.Equal(t, CodeInvalidRequest, CodeFor(err))
	assert.Equal(t, Code(""), CodeFor(nil))
}
