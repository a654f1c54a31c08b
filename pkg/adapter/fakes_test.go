package adapter

import (
	"context"
	"sync"

	"github.com/harun/wabridge/pkg/events"
)

type sentWeb struct {
	chatID  string
	content WebContent
	opts    WebSendOptions
}

type fakeWebClient struct {
	mu          sync.Mutex
	handler     WebHandler
	initCalls   int
	initErr     error
	sent        []sentWeb
	sendErr     error
	chats       map[string]WebChat
	chatErr     error
	blocked     []string
	unblocked   []string
	blockErr    error
	contacts    []Contact
	info        map[string]any
	logoutCalls int
	closed      bool
}

func (f *fakeWebClient) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeWebClient) SendMessage(_ context.Context, chatID string, content WebContent, opts WebSendOptions) (WebSentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return WebSentMessage{}, f.sendErr
	}
	f.sent = append(f.sent, sentWeb{chatID: chatID, content: content, opts: opts})
	return WebSentMessage{ID: "msg-1", Timestamp: 1700000000}, nil
}

func (f *fakeWebClient) GetChatByID(_ context.Context, chatID string) (WebChat, error) {
	if f.chatErr != nil {
		return WebChat{}, f.chatErr
	}
	chat, ok := f.chats[chatID]
	if !ok {
		return WebChat{ID: chatID}, nil
	}
	return chat, nil
}

func (f *fakeWebClient) BlockContact(_ context.Context, id string) error {
	f.blocked = append(f.blocked, id)
	return f.blockErr
}

func (f *fakeWebClient) UnblockContact(_ context.Context, id string) error {
	f.unblocked = append(f.unblocked, id)
	return f.blockErr
}

func (f *fakeWebClient) GetContacts(context.Context) ([]Contact, error) { return f.contacts, nil }

func (f *fakeWebClient) GetChats(context.Context) ([]Chat, error) { return nil, nil }

func (f *fakeWebClient) Info(context.Context) (map[string]any, error) { return f.info, nil }

func (f *fakeWebClient) Logout(context.Context) error {
	f.logoutCalls++
	return nil
}

func (f *fakeWebClient) Close() error {
	f.closed = true
	return nil
}

type fakeSocketClient struct {
	mu           sync.Mutex
	handler      SocketHandler
	connectCalls int
	sent         []SocketContent
	sentTo       []string
	sendErr      error
	groups       map[string]GroupMetadata
	groupErr     error
	blockActions []string
	closed       bool
}

func (f *fakeSocketClient) Connect(context.Context) error {
	f.connectCalls++
	return nil
}

func (f *fakeSocketClient) SendMessage(_ context.Context, jid string, content SocketContent) (SocketSentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return SocketSentMessage{}, f.sendErr
	}
	f.sent = append(f.sent, content)
	f.sentTo = append(f.sentTo, jid)
	return SocketSentMessage{Key: MessageKey{ID: "3EB0"}, MessageTimestamp: 1700000001}, nil
}

func (f *fakeSocketClient) GroupMetadata(_ context.Context, jid string) (GroupMetadata, error) {
	if f.groupErr != nil {
		return GroupMetadata{}, f.groupErr
	}
	return f.groups[jid], nil
}

func (f *fakeSocketClient) UpdateBlockStatus(_ context.Context, jid, action string) error {
	f.blockActions = append(f.blockActions, action+":"+jid)
	return nil
}

func (f *fakeSocketClient) Close() error {
	f.closed = true
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) sink(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestFactory(web *fakeWebClient, sock *fakeSocketClient) *Factory {
	return &Factory{
		Web: func(_, _ string, h WebHandler) (WebClient, error) {
			web.handler = h
			return web, nil
		},
		Socket: func(_, _ string, h SocketHandler) (SocketClient, error) {
			sock.handler = h
			return sock, nil
		},
		AnonymityMarker: DefaultAnonymityMarker,
	}
}
