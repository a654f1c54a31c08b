package adapter

import "context"

// WebClient is the capability surface of a browser-automation backend
// (the whatsapp-web.js variant).
type WebClient interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, chatID string, content WebContent, opts WebSendOptions) (WebSentMessage, error)
	GetChatByID(ctx context.Context, chatID string) (WebChat, error)
	BlockContact(ctx context.Context, contactID string) error
	UnblockContact(ctx context.Context, contactID string) error
	GetContacts(ctx context.Context) ([]Contact, error)
	GetChats(ctx context.Context) ([]Chat, error)
	// Info returns nil while the client is not ready.
	Info(ctx context.Context) (map[string]any, error)
	Logout(ctx context.Context) error
	Close() error
}

// WebHandler receives native events from a WebClient.
type WebHandler interface {
	HandleWebEvent(WebEvent)
}

// WebClientFactory builds a WebClient for one session. authDir is the
// session's credential directory.
type WebClientFactory func(sessionID, authDir string, handler WebHandler) (WebClient, error)

// Native web event types.
const (
	WebEventQR            = "qr"
	WebEventAuthenticated = "authenticated"
	WebEventReady         = "ready"
	WebEventMessage       = "message"
	WebEventDisconnected  = "disconnected"
)

// WebEvent is a native event from the web backend.
type WebEvent struct {
	Type    string      `json:"type"`
	QR      string      `json:"qr,omitempty"`
	Message *WebMessage `json:"message,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// WebMessage is a native inbound message from the web backend.
type WebMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	HasMedia  bool   `json:"hasMedia"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// WebContent is either text or a media payload.
type WebContent struct {
	Text  string        `json:"text,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// WebSendOptions are the optional send parameters.
type WebSendOptions struct {
	Caption  string   `json:"caption,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// WebSentMessage is the backend's receipt for a sent message.
type WebSentMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// WebChat is a chat lookup result.
type WebChat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	Participants []string `json:"participants"`
}

// SocketClient is the capability surface of a protocol-socket backend
// (the baileys variant).
type SocketClient interface {
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, jid string, content SocketContent) (SocketSentMessage, error)
	GroupMetadata(ctx context.Context, jid string) (GroupMetadata, error)
	// UpdateBlockStatus takes "block" or "unblock".
	UpdateBlockStatus(ctx context.Context, jid, action string) error
	Close() error
}

// SocketHandler receives native events from a SocketClient.
type SocketHandler interface {
	HandleSocketEvent(SocketEvent)
}

// SocketClientFactory builds a SocketClient for one session.
type SocketClientFactory func(sessionID, authDir string, handler SocketHandler) (SocketClient, error)

// Native socket event types.
const (
	SocketEventConnectionUpdate = "connection.update"
	SocketEventMessagesUpsert   = "messages.upsert"
)

// LoggedOutStatus is the close status the socket backend reports after the
// device was unlinked.
const LoggedOutStatus = 401

// SocketEvent is a native event from the socket backend.
type SocketEvent struct {
	Type       string            `json:"type"`
	Connection *ConnectionUpdate `json:"connection,omitempty"`
	UpsertType string            `json:"upsertType,omitempty"`
	Messages   []SocketMessage   `json:"messages,omitempty"`
}

// ConnectionUpdate mirrors the socket backend's connection.update payload.
type ConnectionUpdate struct {
	Connection string `json:"connection,omitempty"` // open, connecting, close
	QR         string `json:"qr,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SocketMessage mirrors one entry of messages.upsert.
type SocketMessage struct {
	Key              MessageKey      `json:"key"`
	Message          *MessageContent `json:"message,omitempty"`
	MessageTimestamp int64           `json:"messageTimestamp"`
	PushName         string          `json:"pushName,omitempty"`
}

// MessageKey addresses a socket message.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// MessageContent holds the payload variants the normalizer reads.
type MessageContent struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaMessage        `json:"imageMessage,omitempty"`
	AudioMessage        *MediaMessage        `json:"audioMessage,omitempty"`
	VideoMessage        *MediaMessage        `json:"videoMessage,omitempty"`
	DocumentMessage     *MediaMessage        `json:"documentMessage,omitempty"`
}

// ExtendedTextMessage is a text message with context (replies, links).
type ExtendedTextMessage struct {
	Text string `json:"text"`
}

// MediaMessage is the shared shape of media payloads.
type MediaMessage struct {
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// SocketContent is an outbound socket message.
type SocketContent struct {
	Text     string        `json:"text,omitempty"`
	Media    *MediaPayload `json:"media,omitempty"`
	Caption  string        `json:"caption,omitempty"`
	Mentions []string      `json:"mentions,omitempty"`
}

// SocketSentMessage is the backend's receipt for a sent message.
type SocketSentMessage struct {
	Key              MessageKey `json:"key"`
	MessageTimestamp int64      `json:"messageTimestamp"`
}

// GroupMetadata is the socket backend's group description.
type GroupMetadata struct {
	ID           string   `json:"id"`
	Subject      string   `json:"subject"`
	Participants []string `json:"participants"`
}
