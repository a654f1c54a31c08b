package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is an inbound client frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is a reply to an inbound frame.
type OutboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// FrameError is sent back for frames that could not be routed.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return e.Message
}

// EventMessage is a server-pushed event.
type EventMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Session   string `json:"session_key,omitempty"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	TraceID   string `json:"trace_id,omitempty"`
	Data      any    `json:"data"`
}

// InitRequest asks for a session to be created or resumed.
type InitRequest struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
}

// InitResponse is the init_response payload.
type InitResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Type      string `json:"type,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LogoutRequest asks for a session to be logged out.
type LogoutRequest struct {
	SessionID string `json:"sessionId"`
}

// LogoutResponse is the logout_response payload.
type LogoutResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error,omitempty"`
}

// AuthChallenge represents an authentication challenge message
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse represents a client's authentication response
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo describes a connected subscriber.
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Idle          bool      `json:"idle"`
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// Frame error codes
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	UnknownEvent           = -32601
	InternalError          = -32603
	AuthenticationRequired = -32001
	RateLimitExceeded      = -32005
	TooManyConcurrent      = -32006
)

// Client is one connected subscriber. Writes are serialized; gorilla
// connections allow a single concurrent writer.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	AuthAttempts  int
	Limiter       *FrameLimiter
	State         ClientState

	writeMu sync.Mutex
}

// WriteMessage writes a raw websocket message.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON writes v as a JSON text message.
func (c *Client) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}
