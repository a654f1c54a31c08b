// Package bridge talks to the out-of-process backend drivers. Each session
// holds one websocket to its driver carrying JSON requests, responses and
// pushed events.
package bridge

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrClosed          = errors.New("driver connection closed")
	ErrRequestTimeout  = errors.New("driver request timed out")
	defaultCallTimeout = 60 * time.Second
)

const (
	closeTimeout = 5 * time.Second

	// eventQueueSize bounds driver events waiting for the handler before
	// the reader stalls.
	eventQueueSize = 256
)

// RemoteError is an error reported by the driver for one request.
type RemoteError struct {
	Method  string `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return e.Method + ": " + e.Code + ": " + e.Message
	}
	return e.Method + ": " + e.Message
}

// Config configures driver connections for one variant.
type Config struct {
	URL            string
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
	Logger         zerolog.Logger
}

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// frame is any message from the driver: a response when ID is set,
// otherwise an event.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Conn is a request/response channel to a driver. It dials lazily and
// redials on the next call after a drop.
type Conn struct {
	endpoint string
	timeout  time.Duration
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	onEvent func(name string, data json.RawMessage)
	onDrop  func(err error)

	// Handlers run on their own goroutine, in arrival order, so they may
	// call back into the driver while the reader keeps delivering replies.
	queue        chan func()
	done         chan struct{}
	dispatchOnce sync.Once

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]chan frame
	closed  bool

	writeMu sync.Mutex
}

// NewConn prepares a connection for sessionID. Nothing is dialed yet.
func NewConn(cfg Config, sessionID, variant, authDir string, onEvent func(string, json.RawMessage), onDrop func(error)) (*Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid driver url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("driver url must use ws or wss, got %q", u.Scheme)
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("variant", variant)
	q.Set("auth_dir", authDir)
	u.RawQuery = q.Encode()

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if onEvent == nil {
		onEvent = func(string, json.RawMessage) {}
	}
	if onDrop == nil {
		onDrop = func(error) {}
	}

	return &Conn{
		endpoint: u.String(),
		timeout:  timeout,
		dialer:   dialer,
		logger:   cfg.Logger.With().Str("component", "bridge").Str("sessionId", sessionID).Logger(),
		onEvent:  onEvent,
		onDrop:   onDrop,
		pending:  make(map[string]chan frame),
		queue:    make(chan func(), eventQueueSize),
		done:     make(chan struct{}),
	}, nil
}

// Endpoint returns the dialed URL including the session query.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Connected reports whether a driver connection is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil && !c.closed
}

func (c *Conn) ensure(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.ws != nil {
		return c.ws, nil
	}

	ws, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial driver")
	}
	c.ws = ws
	c.dispatchOnce.Do(func() { go c.dispatch() })
	go c.readLoop(ws)

	c.logger.Debug().Msg("Driver connected")
	return ws, nil
}

// Call sends method with params and decodes the result into out, which may
// be nil.
func (c *Conn) Call(ctx context.Context, method string, params, out any) error {
	ws, err := c.ensure(ctx)
	if err != nil {
		return err
	}

	id, err := gonanoid.New()
	if err != nil {
		return errors.Wrap(err, "generate request id")
	}

	reply := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return errors.Wrapf(err, "encode %s", method)
	}

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "write %s", method)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case f, ok := <-reply:
		if !ok {
			return errors.Wrap(ErrClosed, method)
		}
		if f.Error != nil {
			f.Error.Method = method
			return f.Error
		}
		if out == nil || len(f.Result) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(f.Result, out), "decode %s result", method)
	case <-timer.C:
		return errors.Wrap(ErrRequestTimeout, method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	var readErr error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed driver frame")
			continue
		}

		if f.ID == "" {
			if f.Event != "" {
				name, data := f.Event, f.Data
				c.enqueue(func() { c.onEvent(name, data) })
			}
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			select {
			case reply <- f:
			default:
			}
		}
	}

	c.mu.Lock()
	intentional := c.closed
	if c.ws == ws {
		c.ws = nil
	}
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	_ = ws.Close()
	if intentional {
		return
	}

	c.logger.Warn().Err(readErr).Msg("Driver connection lost")
	c.enqueue(func() { c.onDrop(readErr) })
}

func (c *Conn) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.done:
	}
}

func (c *Conn) dispatch() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			return
		}
	}
}

// Close closes the connection for good. Pending calls fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return ws.Close()
}
