package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// FrameHandler handles one inbound frame and returns the reply payload.
type FrameHandler func(ctx context.Context, client *Client, data json.RawMessage) any

// FrameRouter maps frame events to handlers. A frame named "x" is answered
// with "x_response".
type FrameRouter struct {
	mu       sync.RWMutex
	handlers map[string]FrameHandler
}

// NewFrameRouter creates an empty router.
func NewFrameRouter() *FrameRouter {
	return &FrameRouter{
		handlers: make(map[string]FrameHandler),
	}
}

// RegisterHandler binds handler to event.
func (r *FrameRouter) RegisterHandler(event string, handler FrameHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if event == "" {
		return fmt.Errorf("event name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = handler
	return nil
}

// UnregisterHandler removes the handler for event.
func (r *FrameRouter) UnregisterHandler(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, event)
}

// ParseFrame decodes and validates an inbound frame.
func (r *FrameRouter) ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &FrameError{Code: ParseError, Message: "Parse error: " + err.Error()}
	}
	if f.Event == "" {
		return nil, &FrameError{Code: InvalidRequest, Message: "Invalid frame: missing event field"}
	}
	return &f, nil
}

// Route runs the handler for f. Panics in handlers become error frames.
func (r *FrameRouter) Route(ctx context.Context, client *Client, f *Frame) (out OutboundFrame) {
	r.mu.RLock()
	handler, exists := r.handlers[f.Event]
	r.mu.RUnlock()

	if !exists {
		return errorFrame(UnknownEvent, fmt.Sprintf("Unknown event: %s", f.Event))
	}

	defer func() {
		if p := recover(); p != nil {
			out = errorFrame(InternalError, fmt.Sprintf("internal error: %v", p))
		}
	}()

	return OutboundFrame{Event: f.Event + "_response", Data: handler(ctx, client, f.Data)}
}

// Events lists the registered frame events.
func (r *FrameRouter) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		events = append(events, name)
	}
	sort.Strings(events)
	return events
}

func errorFrame(code int, message string) OutboundFrame {
	return OutboundFrame{Event: "error", Data: &FrameError{Code: code, Message: message}}
}
