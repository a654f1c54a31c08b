package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/pkg/adapter"
)

// Registry maps session IDs to sessions. Every operation is atomic.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session in StateInitializing. Of two concurrent
// creates for the same ID exactly one succeeds.
func (r *Registry) Create(id string, variant adapter.Variant, subscriberID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return Session{}, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Variant:      variant,
		SubscriberID: subscriberID,
		State:        StateInitializing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.sessions[id] = s
	observability.SetActiveSessions(len(r.sessions))
	observability.RecordStateTransition(string(StateInitializing))

	return s.snapshot(), nil
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.snapshot(), nil
}

// Remove deletes the session and returns its last snapshot.
func (r *Registry) Remove(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	observability.SetActiveSessions(len(r.sessions))

	return s.snapshot(), nil
}

// List returns summaries sorted by ID.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func (r *Registry) update(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(s)
	s.UpdatedAt = time.Now()
	return nil
}

// SetState records a state transition. A logged out session stays logged
// out; later transitions are ignored.
func (r *Registry) SetState(id string, state State) error {
	return r.update(id, func(s *Session) {
		if s.State == StateLoggedOut || s.State == state {
			return
		}
		s.State = state
		observability.RecordStateTransition(string(state))
	})
}

// SetWebhook sets or, with nil, clears the session's webhook.
func (r *Registry) SetWebhook(id string, cfg *WebhookConfig) error {
	return r.update(id, func(s *Session) {
		if cfg == nil {
			s.Webhook = nil
			return
		}
		wh := *cfg
		s.Webhook = &wh
	})
}

// SetAdapter binds the live adapter and returns the one it replaced.
func (r *Registry) SetAdapter(id string, a adapter.Adapter) (adapter.Adapter, error) {
	var previous adapter.Adapter
	err := r.update(id, func(s *Session) {
		previous = s.Adapter
		s.Adapter = a
	})
	return previous, err
}

// BindSubscriber points the session's events at subscriberID.
func (r *Registry) BindSubscriber(id, subscriberID string) error {
	return r.update(id, func(s *Session) {
		s.SubscriberID = subscriberID
	})
}

// UnbindSubscriber clears subscriberID from every session bound to it and
// returns the affected session IDs.
func (r *Registry) UnbindSubscriber(subscriberID string) []string {
	if subscriberID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, s := range r.sessions {
		if s.SubscriberID == subscriberID {
			s.SubscriberID = ""
			s.UpdatedAt = time.Now()
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns copies of every session, sorted by ID.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
