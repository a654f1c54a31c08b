// Package hub owns the session lifecycle: it creates adapters, routes their
// events through state transitions, the relay and the reconnect controller,
// and keeps the session store in step with the registry.
package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/events"
	"github.com/harun/wabridge/pkg/reconnect"
	"github.com/harun/wabridge/pkg/session"
	"github.com/harun/wabridge/pkg/store"
	"github.com/rs/zerolog"
)

// AdapterFactory builds unconnected adapters.
type AdapterFactory interface {
	New(variant adapter.Variant, sessionID, authDir string, sink adapter.Sink) (adapter.Adapter, error)
	Supports(variant adapter.Variant) bool
}

// EventRelay forwards a session event to its subscriber and webhook.
type EventRelay interface {
	Deliver(ctx context.Context, sessionID string, ev events.Event)
}

// SessionStore persists session metadata across restarts.
type SessionStore interface {
	Upsert(ctx context.Context, id, variant string) error
	SetWebhook(ctx context.Context, id string, cfg *session.WebhookConfig) error
	Get(ctx context.Context, id string) (store.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]store.Record, error)
}

// Options configures a Hub.
type Options struct {
	DataDir          string
	Registry         *session.Registry
	Factory          AdapterFactory
	Relay            EventRelay
	Store            SessionStore // optional
	ReconnectTimeout time.Duration
	Logger           zerolog.Logger
}

// InitResult reports the outcome of Init.
type InitResult struct {
	SessionID string          `json:"sessionId"`
	Variant   adapter.Variant `json:"type"`
	Resumed   bool            `json:"resumed"`
}

// Hub coordinates sessions. It implements reconnect.Connector.
type Hub struct {
	dataDir  string
	registry *session.Registry
	factory  AdapterFactory
	relay    EventRelay
	store    SessionStore
	control  *reconnect.Controller
	logger   zerolog.Logger

	// serializes Init, Logout and Recreate per session
	locks sync.Map
}

// New creates a hub.
func New(opts Options) (*Hub, error) {
	if opts.Registry == nil {
		return nil, errors.New("hub: registry is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("hub: adapter factory is required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("hub: data dir is required")
	}

	h := &Hub{
		dataDir:  opts.DataDir,
		registry: opts.Registry,
		factory:  opts.Factory,
		relay:    opts.Relay,
		store:    opts.Store,
		logger:   opts.Logger.With().Str("component", "hub").Logger(),
	}
	h.control = reconnect.NewController(opts.Registry, h, opts.ReconnectTimeout, opts.Logger)
	return h, nil
}

// Registry returns the session registry the hub manages.
func (h *Hub) Registry() *session.Registry {
	return h.registry
}

func (h *Hub) lock(id string) func() {
	v, _ := h.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AuthDir returns the credential directory for a session.
func (h *Hub) AuthDir(id string) string {
	return filepath.Join(h.dataDir, "sessions", id)
}

// Init creates and connects a session, or rebinds subscriberID to an
// existing one of the same variant.
func (h *Hub) Init(ctx context.Context, sessionID, variantName, subscriberID string) (InitResult, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return InitResult{}, err
	}
	variant, err := adapter.ParseVariant(variantName)
	if err != nil {
		return InitResult{}, err
	}
	if !h.factory.Supports(variant) {
		return InitResult{}, fmt.Errorf("%w: %s", adapter.ErrVariantUnavailable, variant)
	}

	unlock := h.lock(sessionID)
	defer unlock()

	log := tracing.LoggerFromContext(ctx, h.logger).With().
		Str("sessionId", sessionID).
		Str("variant", string(variant)).
		Logger()

	if existing, err := h.registry.Get(sessionID); err == nil {
		return h.resume(log, existing, variant, subscriberID)
	}

	if _, err := h.registry.Create(sessionID, variant, subscriberID); err != nil {
		return InitResult{}, err
	}

	if err := h.start(ctx, sessionID, variant); err != nil {
		if _, rmErr := h.registry.Remove(sessionID); rmErr != nil {
			log.Debug().Err(rmErr).Msg("Session already gone after failed init")
		}
		log.Error().Err(err).Msg("Session initialization failed")
		return InitResult{}, err
	}

	if h.store != nil {
		if err := h.store.Upsert(ctx, sessionID, string(variant)); err != nil {
			log.Warn().Err(err).Msg("Failed to persist session")
		}
	}

	log.Info().Str("clientId", subscriberID).Msg("Session initialized")
	return InitResult{SessionID: sessionID, Variant: variant}, nil
}

func (h *Hub) resume(log zerolog.Logger, s session.Session, variant adapter.Variant, subscriberID string) (InitResult, error) {
	if s.State == session.StateLoggedOut {
		return InitResult{}, fmt.Errorf("%w: %s", session.ErrLoggedOut, s.ID)
	}
	if s.Variant != variant {
		return InitResult{}, fmt.Errorf("%w: %s runs %s", session.ErrAlreadyExists, s.ID, s.Variant)
	}
	if subscriberID != "" {
		if err := h.registry.BindSubscriber(s.ID, subscriberID); err != nil {
			return InitResult{}, err
		}
	}

	log.Info().Str("clientId", subscriberID).Msg("Subscriber rebound to existing session")
	return InitResult{SessionID: s.ID, Variant: s.Variant, Resumed: true}, nil
}

// start builds and connects the adapter for a freshly created session.
func (h *Hub) start(ctx context.Context, id string, variant adapter.Variant) error {
	authDir := h.AuthDir(id)
	if err := os.MkdirAll(authDir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	if h.store != nil {
		rec, err := h.store.Get(ctx, id)
		switch {
		case err == nil:
			if wh := rec.Webhook(); wh != nil {
				if err := h.registry.SetWebhook(id, wh); err != nil {
					return err
				}
			}
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to load stored webhook")
		}
	}

	a, err := h.build(id, variant, authDir)
	if err != nil {
		return err
	}
	if _, err := h.registry.SetAdapter(id, a); err != nil {
		_ = a.Close()
		return err
	}

	if err := a.Connect(ctx); err != nil {
		_ = a.Close()
		return err
	}
	return nil
}

// build creates an adapter whose sink only accepts events while it is the
// session's current adapter.
func (h *Hub) build(id string, variant adapter.Variant, authDir string) (adapter.Adapter, error) {
	b := &binding{hub: h, sessionID: id}
	a, err := h.factory.New(variant, id, authDir, b.sink)
	if err != nil {
		return nil, err
	}
	b.set(a)
	return a, nil
}

// Recreate replaces a session's adapter with a new one over the same
// credentials and connects it.
func (h *Hub) Recreate(ctx context.Context, id string) error {
	unlock := h.lock(id)
	defer unlock()

	s, err := h.registry.Get(id)
	if err != nil {
		return err
	}
	if s.State == session.StateLoggedOut {
		return fmt.Errorf("%w: %s", session.ErrLoggedOut, id)
	}

	a, err := h.build(id, s.Variant, h.AuthDir(id))
	if err != nil {
		return err
	}
	previous, err := h.registry.SetAdapter(id, a)
	if err != nil {
		_ = a.Close()
		return err
	}
	if previous != nil {
		if err := previous.Close(); err != nil {
			h.logger.Debug().Err(err).Str("sessionId", id).Msg("Closing replaced adapter")
		}
	}

	h.logger.Info().Str("sessionId", id).Msg("Adapter recreated")
	return a.Connect(ctx)
}

// Logout ends a session. The session is removed even when the backend
// rejects the logout; the backend error is still returned.
func (h *Hub) Logout(ctx context.Context, id string) error {
	unlock := h.lock(id)
	defer unlock()

	s, err := h.registry.Get(id)
	if err != nil {
		return err
	}

	// Sticky: the backend drop that follows a logout must not reconnect.
	if err := h.registry.SetState(id, session.StateLoggedOut); err != nil {
		return err
	}

	var logoutErr error
	if s.Adapter != nil {
		logoutErr = s.Adapter.Logout(ctx)
		if err := s.Adapter.Close(); err != nil {
			h.logger.Debug().Err(err).Str("sessionId", id).Msg("Closing adapter after logout")
		}
	}

	if _, err := h.registry.Remove(id); err != nil {
		return err
	}
	if h.store != nil {
		if err := h.store.Delete(ctx, id); err != nil {
			h.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to delete stored session")
		}
	}
	if err := os.RemoveAll(h.AuthDir(id)); err != nil {
		h.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to remove credentials")
	}

	h.logger.Info().Str("sessionId", id).Msg("Session logged out")
	return logoutErr
}

// SetWebhook sets or clears the session's webhook and persists it.
func (h *Hub) SetWebhook(ctx context.Context, id string, cfg *session.WebhookConfig) error {
	if err := h.registry.SetWebhook(id, cfg); err != nil {
		return err
	}
	if h.store != nil {
		if err := h.store.SetWebhook(ctx, id, cfg); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}

// UnbindSubscriber detaches a departed subscriber from its sessions.
func (h *Hub) UnbindSubscriber(subscriberID string) []string {
	ids := h.registry.UnbindSubscriber(subscriberID)
	if len(ids) > 0 {
		h.logger.Debug().Str("clientId", subscriberID).Strs("sessions", ids).Msg("Subscriber unbound")
	}
	return ids
}

// Restore re-initializes every stored session without a subscriber.
func (h *Hub) Restore(ctx context.Context) (int, error) {
	if h.store == nil {
		return 0, nil
	}
	records, err := h.store.List(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range records {
		if _, err := h.Init(ctx, rec.ID, rec.Variant, ""); err != nil {
			h.logger.Error().Err(err).Str("sessionId", rec.ID).Msg("Failed to restore session")
			continue
		}
		restored++
	}

	h.logger.Info().Int("restored", restored).Int("stored", len(records)).Msg("Sessions restored")
	return restored, nil
}

// Sweep removes credential directories that belong to neither a live nor a
// stored session, such as those left by a crash between logout steps.
func (h *Hub) Sweep(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(h.dataDir, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if h.orphaned(ctx, id) {
			removed = append(removed, id)
		}
	}

	if len(removed) > 0 {
		h.logger.Info().Strs("sessions", removed).Msg("Removed orphaned credentials")
	}
	return removed, nil
}

func (h *Hub) orphaned(ctx context.Context, id string) bool {
	unlock := h.lock(id)
	defer unlock()

	if _, err := h.registry.Get(id); err == nil {
		return false
	}
	if h.store != nil {
		if _, err := h.store.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
			return false
		}
	}
	if err := os.RemoveAll(h.AuthDir(id)); err != nil {
		h.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to remove orphaned credentials")
		return false
	}
	return true
}

// Shutdown stops reconnects and closes every adapter. Sessions stay paired.
func (h *Hub) Shutdown(ctx context.Context) error {
	stopErr := h.control.Stop(ctx)

	for _, s := range h.registry.Snapshot() {
		if s.Adapter == nil {
			continue
		}
		if err := s.Adapter.Close(); err != nil {
			h.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("Failed to close adapter")
		}
	}
	return stopErr
}

func (h *Hub) handle(ctx context.Context, b *binding, ev events.Event) {
	s, err := h.registry.Get(b.sessionID)
	if err != nil {
		return
	}
	current := b.get()
	if current == nil || s.Adapter != current {
		h.logger.Debug().Str("sessionId", b.sessionID).Str("event", string(ev.Kind)).Msg("Dropping event from replaced adapter")
		return
	}

	if state, ok := transitionFor(ev.Kind); ok {
		if err := h.registry.SetState(b.sessionID, state); err != nil {
			return
		}
	}

	if h.relay != nil {
		h.relay.Deliver(ctx, b.sessionID, ev)
	}

	if ev.Kind == events.KindDisconnected {
		reason := events.DisconnectReason{}
		if ev.Reason != nil {
			reason = *ev.Reason
		}
		if _, err := h.control.HandleDisconnect(ctx, b.sessionID, reason); err != nil {
			h.logger.Warn().Err(err).Str("sessionId", b.sessionID).Msg("Reconnect not started")
		}
	}
}

func transitionFor(kind events.Kind) (session.State, bool) {
	switch kind {
	case events.KindQR:
		return session.StateAwaitingPairing, true
	case events.KindAuthenticated:
		return session.StateInitializing, true
	case events.KindReady:
		return session.StateConnected, true
	case events.KindDisconnected:
		return session.StateDisconnected, true
	}
	return "", false
}

type binding struct {
	hub       *Hub
	sessionID string

	mu      sync.RWMutex
	adapter adapter.Adapter
}

func (b *binding) set(a adapter.Adapter) {
	b.mu.Lock()
	b.adapter = a
	b.mu.Unlock()
}

func (b *binding) get() adapter.Adapter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.adapter
}

func (b *binding) sink(ev events.Event) {
	ctx := tracing.WithSessionID(tracing.NewRequestContext(context.Background()), b.sessionID)
	b.hub.handle(ctx, b, ev)
}
