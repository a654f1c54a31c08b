// Package reconnect applies each variant's reconnection policy after a
// backend disconnect.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/events"
	"github.com/harun/wabridge/pkg/session"
	"github.com/rs/zerolog"
)

// Connector rebuilds a session's backend from scratch.
type Connector interface {
	Recreate(ctx context.Context, sessionID string) error
}

// Sessions is the registry surface the controller needs.
type Sessions interface {
	Get(id string) (session.Session, error)
	SetState(id string, state session.State) error
}

// Controller runs reconnect attempts off the event path. Attempts for one
// session never overlap. Disconnects that arrive while an attempt is running
// collapse into exactly one follow-up attempt.
type Controller struct {
	sessions  Sessions
	connector Connector
	timeout   time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	running map[string]*run

	wg      sync.WaitGroup
	stopped atomic.Bool
}

type run struct {
	again bool
	log   zerolog.Logger
}

// NewController creates a controller. timeout bounds a single attempt.
func NewController(sessions Sessions, connector Connector, timeout time.Duration, logger zerolog.Logger) *Controller {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Controller{
		sessions:  sessions,
		connector: connector,
		timeout:   timeout,
		logger:    logger.With().Str("component", "reconnect").Logger(),
		running:   make(map[string]*run),
	}
}

// HandleDisconnect decides and, when needed, starts a reconnect for
// sessionID. It returns the chosen plan without waiting for the attempt.
func (c *Controller) HandleDisconnect(ctx context.Context, sessionID string, reason events.DisconnectReason) (adapter.Plan, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return 0, err
	}
	if s.Adapter == nil {
		return 0, fmt.Errorf("session %s has no adapter", sessionID)
	}

	log := tracing.LoggerFromContext(ctx, c.logger).With().
		Str("sessionId", sessionID).
		Str("reason", reason.String()).
		Logger()

	if s.State == session.StateLoggedOut {
		log.Debug().Msg("Session is logged out, ignoring disconnect")
		return adapter.PlanFinalize, nil
	}

	plan := s.Adapter.PlanReconnect(reason)
	if plan == adapter.PlanFinalize {
		if err := c.sessions.SetState(sessionID, session.StateLoggedOut); err != nil {
			return plan, err
		}
		observability.RecordReconnect(plan.String(), true)
		log.Info().Msg("Session logged out, not reconnecting")
		return plan, nil
	}

	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		return plan, nil
	}
	if r, ok := c.running[sessionID]; ok {
		r.again = true
		r.log = log
		c.mu.Unlock()
		log.Debug().Msg("Reconnect already running, queued another attempt")
		return plan, nil
	}
	c.running[sessionID] = &run{log: log}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.loop(tracing.Detach(ctx), sessionID, plan, log)

	return plan, nil
}

// loop runs attempts for sessionID until no disconnect arrived during the
// last one.
func (c *Controller) loop(ctx context.Context, sessionID string, plan adapter.Plan, log zerolog.Logger) {
	defer c.wg.Done()
	for {
		_ = c.attempt(ctx, log, sessionID, plan)

		c.mu.Lock()
		r := c.running[sessionID]
		if !r.again || c.stopped.Load() {
			delete(c.running, sessionID)
			c.mu.Unlock()
			return
		}
		r.again = false
		log = r.log
		c.mu.Unlock()
	}
}

func (c *Controller) attempt(ctx context.Context, log zerolog.Logger, sessionID string, plan adapter.Plan) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconnect panicked: %v", r)
		}
		observability.RecordReconnect(plan.String(), err == nil)
		if err != nil {
			log.Error().Err(err).Str("plan", plan.String()).Msg("Reconnect attempt failed")
			_ = c.sessions.SetState(sessionID, session.StateDisconnected)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s, err := c.sessions.Get(sessionID)
	if errors.Is(err, session.ErrNotFound) {
		log.Debug().Msg("Session removed meanwhile, skipping reconnect")
		return nil
	}
	if err != nil {
		return err
	}
	if s.State == session.StateLoggedOut {
		log.Debug().Msg("Session logged out meanwhile, skipping reconnect")
		return nil
	}

	if err := c.sessions.SetState(sessionID, session.StateReconnecting); err != nil {
		return err
	}
	log.Info().Str("plan", plan.String()).Msg("Reconnecting session")

	if plan == adapter.PlanInPlace && s.Adapter != nil {
		err := s.Adapter.Reconnect(ctx)
		if !errors.Is(err, adapter.ErrRecreateRequired) {
			return err
		}
	}

	return c.connector.Recreate(ctx, sessionID)
}

// Stop refuses new attempts and waits for running ones until ctx is done.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped.Store(true)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
