package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/harun/wabridge/internal/observability"
	"github.com/rs/zerolog"
)

// DispatchError is a failed webhook delivery. It is logged, never surfaced
// to the event source.
type DispatchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// DispatcherOptions configures outbound delivery.
type DispatcherOptions struct {
	Timeout time.Duration
	// Secret signs every body into X-Webhook-Signature. Empty disables signing.
	Secret string
	Logger zerolog.Logger
	Client *http.Client
}

// Dispatcher POSTs event envelopes to per-session webhook URLs. Deliveries
// are fire-and-forget: one goroutine per event, no retry, no ordering.
type Dispatcher struct {
	client  *http.Client
	secret  string
	logger  zerolog.Logger
	metrics *MetricsTracker

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Dispatcher{
		client:  client,
		secret:  opts.Secret,
		logger:  opts.Logger.With().Str("component", "webhook").Logger(),
		metrics: NewMetricsTracker(),
	}
}

// Dispatch delivers env to url in the background and returns immediately.
// After Wait has been called events are dropped.
func (d *Dispatcher) Dispatch(url string, env Envelope) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug().Str("sessionId", env.SessionID).Str("event", env.Event).Msg("Dispatcher closed, dropping webhook")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Interface("panic", r).Str("sessionId", env.SessionID).Msg("Webhook dispatch panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout+time.Second)
		defer cancel()

		if err := d.Send(ctx, url, env); err != nil {
			d.logger.Warn().Err(err).
				Str("sessionId", env.SessionID).
				Str("event", env.Event).
				Msg("Webhook dispatch failed")
		}
	}()
}

// Send delivers env to url and waits for the response. A non-2xx status is
// a *DispatchError.
func (d *Dispatcher) Send(ctx context.Context, url string, env Envelope) error {
	start := time.Now()
	err := d.post(ctx, url, env)
	elapsed := time.Since(start)

	d.metrics.Track(url, err, elapsed)
	observability.RecordWebhookDispatch(elapsed, err == nil)

	if err == nil {
		d.logger.Debug().
			Str("sessionId", env.SessionID).
			Str("event", env.Event).
			Dur("duration", elapsed).
			Msg("Webhook delivered")
	}
	return err
}

func (d *Dispatcher) post(ctx context.Context, url string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return &DispatchError{URL: url, Err: fmt.Errorf("encode envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wabridge-webhook/1.0")
	req.Header.Set("X-Wabridge-Event", env.Event)
	if d.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// Metrics exposes per-target delivery statistics.
func (d *Dispatcher) Metrics() *MetricsTracker {
	return d.metrics
}

// Wait stops accepting deliveries and blocks until in-flight ones finish or
// ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
