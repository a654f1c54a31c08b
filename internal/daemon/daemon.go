package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/wabridge/internal/config"
	"github.com/harun/wabridge/internal/logger"
	"github.com/harun/wabridge/internal/observability"
	"github.com/harun/wabridge/internal/tracing"
	"github.com/harun/wabridge/pkg/adapter"
	"github.com/harun/wabridge/pkg/bridge"
	"github.com/harun/wabridge/pkg/command"
	"github.com/harun/wabridge/pkg/gateway"
	"github.com/harun/wabridge/pkg/httpapi"
	"github.com/harun/wabridge/pkg/hub"
	"github.com/harun/wabridge/pkg/relay"
	"github.com/harun/wabridge/pkg/session"
	"github.com/harun/wabridge/pkg/store"
	"github.com/harun/wabridge/pkg/webhook"
	"github.com/robfig/cron/v3"
)

const stopTimeout = 10 * time.Second

// Daemon represents the wabridge service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store      *store.Store
	registry   *session.Registry
	factory    *adapter.Factory
	dispatcher *webhook.Dispatcher
	relay      *relay.Relay
	hub        *hub.Hub
	commands   *command.Router

	// Services
	gatewayServer *gateway.Server
	httpServer    *httpapi.Server

	lifecycle *LifecycleManager
	scheduler *cron.Cron
	watcher   *config.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		_ = d.store.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(cfg.Sessions.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = st

	d.registry = session.NewRegistry()

	requestTimeout := seconds(cfg.Backends.RequestTimeout)
	d.factory = &adapter.Factory{
		Media:           adapter.NewMediaResolver(seconds(cfg.Media.FetchTimeout), cfg.Media.MaxBytes),
		AnonymityMarker: cfg.Mention.AnonymityMarker,
		Logger:          d.logger.Component("adapter"),
	}
	if url := cfg.Backends.Web.URL; url != "" {
		d.factory.Web = bridge.WebFactory(bridge.Config{
			URL:            url,
			RequestTimeout: requestTimeout,
			Logger:         d.logger.Component("bridge"),
		})
	}
	if url := cfg.Backends.Socket.URL; url != "" {
		d.factory.Socket = bridge.SocketFactory(bridge.Config{
			URL:            url,
			RequestTimeout: requestTimeout,
			Logger:         d.logger.Component("bridge"),
		})
	}

	d.dispatcher = webhook.NewDispatcher(webhook.DispatcherOptions{
		Timeout: seconds(cfg.Webhook.Timeout),
		Secret:  cfg.Webhook.Secret,
		Logger:  d.logger.GetZerolog(),
	})

	// The relay publishes through the daemon so it can be built before the
	// gateway that depends on the hub.
	d.relay = relay.New(d.registry, d, d.dispatcher, d.logger.GetZerolog())

	h, err := hub.New(hub.Options{
		DataDir:          cfg.DataDir,
		Registry:         d.registry,
		Factory:          d.factory,
		Relay:            d.relay,
		Store:            d.store,
		ReconnectTimeout: requestTimeout,
		Logger:           d.logger.GetZerolog(),
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create session hub: %w", err)
	}
	d.hub = h

	d.commands = command.NewRouter(d.registry, d.hub, d.logger.GetZerolog())

	scheduler, err := d.newScheduler()
	if err != nil {
		_ = st.Close()
		return err
	}
	d.scheduler = scheduler

	d.logger.Info().
		Bool("web", d.factory.Supports(adapter.VariantWeb)).
		Bool("socket", d.factory.Supports(adapter.VariantSocket)).
		Str("store", cfg.Sessions.StorePath).
		Msg("Core modules initialized")

	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	gw, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		RateLimit:    cfg.Gateway.RateLimit,
		Sessions:     d.hub,
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gw

	api, err := httpapi.NewServer(httpapi.Config{
		Host:             cfg.HTTP.Host,
		Port:             cfg.HTTP.Port,
		Timeout:          seconds(cfg.HTTP.Timeout),
		InboundSecret:    cfg.Webhook.Secret,
		InboundRateLimit: cfg.Webhook.RateLimit,
		Router:           d.commands,
		Logger:           d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http api: %w", err)
	}
	d.httpServer = api

	return nil
}

// Publish forwards a session event to the subscriber's websocket.
func (d *Daemon) Publish(subscriberID, event, sessionID string, data any) error {
	if d.gatewayServer == nil {
		return gateway.ErrClientNotFound
	}
	return d.gatewayServer.Publish(subscriberID, event, sessionID, data)
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting wabridge daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Msg("Gateway server started")

	if err := d.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start http api: %w", err)
	}
	logger.Info().Msg("HTTP API started")

	if d.config.Sessions.RestoreOnStart {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx := tracing.WithTraceID(d.ctx, traceID)
			n, err := d.hub.Restore(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to restore sessions")
				return
			}
			logger.Info().Int("sessions", n).Msg("Stored sessions restored")
		}()
	}

	if d.scheduler != nil {
		d.scheduler.Start()
		logger.Info().Str("schedule", d.config.Sessions.SweepSchedule).Msg("Credential sweep scheduled")
	}

	logger.Info().Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon service gracefully. Sessions stay paired and are
// restored on the next start.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping wabridge daemon")

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	// Cancel restore and any other background work first
	d.cancel()
	d.stopMaintenance(ctx)

	if err := d.httpServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop http api")
	}

	if err := d.gatewayServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if err := d.hub.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down session hub")
	}

	if err := d.dispatcher.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("Pending webhook deliveries abandoned")
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-ctx.Done():
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.registry.Count(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetHub returns the session hub
func (d *Daemon) GetHub() *hub.Hub {
	return d.hub
}

// GetCommandRouter returns the command router
func (d *Daemon) GetCommandRouter() *command.Router {
	return d.commands
}

// GetGatewayServer returns the websocket gateway
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetHTTPServer returns the command API server
func (d *Daemon) GetHTTPServer() *httpapi.Server {
	return d.httpServer
}

// Status represents daemon status
type Status struct {
	Running   bool
	Sessions  int
	Uptime    time.Duration
	StartTime time.Time
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
