package daemon

import (
	"context"
	"fmt"

	"github.com/harun/wabridge/internal/config"
	"github.com/harun/wabridge/internal/tracing"
	"github.com/robfig/cron/v3"
)

// newScheduler registers the periodic maintenance jobs. It returns nil when
// no job is configured.
func (d *Daemon) newScheduler() (*cron.Cron, error) {
	spec := d.config.Sessions.SweepSchedule
	if spec == "" {
		return nil, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, d.sweepCredentials); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return c, nil
}

func (d *Daemon) sweepCredentials() {
	ctx := tracing.WithCommand(tracing.NewRequestContext(d.ctx), "sweep")
	log := tracing.LoggerFromContext(ctx, d.logger.Component("maintenance"))

	removed, err := d.hub.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Credential sweep failed")
		return
	}
	log.Debug().Int("removed", len(removed)).Msg("Credential sweep completed")
}

// WatchConfig applies runtime-safe settings from the config file at path
// whenever it changes. Currently that is the log level.
func (d *Daemon) WatchConfig(path string) error {
	w, err := config.NewWatcher(config.NewLoader(path), d.applyConfig, d.logger.GetZerolog())
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.watcher = w
	d.mu.Unlock()
	return nil
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	if cfg.Logging.Level == d.logger.Level().String() {
		return
	}
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		d.logger.Warn().Err(err).Msg("Ignoring log level change")
		return
	}
	d.logger.Info().Str("level", cfg.Logging.Level).Msg("Log level changed")
}

func (d *Daemon) stopMaintenance(ctx context.Context) {
	if d.scheduler != nil {
		select {
		case <-d.scheduler.Stop().Done():
		case <-ctx.Done():
			d.logger.Warn().Msg("Timeout waiting for maintenance jobs")
		}
	}

	d.mu.Lock()
	w := d.watcher
	d.watcher = nil
	d.mu.Unlock()
	if w != nil {
		if err := w.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}
}
