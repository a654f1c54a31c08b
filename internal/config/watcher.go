package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives the freshly loaded config after the file changes.
type ReloadFunc func(*Config)

// Watcher reloads the config file when it changes on disk. Only settings
// that are safe to apply at runtime should be read by the callback.
type Watcher struct {
	loader    *Loader
	path      string
	onReload  ReloadFunc
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	logger    zerolog.Logger
	timer     *time.Timer
	timerMu   sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
	loopEnded chan struct{}
}

// NewWatcher watches the loader's config file. The directory is watched
// rather than the file so editors that replace the file are seen.
func NewWatcher(loader *Loader, onReload ReloadFunc, logger zerolog.Logger) (*Watcher, error) {
	path := loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		loader:    loader,
		path:      filepath.Clean(path),
		onReload:  onReload,
		watcher:   fw,
		debounce:  200 * time.Millisecond,
		logger:    logger.With().Str("component", "config").Logger(),
		done:      make(chan struct{}),
		loopEnded: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Stop ends the watch.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
		err = w.watcher.Close()
		<-w.loopEnded
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.loopEnded)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of writes into one reload.
func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Ignoring unreadable config change")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Ignoring invalid config change")
		return
	}

	w.logger.Info().Str("path", w.path).Msg("Config reloaded")
	w.onReload(cfg)
}
