package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes and applies the
// settings that can change at runtime. Today that is the log level; every
// other section needs a restart.
type Watcher struct {
	path     string
	level    zap.AtomicLevel
	logger   *zap.Logger
	debounce time.Duration
	onReload func(*Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher watches path. The parent directory is watched so that editors
// replacing the file through a rename are still seen.
func NewWatcher(path string, level zap.AtomicLevel, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		level:    level,
		logger:   logger,
		debounce: 250 * time.Millisecond,
		watcher:  fw,
	}, nil
}

// OnReload registers a callback run after each successful reload
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = fn
}

// Run processes file events until ctx is done, then releases the watcher
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous settings", zap.String("path", w.path), zap.Error(err))
		return
	}

	lvl, _ := ParseLevel(cfg.Log.Level)
	if w.level.Level() != lvl {
		w.level.SetLevel(lvl)
		w.logger.Info("Log level changed", zap.String("level", lvl.String()))
	}
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
