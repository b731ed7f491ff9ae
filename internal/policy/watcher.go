package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadedEvent reports one re-application of the seed directory
type ReloadedEvent struct {
	Timestamp time.Time
	Result    SeedResult
	Error     error
}

// FileWatcher re-applies seed bundles when files in a directory change
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	dir             string
	loader          *Loader
	seeder          *Seeder
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	ctx             context.Context
	mu              sync.Mutex
	isWatching      bool
}

// NewFileWatcher creates a watcher for dir
func NewFileWatcher(dir string, loader *Loader, seeder *Seeder, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		dir:             dir,
		loader:          loader,
		seeder:          seeder,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// SetDebounceTimeout sets how long file events are coalesced before a reload
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if d > 0 {
		fw.debounceTimeout = d
	}
}

// Watch starts watching the directory. Reloads run with ctx.
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.isWatching {
		return fmt.Errorf("watcher is already running")
	}
	if err := fw.watcher.Add(fw.dir); err != nil {
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}
	fw.isWatching = true
	fw.ctx = ctx

	fw.logger.Info("Starting seed bundle watcher",
		zap.String("path", fw.dir),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer fw.logger.Info("Seed bundle watcher stopped")

	for {
		select {
		case <-ctx.Done():
			fw.Stop()
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if isBundleFile(event.Name) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.isWatching {
		return
	}

	fw.logger.Debug("Seed bundle change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.performReload)
}

func (fw *FileWatcher) performReload() {
	fw.mu.Lock()
	ctx := fw.ctx
	fw.mu.Unlock()

	fw.logger.Info("Re-applying seed bundles", zap.String("path", fw.dir))

	ev := ReloadedEvent{Timestamp: time.Now()}
	specs, err := fw.loader.LoadFromDirectory(fw.dir)
	if err == nil {
		ev.Result, err = fw.seeder.Apply(ctx, specs)
	}
	ev.Error = err
	if err != nil {
		fw.logger.Error("Seed bundle reload failed", zap.String("path", fw.dir), zap.Error(err))
	}

	select {
	case fw.eventChan <- ev:
	default:
		fw.logger.Warn("Dropping seed reload event, channel full")
	}
}

// EventChan delivers the outcome of each reload. Events are dropped when the
// channel is not drained.
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.isWatching {
		return nil
	}
	fw.isWatching = false

	close(fw.stopChan)
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("Error closing watcher", zap.Error(err))
		return err
	}
	return nil
}

// IsWatching reports whether the watcher is active
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.isWatching
}
