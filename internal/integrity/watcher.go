package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a directory must be quiet before it is
// re-verified. Package installs touch many files in a burst.
const DefaultDebounce = 500 * time.Millisecond

// DirWatcher re-verifies watched directories whenever their contents change.
type DirWatcher struct {
	verifier *Verifier
	dirs     map[string]bool
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	onReport []func(*Report)
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirWatcher creates a watcher over dirs. Nothing is watched until Start.
func NewDirWatcher(verifier *Verifier, dirs []string, logger *slog.Logger) (*DirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = defaultLogger()
	}

	set := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		abs, err := absDir(dir)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		set[abs] = true
	}

	return &DirWatcher{
		verifier: verifier,
		dirs:     set,
		watcher:  watcher,
		logger:   logger,
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// SetDebounce overrides DefaultDebounce. Call before Start.
func (dw *DirWatcher) SetDebounce(d time.Duration) {
	dw.debounce = d
}

// OnReport registers a callback invoked after every re-verification.
func (dw *DirWatcher) OnReport(callback func(*Report)) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.onReport = append(dw.onReport, callback)
}

// Start begins watching. A directory that does not exist yet is picked up
// when it is created, by watching its parent.
func (dw *DirWatcher) Start(ctx context.Context) error {
	dw.ctx, dw.cancel = context.WithCancel(ctx)

	for dir := range dw.dirs {
		if err := dw.watcher.Add(dir); err != nil {
			parent := filepath.Dir(dir)
			if err := dw.watcher.Add(parent); err != nil {
				dw.logger.Warn("cannot watch directory", "dir", dir, "error", err)
				continue
			}
			dw.logger.Info("watched directory missing, watching parent", "dir", dir, "parent", parent)
			continue
		}
		dw.logger.Info("watching directory", "dir", dir)
	}

	dw.wg.Add(1)
	go func() {
		defer dw.wg.Done()
		dw.watchLoop()
	}()
	return nil
}

// Stop shuts the watcher down and waits for the event loop and any
// re-verification already in progress to finish.
func (dw *DirWatcher) Stop() error {
	if dw.cancel != nil {
		dw.cancel()
	}

	dw.mu.Lock()
	dw.stopped = true
	for dir, t := range dw.timers {
		if t.Stop() {
			dw.wg.Done()
		}
		delete(dw.timers, dir)
	}
	dw.mu.Unlock()

	err := dw.watcher.Close()
	dw.wg.Wait()
	return err
}

func (dw *DirWatcher) watchLoop() {
	for {
		select {
		case <-dw.ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			dw.handleEvent(event)

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Warn("watcher error", "error", err)
		}
	}
}

func (dw *DirWatcher) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	// A watched directory appeared under a watched parent.
	if dw.dirs[name] && event.Has(fsnotify.Create) {
		if err := dw.watcher.Add(name); err != nil {
			dw.logger.Warn("cannot watch directory", "dir", name, "error", err)
			return
		}
		dw.logger.Info("watching directory", "dir", name)
		dw.schedule(name)
		return
	}

	dir := filepath.Dir(name)
	if !dw.dirs[dir] {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Chmod) {
		dw.schedule(dir)
	}
}

// schedule (re)arms the debounce timer for dir. Every armed timer holds a
// wg slot, released by its callback or by whoever stops it before it fires.
func (dw *DirWatcher) schedule(dir string) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.stopped {
		return
	}
	if t, ok := dw.timers[dir]; ok && t.Stop() {
		dw.wg.Done()
	}
	dw.wg.Add(1)
	dw.timers[dir] = time.AfterFunc(dw.debounce, func() {
		defer dw.wg.Done()
		if dw.ctx.Err() != nil {
			return
		}
		dw.reverify(dir)
	})
}

func (dw *DirWatcher) reverify(dir string) {
	report, err := dw.verifier.Verify(dir)
	if err != nil {
		dw.logger.Error("re-verification failed", "dir", dir, "error", err)
		return
	}
	if n := report.Count(OutcomeTampered); n > 0 {
		dw.logger.Warn("re-verification flagged executables", "dir", dir, "tampered", n)
	}

	dw.mu.Lock()
	callbacks := make([]func(*Report), len(dw.onReport))
	copy(callbacks, dw.onReport)
	dw.mu.Unlock()

	for _, callback := range callbacks {
		callback(report)
	}
}
