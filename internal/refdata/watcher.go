package refdata

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads a Store when one of its source files changes on disk.
type Watcher struct {
	store    *Store
	log      *zap.Logger
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration

	mu      sync.Mutex
	running bool
	pending bool
	lastHit time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher prepares a watcher for the store's on-disk files. A store that
// only uses embedded documents has nothing to watch; Start is then a no-op.
func NewWatcher(store *Store, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		store:    store,
		log:      log.Named("refdata.watcher"),
		watcher:  fw,
		files:    map[string]bool{},
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, p := range store.Source().Paths() {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		w.files[filepath.Clean(abs)] = true
	}
	return w, nil
}

// SetDebounce changes the quiet period before a reload. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start watches the parent directories of the source files so that editors
// replacing a file by rename are seen too. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := map[string]bool{}
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for d := range dirs {
		if err := w.watcher.Add(d); err != nil {
			w.log.Warn("cannot watch directory", zap.String("dir", d), zap.Error(err))
			continue
		}
		w.log.Info("watching reference data", zap.String("dir", d))
	}
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the OS watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.log.Error("closing watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	tick := time.NewTicker(max(w.debounce/3, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", zap.Error(err))
		case <-tick.C:
			w.flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	name, err := filepath.Abs(ev.Name)
	if err != nil {
		name = ev.Name
	}
	if !w.files[filepath.Clean(name)] {
		return
	}
	w.log.Debug("reference file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
	w.mu.Lock()
	w.pending = true
	w.lastHit = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	due := w.pending && time.Since(w.lastHit) >= w.debounce
	if due {
		w.pending = false
	}
	w.mu.Unlock()
	if due {
		_ = w.store.Reload()
	}
}
