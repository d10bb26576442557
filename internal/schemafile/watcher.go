package schemafile

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/harvestbin/silo/internal/store"
)

// debounceDelay coalesces the burst of events editors produce when saving.
const debounceDelay = 250 * time.Millisecond

// Watcher re-applies the schema declaration whenever the file changes.
// Malformed documents are logged and skipped; the running schema stays as it
// was.
type Watcher struct {
	store   *store.Store
	path    string
	watcher *fsnotify.Watcher

	onApplied func()

	pendingMu sync.Mutex
	pending   *time.Timer

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher for the schema declaration at path.
func New(s *store.Store, path string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		store:   s,
		path:    path,
		watcher: fsWatcher,
		done:    make(chan struct{}),
	}, nil
}

// OnApplied registers a callback invoked after a changed declaration has been
// applied to the store.
func (w *Watcher) OnApplied(fn func()) {
	w.onApplied = fn
}

// Start begins watching. The containing directory is watched rather than the
// file itself: editors replace files on save, which drops a direct watch.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("path", w.path).Msg("Schema file watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.watcher.Close()
	w.wg.Wait()

	w.pendingMu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pendingMu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Schema file watcher error")
		}
	}
}

// scheduleReload debounces reloads so one save triggers one apply.
func (w *Watcher) scheduleReload() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	versions, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Ignoring schema file change")
		return
	}

	if err := w.store.Apply(versions...); err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("Failed to apply changed schema")
		return
	}

	log.Info().Str("path", w.path).Msg("Schema file change applied")

	if w.onApplied != nil {
		w.onApplied()
	}
}
