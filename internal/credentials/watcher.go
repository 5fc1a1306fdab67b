package credentials

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce collapses the burst of events an atomic replace produces.
const reloadDebounce = 150 * time.Millisecond

// Watcher reloads a Store when another process changes the session file.
type Watcher struct {
	store   *Store
	path    string
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the file behind fs and reloads store on change.
func NewWatcher(store *Store, fs *FileStorage) (*Watcher, error) {
	if err := os.MkdirAll(fs.dir, 0700); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{store: store, path: filepath.Clean(fs.Path()), watcher: w}, nil
}

// Start begins watching. Events are processed until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	// The directory is watched because atomic renames replace the file inode.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch session directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching session file: %s", w.path)
	go w.processEvents(ctx)
	return nil
}

// Stop ends watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("session watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	ops := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}
	log.Debugf("session file event: %s", event.Op)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.store.Reload)
}
