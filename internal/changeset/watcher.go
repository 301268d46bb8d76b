package changeset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher feeds filesystem events from a workspace tree into a Tracker.
// fsnotify is not recursive, so every directory under the root is added
// individually and newly created directories are picked up from events.
type Watcher struct {
	root       string
	extensions []string
	tracker    *Tracker
	watcher    *fsnotify.Watcher
	logger     *log.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewWatcher creates and starts a watcher rooted at root. Only files whose
// extension appears in extensions are tracked; an empty list tracks
// everything. Hidden directories (".git" and friends) are skipped.
func NewWatcher(root string, extensions []string, tracker *Tracker) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:       root,
		extensions: extensions,
		tracker:    tracker,
		watcher:    fsw,
		logger:     log.With("component", "watcher"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}
	w.watcher.Close()
	<-w.doneCh
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
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
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				w.addTree(event.Name)
			}
			return
		}
	}

	if !w.tracked(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.tracker.Record(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.tracker.RecordDeletion(event.Name)
	}
}

// tracked reports whether a path's extension matches the configured list.
func (w *Watcher) tracked(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range w.extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
