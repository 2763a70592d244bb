package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opensubs-io/subsync/log"
)

// Watcher observes the configured directories recursively (fsnotify only
// watches the directories it's explicitly told about, so new subdirectories
// are added as they're created) and debounces rapid events per path before
// treating a file as a stable new arrival (§4.5).
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewWatcher(s *Scanner) *Watcher {
	return &Watcher{scanner: s, debounce: s.cfg.ScannerDebounce, timers: make(map[string]*time.Timer)}
}

// Run adds every configured directory (recursively) to an fsnotify watcher
// and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.scanner.cfg.ScannerWatchDirs) == 0 {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, dir := range w.scanner.cfg.ScannerWatchDirs {
		if err := w.addRecursive(fw, dir); err != nil {
			log.LogError("", "scanner failed to watch directory", err, "dir", dir)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.LogError("", "scanner filesystem watch error", err)
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addRecursive(fw, event.Name); err != nil {
				log.LogError("", "scanner failed to watch new subdirectory", err, "dir", event.Name)
			}
		}
		return
	}

	if !w.scanner.hasMediaExtension(event.Name) {
		return
	}

	w.debounceEvent(ctx, event.Name)
}

// debounceEvent resets a per-path timer on every event, so only the last
// event in a burst within the debounce window fires the submission.
func (w *Watcher) debounceEvent(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.timers[path]; ok {
		existing.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if _, err := os.Stat(path); err != nil {
			return
		}
		w.scanner.submit(ctx, path, filepath.Base(path), "")
	})
}
