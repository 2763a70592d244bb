package scanner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/opensubs-io/subsync/log"
)

// Resync periodically re-walks the configured watch directories to catch
// anything the filesystem watcher, webhook, or WebSocket client missed
// (§4.5). Submission is idempotent via the dedup layer, so resubmitting an
// already-handled file is harmless.
type Resync struct {
	scanner  *Scanner
	interval time.Duration
}

func NewResync(s *Scanner) *Resync {
	hours := s.cfg.FallbackSyncIntervalHrs
	if hours <= 0 {
		hours = 24
	}
	return &Resync{scanner: s, interval: time.Duration(hours) * time.Hour}
}

// Run blocks, walking every configured directory on each tick, until ctx is
// cancelled. It runs one pass immediately on startup.
func (r *Resync) Run(ctx context.Context) error {
	if len(r.scanner.cfg.ScannerWatchDirs) == 0 {
		<-ctx.Done()
		return nil
	}

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Resync) sweep(ctx context.Context) {
	log.LogNoJobID("scanner resync sweep starting", "dirs", r.scanner.cfg.ScannerWatchDirs)
	for _, dir := range r.scanner.cfg.ScannerWatchDirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.scanner.hasMediaExtension(path) {
				r.scanner.submit(ctx, path, filepath.Base(path), "")
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			log.LogError("", "scanner resync sweep failed", err, "dir", dir)
		}
	}
}
