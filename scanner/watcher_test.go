package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/config"
)

func newTestScannerWithDebounce(dirs []string, debounce time.Duration, sub *fakeSubmitter) *Scanner {
	cfg := &config.Config{
		SourceLangDefault:      "en",
		TargetLangDefault:      "fr",
		ScannerMediaExtensions: []string{".mp4", ".mkv"},
		ScannerWatchDirs:       dirs,
		ScannerDebounce:        debounce,
	}
	return New(cfg, nil, sub)
}

func TestWatcher_SubmitsAfterDebounceOnNewMediaFile(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter()
	sc := newTestScannerWithDebounce([]string{dir}, 50*time.Millisecond, sub)
	w := NewWatcher(sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		return sub.callCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, path, sub.calls[0].VideoURL)

	cancel()
	<-done
}

func TestWatcher_IgnoresNonMediaExtensions(t *testing.T) {
	dir := t.TempDir()
	sub := newFakeSubmitter()
	sc := newTestScannerWithDebounce([]string{dir}, 50*time.Millisecond, sub)
	w := NewWatcher(sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, sub.callCount())

	cancel()
	<-done
}

func TestWatcher_NoOpWhenNoWatchDirsConfigured(t *testing.T) {
	sub := newFakeSubmitter()
	sc := newTestScannerWithDebounce(nil, 50*time.Millisecond, sub)
	w := NewWatcher(sc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after context cancellation")
	}
}
