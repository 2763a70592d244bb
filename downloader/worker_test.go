package downloader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/catalog"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/errors"
	"github.com/opensubs-io/subsync/events"
)

// fakeCatalog answers SearchByHash from hashResults and SearchByMetadata
// from metaResults; a lookup with no matching entry reports a catalog miss,
// the same contract the downloader expects from the real OpenSubtitles client.
type fakeCatalog struct {
	hashResults map[string][]catalog.Result // keyed by language
	metaResults map[string][]catalog.Result // keyed by "imdbID|language" or "title|language"
	body        []byte
}

func (f *fakeCatalog) SearchByHash(ctx context.Context, hash string, size int64, language string) ([]catalog.Result, error) {
	if results, ok := f.hashResults[language]; ok && len(results) > 0 {
		return results, nil
	}
	return nil, errors.NewCatalogNotFound("no hash match")
}

func (f *fakeCatalog) SearchByMetadata(ctx context.Context, imdbID, title, language string) ([]catalog.Result, error) {
	key := imdbID + "|" + language
	if title != "" {
		key = title + "|" + language
	}
	if results, ok := f.metaResults[key]; ok && len(results) > 0 {
		return results, nil
	}
	return nil, errors.NewCatalogNotFound("no metadata match")
}

func (f *fakeCatalog) Download(ctx context.Context, result catalog.Result) ([]byte, error) {
	return f.body, nil
}

// transientCatalog always fails hash/metadata search with a transient
// infra error, simulating a 5xx/timeout from the catalog's HTTP client.
type transientCatalog struct{}

func (transientCatalog) SearchByHash(ctx context.Context, hash string, size int64, language string) ([]catalog.Result, error) {
	return nil, errors.NewTransientInfraError("catalog returned 503", nil)
}

func (transientCatalog) SearchByMetadata(ctx context.Context, imdbID, title, language string) ([]catalog.Result, error) {
	return nil, errors.NewTransientInfraError("catalog returned 503", nil)
}

func (transientCatalog) Download(ctx context.Context, result catalog.Result) ([]byte, error) {
	return nil, errors.NewTransientInfraError("catalog returned 503", nil)
}

func newTestConfig(storageRoot string) *config.Config {
	return &config.Config{
		StorageRoot:  storageRoot,
		FallbackLang: "en",
	}
}

// recordingBroker captures Enqueue/Publish calls without needing a running
// consumer, so handle()'s retry and failure paths can be asserted directly.
type recordingBroker struct {
	broker.Broker
	enqueued  []downloaderEnqueueCall
	published []string
}

type downloaderEnqueueCall struct {
	queue string
	task  Task
}

func (b *recordingBroker) Enqueue(ctx context.Context, queue string, payload any) error {
	task, ok := payload.(Task)
	if !ok {
		return nil
	}
	b.enqueued = append(b.enqueued, downloaderEnqueueCall{queue: queue, task: task})
	return nil
}

func (b *recordingBroker) Publish(ctx context.Context, routingKey string, payload any) error {
	b.published = append(b.published, routingKey)
	return nil
}

func TestWorker_DirectHitWritesSubtitleAndPublishesReady(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video bytes"), 0o644))

	cat := &fakeCatalog{
		hashResults: map[string][]catalog.Result{
			"fr": {{ID: "1", Language: "fr", DownloadURL: "http://example.com/1"}},
		},
		body: []byte("1\n00:00:01,000 --> 00:00:02,000\nBonjour\n"),
	}
	w := New(newTestConfig(dir), broker.NewMemoryBroker(), cat)

	task := Task{JobID: "job-1", VideoURL: videoPath, Language: "fr", CreatedAt: time.Now()}
	err := w.process(context.Background(), task)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "movie.fr.srt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bonjour")
}

func TestWorker_FallbackRequestsTranslationWhenTargetLanguageMissing(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video bytes"), 0o644))

	cat := &fakeCatalog{
		hashResults: map[string][]catalog.Result{
			"en": {{ID: "2", Language: "en", DownloadURL: "http://example.com/2"}},
		},
		body: []byte("1\n00:00:01,000 --> 00:00:02,000\nHello\n"),
	}
	cfg := newTestConfig(dir)
	cfg.FallbackLang = "en"
	b := broker.NewMemoryBroker()
	w := New(cfg, b, cat)

	task := Task{JobID: "job-2", VideoURL: videoPath, Language: "es", CreatedAt: time.Now()}
	err := w.process(context.Background(), task)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "movie.es.srt"))
	assert.True(t, os.IsNotExist(statErr), "direct output must not be written on a fallback path")
}

func TestWorker_TotalMissReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video bytes"), 0o644))

	cfg := newTestConfig(dir)
	cfg.FallbackLang = ""
	w := New(cfg, broker.NewMemoryBroker(), &fakeCatalog{})

	task := Task{JobID: "job-3", VideoURL: videoPath, Language: "fr", CreatedAt: time.Now()}
	err := w.process(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.IsCatalogNotFound(err))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "movie.fr.srt"), outputPath("/data/movie.mkv", "fr"))
}

func TestHandle_RequeuesWithIncrementedRetryCountOnTransientCatalogError(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video bytes"), 0o644))

	cfg := newTestConfig(dir)
	cfg.CatalogMaxRetries = 3
	b := &recordingBroker{}
	w := New(cfg, b, transientCatalog{})

	task := Task{JobID: "job-4", VideoURL: videoPath, Language: "fr", CreatedAt: time.Now(), RetryCount: 1}
	body, err := json.Marshal(task)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), body, broker.DownloadQueue))

	require.Len(t, b.enqueued, 1)
	assert.Equal(t, broker.DownloadQueue, b.enqueued[0].queue)
	assert.Equal(t, 2, b.enqueued[0].task.RetryCount)
	assert.NotContains(t, b.published, events.KindJobFailed, "must not fail the job while retries remain")
}

func TestHandle_PublishesJobFailedWhenRetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video bytes"), 0o644))

	cfg := newTestConfig(dir)
	cfg.CatalogMaxRetries = 3
	b := &recordingBroker{}
	w := New(cfg, b, transientCatalog{})

	task := Task{JobID: "job-5", VideoURL: videoPath, Language: "fr", CreatedAt: time.Now(), RetryCount: 3}
	body, err := json.Marshal(task)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), body, broker.DownloadQueue))

	assert.Empty(t, b.enqueued, "must not requeue once retry_count is exhausted")
	require.Len(t, b.published, 2) // download.in_progress, then job.failed
	assert.Equal(t, events.KindJobFailed, b.published[len(b.published)-1])
}

func TestHandle_DoesNotRetryOnCatalogNotFound(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(videoPath, []byte("fake video bytes"), 0o644))

	cfg := newTestConfig(dir)
	cfg.CatalogMaxRetries = 3
	cfg.FallbackLang = ""
	b := &recordingBroker{}
	w := New(cfg, b, &fakeCatalog{})

	task := Task{JobID: "job-6", VideoURL: videoPath, Language: "fr", CreatedAt: time.Now()}
	body, err := json.Marshal(task)
	require.NoError(t, err)

	require.NoError(t, w.handle(context.Background(), body, broker.DownloadQueue))

	assert.Empty(t, b.enqueued, "a definitive miss must not be retried")
	require.NotEmpty(t, b.published)
	assert.Equal(t, events.KindJobFailed, b.published[len(b.published)-1])
}

func TestIsLocalPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.True(t, isLocalPath(path))
	assert.False(t, isLocalPath("https://example.com/a.mkv"))
	assert.False(t, isLocalPath(filepath.Join(dir, "missing.mkv")))
}
