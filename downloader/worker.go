// Package downloader implements the downloader worker (§4.2): it consumes
// download tasks, runs the tiered catalog search, and publishes the event
// that tells the consumer (and, transitively, the translator) what happened
// next. The worker never writes the job record directly — only events.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/catalog"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/errors"
	"github.com/opensubs-io/subsync/events"
	"github.com/opensubs-io/subsync/log"
)

// Task is the payload carried on the subtitle.download work queue (§3).
type Task struct {
	JobID      string    `json:"job_id"`
	VideoURL   string    `json:"video_url"`
	VideoTitle string    `json:"video_title,omitempty"`
	IMDBID     string    `json:"imdb_id,omitempty"`
	Language   string    `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
	Priority   int       `json:"priority"`
}

// Worker consumes subtitle.download tasks with prefetch=1.
type Worker struct {
	cfg     *config.Config
	broker  broker.Broker
	catalog catalog.SubtitleCatalog
}

func New(cfg *config.Config, b broker.Broker, c catalog.SubtitleCatalog) *Worker {
	return &Worker{cfg: cfg, broker: b, catalog: c}
}

// Run blocks, consuming subtitle.download until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.broker.Consume(ctx, broker.DownloadQueue, w.handle)
}

func (w *Worker) handle(ctx context.Context, body []byte, routingKey string) error {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		log.LogError("", "failed to decode download task", err)
		// malformed payload can never succeed on redelivery — ack without
		// retry by returning nil, matching UnexpectedError's no-requeue policy.
		return nil
	}

	if err := w.process(ctx, task); err != nil {
		log.LogError(task.JobID, "download task failed", err)
		if w.shouldRetry(task, err) {
			w.retry(ctx, task, err)
			return nil
		}
		w.publishFailure(ctx, task, err)
		return nil
	}
	return nil
}

// shouldRetry implements §4.2 step 7: a transient catalog error (5xx,
// timeout) gets requeued up to retry_count attempts before falling back to
// job.failed. CatalogNotFound and CatalogRateLimit are never retried — they
// mean the search tiers are exhausted or the catalog told us to back off,
// not that the request might succeed unchanged on redelivery.
func (w *Worker) shouldRetry(task Task, err error) bool {
	if errors.IsCatalogNotFound(err) || errors.IsCatalogRateLimit(err) || errors.IsUnretriable(err) {
		return false
	}
	return task.RetryCount < w.cfg.CatalogMaxRetries
}

// retry re-enqueues task with retry_count incremented. AMQP redelivery (nack
// with requeue) hands back the exact same message body, so a task-carried
// counter can only advance by publishing a fresh copy and acking the
// original — this is the downloader's requeue-with-retry path.
func (w *Worker) retry(ctx context.Context, task Task, cause error) {
	task.RetryCount++
	log.Log(task.JobID, "requeuing download task after transient catalog error",
		"retry_count", task.RetryCount, "err", cause)
	if err := w.broker.Enqueue(ctx, broker.DownloadQueue, task); err != nil {
		log.LogError(task.JobID, "failed to requeue download task, failing job instead", err)
		w.publishFailure(ctx, task, cause)
	}
}

func (w *Worker) process(ctx context.Context, task Task) error {
	log.Log(task.JobID, "download task received", "video_url", task.VideoURL, "language", task.Language)

	w.publish(ctx, events.KindDownloadInProgress, task.JobID, nil)

	result, hit, err := w.search(ctx, task, task.Language)
	if err == nil && hit {
		return w.completeDirect(ctx, task, result)
	}
	if err != nil && !errors.IsCatalogNotFound(err) {
		return err
	}

	fallback := w.cfg.FallbackLang
	if fallback != "" && fallback != task.Language {
		fallbackResult, hit, ferr := w.search(ctx, task, fallback)
		if ferr == nil && hit {
			return w.requestTranslation(ctx, task, fallbackResult, fallback)
		}
		if ferr != nil && !errors.IsCatalogNotFound(ferr) {
			return ferr
		}
	}

	return errors.NewCatalogNotFound(fmt.Sprintf("no subtitle found for %s in %s or fallback", task.VideoURL, task.Language))
}

// search runs the tiered strategy (§4.2 step 2), short-circuiting on the
// first tier that returns a hit.
func (w *Worker) search(ctx context.Context, task Task, language string) (catalog.Result, bool, error) {
	if isLocalPath(task.VideoURL) {
		if hash, size, herr := computeHash(task.VideoURL); herr == nil {
			results, err := w.catalog.SearchByHash(ctx, hash, size, language)
			if err == nil && len(results) > 0 {
				return results[0], true, nil
			}
			if err != nil && !errors.IsCatalogNotFound(err) {
				return catalog.Result{}, false, err
			}
		}
	}

	if task.IMDBID != "" {
		results, err := w.catalog.SearchByMetadata(ctx, task.IMDBID, "", language)
		if err == nil && len(results) > 0 {
			return results[0], true, nil
		}
		if err != nil && !errors.IsCatalogNotFound(err) {
			return catalog.Result{}, false, err
		}
	}

	if task.VideoTitle != "" {
		results, err := w.catalog.SearchByMetadata(ctx, "", task.VideoTitle, language)
		if err == nil && len(results) > 0 {
			return results[0], true, nil
		}
		if err != nil && !errors.IsCatalogNotFound(err) {
			return catalog.Result{}, false, err
		}
	}

	return catalog.Result{}, false, errors.NewCatalogNotFound("no tier produced a hit")
}

func (w *Worker) completeDirect(ctx context.Context, task Task, result catalog.Result) error {
	body, err := w.catalog.Download(ctx, result)
	if err != nil {
		return err
	}

	outPath := outputPath(task.VideoURL, task.Language)
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return errors.NewTransientInfraError("writing subtitle file", err)
	}

	log.Log(task.JobID, "subtitle ready", "path", outPath)
	w.publish(ctx, events.KindSubtitleReady, task.JobID, events.ReadyPayload(outPath))
	return nil
}

func (w *Worker) requestTranslation(ctx context.Context, task Task, result catalog.Result, sourceLang string) error {
	body, err := w.catalog.Download(ctx, result)
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(w.cfg.StorageRoot, fmt.Sprintf("%s.%s.srt.tmp", task.JobID, sourceLang))
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return errors.NewTransientInfraError("creating storage root", err)
	}
	if err := os.WriteFile(tmpPath, body, 0o644); err != nil {
		return errors.NewTransientInfraError("writing temporary subtitle file", err)
	}

	log.Log(task.JobID, "falling back to translation", "source_language", sourceLang, "target_language", task.Language)
	w.publish(ctx, events.KindSubtitleTranslateRequested, task.JobID,
		events.TranslateRequestedPayload(tmpPath, sourceLang, task.Language))

	return w.broker.Enqueue(ctx, broker.TranslateQueue, translateTaskFrom(task, tmpPath, sourceLang))
}

func (w *Worker) publishFailure(ctx context.Context, task Task, err error) {
	errType := errors.ClassifyErrorType(err)
	w.publish(ctx, events.KindJobFailed, task.JobID, events.JobFailedPayload(errType, err.Error()))
}

func (w *Worker) publish(ctx context.Context, kind, jobID string, payload map[string]any) {
	env := events.New(kind, "downloader", jobID, payload, config.Clock.GetTime())
	if err := w.broker.Publish(ctx, kind, env); err != nil {
		log.LogError(jobID, "failed to publish event", err, "kind", kind)
	}
}

func isLocalPath(videoURL string) bool {
	if strings.Contains(videoURL, "://") {
		return strings.HasPrefix(videoURL, "file://")
	}
	_, err := os.Stat(videoURL)
	return err == nil
}

func computeHash(videoURL string) (hashHex string, size int64, err error) {
	path := strings.TrimPrefix(videoURL, "file://")
	hash, sz, err := catalog.FileHash(path)
	if err != nil {
		return "", 0, err
	}
	return catalog.HashHex(hash), sz, nil
}

func outputPath(videoURL, lang string) string {
	base := strings.TrimSuffix(filepath.Base(videoURL), filepath.Ext(videoURL))
	return filepath.Join(filepath.Dir(videoURL), fmt.Sprintf("%s.%s.srt", base, lang))
}

// translateTaskFrom builds a translation task payload from a download task
// whose fallback search hit, matching the translator's task shape (§3).
func translateTaskFrom(task Task, subtitlePath, sourceLang string) map[string]any {
	return map[string]any{
		"job_id":              task.JobID,
		"subtitle_file_path":  subtitlePath,
		"source_language":     sourceLang,
		"target_language":     task.Language,
		"video_title":         task.VideoTitle,
		"created_at":          config.Clock.GetTime(),
		"retry_count":         0,
	}
}
