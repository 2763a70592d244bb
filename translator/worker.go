package translator

import (
	stderrors "errors"

	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/errors"
	"github.com/opensubs-io/subsync/events"
	"github.com/opensubs-io/subsync/log"
	"github.com/opensubs-io/subsync/metrics"
	"github.com/opensubs-io/subsync/store"
	"github.com/opensubs-io/subsync/subtitle"
)

// Task is the payload carried on the subtitle.translate work queue (§3).
type Task struct {
	JobID            string    `json:"job_id"`
	SubtitleFilePath string    `json:"subtitle_file_path"`
	SourceLanguage   string    `json:"source_language"`
	TargetLanguage   string    `json:"target_language"`
	VideoTitle       string    `json:"video_title,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	RetryCount       int       `json:"retry_count"`
}

// Worker consumes subtitle.translate tasks, chunking, checkpointing,
// parallelizing, and reassembling per §4.3's state machine:
// received → chunking → translating(N_pending, M_inflight) → assembling → completed/failed.
type Worker struct {
	cfg        *config.Config
	broker     broker.Broker
	store      store.Store
	translator Translator
	chunker    *Chunker
}

func New(cfg *config.Config, b broker.Broker, s store.Store, t Translator) *Worker {
	return &Worker{
		cfg:        cfg,
		broker:     b,
		store:      s,
		translator: t,
		chunker:    NewChunker(cfg),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	return w.broker.Consume(ctx, broker.TranslateQueue, w.handle)
}

func (w *Worker) handle(ctx context.Context, body []byte, routingKey string) error {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		log.LogError("", "failed to decode translate task", err)
		return nil
	}

	if err := w.process(ctx, task); err != nil {
		log.LogError(task.JobID, "translate task failed", err)
		w.publish(ctx, events.KindTranslationFailed, task.JobID,
			events.TranslationFailedPayload(chunkIndexOf(err), err.Error()))
		return nil
	}
	return nil
}

func (w *Worker) process(ctx context.Context, task Task) error {
	start := config.Clock.GetTime()
	log.Log(task.JobID, "translate task received", "source_language", task.SourceLanguage, "target_language", task.TargetLanguage)

	segments, err := subtitle.ParseFile(task.SubtitleFilePath)
	if err != nil {
		return errors.NewUnexpectedError(err)
	}

	chunks := w.chunker.Split(segments)
	metrics.Metrics.Pipeline.ChunksTotal.WithLabelValues("submitted").Add(float64(len(chunks)))

	cp, err := loadCheckpoint(ctx, w.store, w.cfg, task.JobID, len(chunks), task.SourceLanguage, task.TargetLanguage)
	if err != nil {
		return errors.NewTransientInfraError("loading checkpoint", err)
	}

	if err := w.translateAll(ctx, task, chunks, cp); err != nil {
		return err
	}

	final := reassemble(chunks, cp)
	outPath := resultPath(task.SubtitleFilePath, task.TargetLanguage)
	if err := subtitle.WriteFile(outPath, final); err != nil {
		return errors.NewTransientInfraError("writing translated subtitle", err)
	}

	if err := cleanupCheckpoint(ctx, w.store, w.cfg, task.JobID); err != nil {
		log.LogError(task.JobID, "failed to clean up checkpoint after success", err)
	}

	metrics.Metrics.Pipeline.TranslateDur.Observe(time.Since(start).Seconds())
	log.Log(task.JobID, "translation completed", "result_path", outPath)
	w.publish(ctx, events.KindTranslationCompleted, task.JobID, events.TranslationCompletedPayload(outPath))
	return nil
}

// translateAll submits every not-yet-completed chunk under a bounded
// concurrency semaphore, persisting the checkpoint after each chunk that
// completes so a crash mid-translation never re-translates a completed
// chunk. A failed chunk is not written to the checkpoint; the first error
// is returned once every submitted chunk has finished.
func (w *Worker) translateAll(ctx context.Context, task Task, chunks []Chunk, cp *store.Checkpoint) error {
	sem := semaphore.NewWeighted(int64(w.concurrencyLimit()))

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, chunk := range chunks {
		if isCompleted(cp, chunk.Index) {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return errors.NewTransientInfraError("acquiring chunk semaphore", err)
		}

		wg.Add(1)
		go func(chunk Chunk) {
			defer wg.Done()
			defer sem.Release(1)

			translated, err := w.translateChunkWithRetry(ctx, chunk, task.SourceLanguage, task.TargetLanguage)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.Metrics.Pipeline.ChunksTotal.WithLabelValues("failed").Inc()
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			metrics.Metrics.Pipeline.ChunksTotal.WithLabelValues("completed").Inc()
			if recErr := recordChunk(ctx, w.store, w.cfg, cp, chunk.Index, translated); recErr != nil && firstErr == nil {
				firstErr = errors.NewTransientInfraError("persisting checkpoint", recErr)
			}
			metrics.Metrics.Pipeline.CheckpointLen.Set(float64(len(cp.ChunksCompleted)))
		}(chunk)
	}

	wg.Wait()
	return firstErr
}

// concurrencyLimit picks the bounded-parallelism tier by model name: model
// families carrying "mini"/"nano"/"flash" are the lower-cost, lower-latency
// tier; everything else is treated as the high tier (§4.3 step 5).
func (w *Worker) concurrencyLimit() int {
	model := strings.ToLower(w.cfg.TranslationModel)
	if strings.Contains(model, "mini") || strings.Contains(model, "nano") || strings.Contains(model, "flash") {
		return w.cfg.TranslationParallelRequests
	}
	return w.cfg.TranslationParallelRequestsHighTier
}

// translateChunkWithRetry applies the per-chunk retry policy from §4.3:
// exponential backoff with jitter, base 1s, factor 2, max 60s, bounded by
// TranslationMaxRetries. A TranslationChunkError (4xx-other) is permanent
// and aborts the retry loop immediately.
func (w *Worker) translateChunkWithRetry(ctx context.Context, chunk Chunk, sourceLang, targetLang string) ([]string, error) {
	var result []string

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 60 * time.Second
	bo := backoff.WithMaxRetries(policy, uint64(w.cfg.TranslationMaxRetries))

	start := config.Clock.GetTime()
	op := func() error {
		translated, err := w.translator.TranslateChunk(ctx, chunk, sourceLang, targetLang)
		if err != nil {
			if errors.IsTranslationChunkError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = translated
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	metrics.Metrics.Pipeline.ChunkDur.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, asChunkFailure(chunk.Index, err)
	}
	return result, nil
}

func asChunkFailure(chunkIndex int, err error) error {
	if errors.IsTranslationChunkError(err) {
		return err
	}
	return errors.NewTranslationChunkError(chunkIndex, "exhausted retries", err)
}

// chunkIndexOf extracts the offending chunk index from a TranslationChunkError,
// or -1 if err isn't one (e.g. a parse or I/O failure before chunking).
func chunkIndexOf(err error) int {
	var ce errors.TranslationChunkError
	if stderrors.As(err, &ce) {
		return ce.ChunkIndex
	}
	return -1
}

func resultPath(subtitlePath, targetLang string) string {
	name := strings.TrimSuffix(filepath.Base(subtitlePath), ".tmp")
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(filepath.Dir(subtitlePath), base+"."+targetLang+".srt")
}

func (w *Worker) publish(ctx context.Context, kind, jobID string, payload map[string]any) {
	env := events.New(kind, "translator", jobID, payload, config.Clock.GetTime())
	if err := w.broker.Publish(ctx, kind, env); err != nil {
		log.LogError(jobID, "failed to publish event", err, "kind", kind)
	}
}
