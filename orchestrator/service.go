// Package orchestrator implements the HTTP-facing submission and query API
// (spec.md §4.1). Service holds the core logic so both the HTTP handlers
// and the Scanner's internal triggers share one code path instead of the
// Scanner looping back over HTTP.
package orchestrator

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/dedup"
	"github.com/opensubs-io/subsync/downloader"
	"github.com/opensubs-io/subsync/errors"
	"github.com/opensubs-io/subsync/events"
	"github.com/opensubs-io/subsync/job"
	"github.com/opensubs-io/subsync/log"
	"github.com/opensubs-io/subsync/metrics"
	"github.com/opensubs-io/subsync/store"
	"github.com/opensubs-io/subsync/translator"
)

var targetLanguagePattern = regexp.MustCompile(`^[a-z]{2}$`)

type Service struct {
	cfg    *config.Config
	broker broker.Broker
	store  store.Store
}

func New(cfg *config.Config, b broker.Broker, s store.Store) *Service {
	return &Service{cfg: cfg, broker: b, store: s}
}

// DownloadRequest is submit_download's input (spec.md §4.1).
type DownloadRequest struct {
	VideoURL       string
	TargetLanguage string
	VideoTitle     string
	IMDBID         string
}

// TranslationRequest is submit_translation's input.
type TranslationRequest struct {
	SubtitlePath   string
	SourceLanguage string
	TargetLanguage string
	VideoTitle     string
}

// SubmitResult is returned by both submit operations; Deduplicated tells
// the caller the job_id belongs to an already in-flight or recently
// completed request rather than a freshly-created one.
type SubmitResult struct {
	JobID        string
	Deduplicated bool
}

// SubmitDownload implements spec.md §4.1 steps 1-5 for a download request.
func (s *Service) SubmitDownload(ctx context.Context, req DownloadRequest) (SubmitResult, error) {
	if req.VideoURL == "" {
		return SubmitResult{}, errors.NewValidationError("video_url is required")
	}
	if !targetLanguagePattern.MatchString(req.TargetLanguage) {
		return SubmitResult{}, errors.NewValidationError("target_language must be a two-letter lowercase code")
	}

	fingerprint := dedup.Fingerprint(req.VideoURL, req.TargetLanguage)
	return s.submit(ctx, fingerprint, func(jobID string) *job.Record {
		return job.New(jobID, req.VideoURL, req.VideoTitle, s.cfg.SourceLangDefault, req.TargetLanguage, config.Clock.GetTime())
	}, func(jobID string) error {
		task := downloader.Task{
			JobID:      jobID,
			VideoURL:   req.VideoURL,
			VideoTitle: req.VideoTitle,
			IMDBID:     req.IMDBID,
			Language:   req.TargetLanguage,
			CreatedAt:  config.Clock.GetTime(),
		}
		if err := s.broker.Enqueue(ctx, broker.DownloadQueue, task); err != nil {
			return err
		}
		return s.publish(ctx, events.KindSubtitleDownloadRequested, jobID,
			events.DownloadRequestedPayload(req.VideoURL, req.TargetLanguage))
	}, job.EventDownloadRequested)
}

// SubmitTranslation implements the translation-only variant of §4.1.
func (s *Service) SubmitTranslation(ctx context.Context, req TranslationRequest) (SubmitResult, error) {
	if req.SubtitlePath == "" {
		return SubmitResult{}, errors.NewValidationError("subtitle_path is required")
	}
	if !targetLanguagePattern.MatchString(req.TargetLanguage) {
		return SubmitResult{}, errors.NewValidationError("target_language must be a two-letter lowercase code")
	}
	sourceLang := req.SourceLanguage
	if sourceLang == "" {
		sourceLang = s.cfg.SourceLangDefault
	}

	fingerprint := dedup.Fingerprint(req.SubtitlePath, req.TargetLanguage)
	return s.submit(ctx, fingerprint, func(jobID string) *job.Record {
		return job.New(jobID, req.SubtitlePath, req.VideoTitle, sourceLang, req.TargetLanguage, config.Clock.GetTime())
	}, func(jobID string) error {
		task := translator.Task{
			JobID:            jobID,
			SubtitleFilePath: req.SubtitlePath,
			SourceLanguage:   sourceLang,
			TargetLanguage:   req.TargetLanguage,
			VideoTitle:       req.VideoTitle,
			CreatedAt:        config.Clock.GetTime(),
		}
		if err := s.broker.Enqueue(ctx, broker.TranslateQueue, task); err != nil {
			return err
		}
		return s.publish(ctx, events.KindSubtitleTranslateRequested, jobID,
			events.TranslateRequestedPayload(req.SubtitlePath, sourceLang, req.TargetLanguage))
	}, job.EventTranslateRequested)
}

// submit carries out dedup reservation, job-record creation and the
// queue+event double-send common to both submission operations, rolling
// back (marking the job failed, releasing the dedup key) if the enqueue
// half of the "best-effort atomic" pair fails (spec.md §4.1 step 4).
func (s *Service) submit(
	ctx context.Context,
	fingerprint string,
	buildRecord func(jobID string) *job.Record,
	enqueue func(jobID string) error,
	queuedEvent string,
) (SubmitResult, error) {
	jobID := uuid.NewString()

	reservation, err := dedup.Reserve(ctx, s.store, fingerprint, jobID, config.DefaultDedupTTL)
	if err != nil {
		return SubmitResult{}, errors.NewTransientInfraError("reserving dedup key", err)
	}
	if !reservation.Reserved {
		return SubmitResult{JobID: reservation.ExistingJobID, Deduplicated: true}, nil
	}

	record := buildRecord(jobID)
	if err := s.store.PutJob(ctx, record); err != nil {
		_ = dedup.Release(ctx, s.store, fingerprint)
		return SubmitResult{}, errors.NewTransientInfraError("writing job record", err)
	}
	metrics.Metrics.Pipeline.JobsCreated.WithLabelValues(queuedEvent).Inc()
	metrics.Metrics.Pipeline.JobsInFlight.Inc()

	if err := enqueue(jobID); err != nil {
		record.Apply(job.EventJobFailed, "", err.Error(), config.Clock.GetTime())
		_ = s.store.PutJob(ctx, record)
		_ = dedup.Release(ctx, s.store, fingerprint)
		metrics.Metrics.Pipeline.JobsInFlight.Dec()
		return SubmitResult{}, errors.NewTransientInfraError("enqueuing task", err)
	}

	record.Apply(queuedEvent, "", "", config.Clock.GetTime())
	if err := s.store.PutJob(ctx, record); err != nil {
		log.LogError(jobID, "failed to persist queued status transition", err)
	}

	return SubmitResult{JobID: jobID}, nil
}

func (s *Service) publish(ctx context.Context, kind, jobID string, payload map[string]any) error {
	env := events.New(kind, "orchestrator", jobID, payload, config.Clock.GetTime())
	return s.broker.Publish(ctx, kind, env)
}

// JobStatus is get_status's response shape.
type JobStatus struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress_percentage"`
	ResultPath   string `json:"result_path,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (s *Service) GetStatus(ctx context.Context, jobID string) (JobStatus, error) {
	record, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return JobStatus{}, errors.NewObjectNotFoundError("job not found", nil)
		}
		return JobStatus{}, errors.NewTransientInfraError("reading job record", err)
	}
	return JobStatus{
		JobID:        record.JobID,
		Status:       string(record.Status),
		Progress:     record.ProgressPercent,
		ResultPath:   record.ResultPath,
		ErrorMessage: record.ErrorMessage,
	}, nil
}

// GetEvents returns the bounded audit trail, newest first (spec.md §4.1,
// §6 "job:<job_id>:events").
func (s *Service) GetEvents(ctx context.Context, jobID string) ([]events.Envelope, error) {
	raw, err := s.store.ListAudit(ctx, jobID, int64(config.DefaultAuditListSize))
	if err != nil {
		return nil, errors.NewTransientInfraError("reading audit list", err)
	}
	out := make([]events.Envelope, 0, len(raw))
	for _, entry := range raw {
		env, err := events.Unmarshal(entry)
		if err != nil {
			log.Log(jobID, "skipping malformed audit entry", "err", err)
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// HealthStatus is health()'s response shape (spec.md §4.1).
type HealthStatus struct {
	BrokerOK bool `json:"broker_ok"`
	StoreOK  bool `json:"store_ok"`
}

func (s *Service) Health(ctx context.Context) HealthStatus {
	return HealthStatus{
		BrokerOK: s.broker.Ping(ctx) == nil,
		StoreOK:  s.store.Ping(ctx) == nil,
	}
}
