package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/job"
	"github.com/opensubs-io/subsync/store"
)

func newTestService() (*Service, *store.MemoryStore, *broker.MemoryBroker) {
	cfg := &config.Config{SourceLangDefault: "en"}
	s := store.NewMemoryStore()
	b := broker.NewMemoryBroker()
	return New(cfg, b, s), s, b
}

func TestSubmitDownload_RejectsMissingVideoURL(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.SubmitDownload(context.Background(), DownloadRequest{TargetLanguage: "fr"})
	require.Error(t, err)
}

func TestSubmitDownload_RejectsBadLanguageCode(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.SubmitDownload(context.Background(), DownloadRequest{VideoURL: "http://x/movie.mp4", TargetLanguage: "French"})
	require.Error(t, err)
}

func TestSubmitDownload_CreatesJobAndEnqueuesTask(t *testing.T) {
	svc, s, _ := newTestService()
	ctx := context.Background()

	result, err := svc.SubmitDownload(ctx, DownloadRequest{VideoURL: "http://x/movie.mp4", TargetLanguage: "fr"})
	require.NoError(t, err)
	require.NotEmpty(t, result.JobID)
	assert.False(t, result.Deduplicated)

	rec, err := s.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDownloadQueued, rec.Status)
	assert.Equal(t, 10, rec.ProgressPercent)
}

func TestSubmitDownload_DedupesWithinTTL(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.SubmitDownload(ctx, DownloadRequest{VideoURL: "http://x/movie.mp4", TargetLanguage: "fr"})
	require.NoError(t, err)

	second, err := svc.SubmitDownload(ctx, DownloadRequest{VideoURL: "http://x/movie.mp4", TargetLanguage: "fr"})
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Deduplicated)
}

func TestSubmitTranslation_DefaultsSourceLanguage(t *testing.T) {
	svc, s, _ := newTestService()
	ctx := context.Background()

	result, err := svc.SubmitTranslation(ctx, TranslationRequest{SubtitlePath: "/data/movie.fr.srt", TargetLanguage: "en"})
	require.NoError(t, err)

	rec, err := s.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, "en", rec.SourceLanguage)
	assert.Equal(t, job.StatusTranslateQueued, rec.Status)
}

func TestGetStatus_UnknownJobReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.GetStatus(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestGetEvents_ReturnsAuditTrail(t *testing.T) {
	svc, s, _ := newTestService()
	ctx := context.Background()
	require.NoError(t, s.AppendAudit(ctx, "job-1", []byte(`{"event_id":"e1","event_type":"ready","job_id":"job-1","payload":{}}`), 100))

	got, err := svc.GetEvents(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ready", got[0].EventType)
}

func TestHealth_ReportsOKForFunctioningDependencies(t *testing.T) {
	svc, _, _ := newTestService()
	status := svc.Health(context.Background())
	assert.True(t, status.BrokerOK)
	assert.True(t, status.StoreOK)
}
