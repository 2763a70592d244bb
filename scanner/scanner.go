// Package scanner implements the three ingestion triggers that discover new
// media and turn it into a subtitle request (spec.md §4.5): a filesystem
// watcher, an HTTP webhook listener, and a WebSocket client, plus a periodic
// fallback resync. All three funnel into Scanner.submit, which is a thin
// wrapper over the orchestrator's own submission logic rather than an HTTP
// loopback to the orchestrator's own API.
package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/events"
	"github.com/opensubs-io/subsync/log"
	"github.com/opensubs-io/subsync/orchestrator"
)

// Submitter is the slice of orchestrator.Service the scanner's triggers
// need. Declared here (rather than depending on *orchestrator.Service
// directly) so tests can substitute a fake without standing up a real
// broker/store pair.
type Submitter interface {
	SubmitDownload(ctx context.Context, req orchestrator.DownloadRequest) (orchestrator.SubmitResult, error)
}

// Scanner holds the config, broker and orchestrator handle shared by every
// trigger. broker is optional: a nil broker just skips the
// media.file.detected announcement, which keeps tests that don't care about
// it (most of them) from needing a broker fake.
type Scanner struct {
	cfg    *config.Config
	broker broker.Broker
	svc    Submitter
}

func New(cfg *config.Config, b broker.Broker, svc Submitter) *Scanner {
	return &Scanner{cfg: cfg, broker: b, svc: svc}
}

// announceDetected publishes media.file.detected (§3) ahead of submission,
// so consumers that only care about discovery (e.g. an inventory indexer)
// don't have to wait on or depend on the download pipeline succeeding.
// Best-effort: a publish failure is logged, not propagated, since the
// submission itself is the operation that actually matters here.
func (s *Scanner) announceDetected(ctx context.Context, videoURL, videoTitle string) {
	if s.broker == nil {
		return
	}
	env := events.New(events.KindMediaFileDetected, "scanner", "", events.MediaFileDetectedPayload(videoURL, videoTitle), config.Clock.GetTime())
	if err := s.broker.Publish(ctx, events.KindMediaFileDetected, env); err != nil {
		log.LogError("", "scanner failed to publish media.file.detected", err, "video_url", videoURL)
	}
}

// submit builds and forwards a download request for a newly discovered
// item. It both logs and returns the outcome: the filesystem watcher,
// WebSocket client and resync sweep only care about the log, but the
// webhook handler threads the result back into its HTTP response
// (spec.md §6's `{status, job_id, message}` contract).
func (s *Scanner) submit(ctx context.Context, videoURL, videoTitle, imdbID string) (orchestrator.SubmitResult, error) {
	if videoURL == "" {
		return orchestrator.SubmitResult{}, errors.New("empty video_url")
	}
	s.announceDetected(ctx, videoURL, videoTitle)
	result, err := s.svc.SubmitDownload(ctx, orchestrator.DownloadRequest{
		VideoURL:       videoURL,
		TargetLanguage: s.cfg.TargetLangDefault,
		VideoTitle:     videoTitle,
		IMDBID:         imdbID,
	})
	if err != nil {
		log.LogError("", "scanner failed to submit download request", err, "video_url", videoURL)
		return orchestrator.SubmitResult{}, err
	}
	if result.Deduplicated {
		log.LogNoJobID("scanner submission deduplicated against in-flight job", "job_id", result.JobID, "video_url", videoURL)
		return result, nil
	}
	log.Log(result.JobID, "scanner submitted download request", "video_url", videoURL)
	return result, nil
}

// hasMediaExtension reports whether path's extension is one of the
// configured media extensions (case-insensitive), per §4.5's filesystem
// watcher filter.
func (s *Scanner) hasMediaExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range s.cfg.ScannerMediaExtensions {
		if strings.ToLower(candidate) == ext {
			return true
		}
	}
	return false
}
