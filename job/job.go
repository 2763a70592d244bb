// Package job defines the job record and its status state machine.
//
// Per the system's ownership rule, workers never write a job record —
// they communicate state changes as events. The orchestrator writes the
// record at submission and the consumer applies every later transition.
// The transition table itself is exposed here as a pure function so both
// the consumer (authoritative) and the orchestrator (for the
// submission-time transitions) apply exactly the same rules.
package job

import (
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusPending              Status = "pending"
	StatusDownloadQueued       Status = "download_queued"
	StatusDownloadInProgress   Status = "download_in_progress"
	StatusDownloadCompleted    Status = "download_completed"
	StatusDownloadFailed       Status = "download_failed"
	StatusTranslateQueued      Status = "translate_queued"
	StatusTranslateInProgress  Status = "translate_in_progress"
	StatusTranslateFailed      Status = "translate_failed"
	StatusDone                 Status = "done"
	StatusFailed               Status = "failed"
)

// Terminal reports whether no further status change may occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// EventKind names used as input to the transition table. These are the
// event kinds from the topic exchange with any "subtitle." domain prefix
// stripped (see events.ToJobEvent), matching the table in §4.4.
const (
	EventDownloadRequested      = "download.requested"
	EventDownloadInProgress     = "download.in_progress"
	EventReady                  = "ready"
	EventTranslateRequested     = "translate.requested"
	EventTranslationCompleted   = "translation.completed"
	EventTranslationFailed      = "translation.failed"
	EventJobFailed              = "job.failed"
)

// transition is one row of the table: from a given status, an event kind
// maps to a new status and the progress percentage to set alongside it.
type transition struct {
	status   Status
	progress int
}

// table implements §4.4's transition table, with additional entries in the
// download_queued and translate_in_progress rows. Status/event pairs
// absent from the table are no-ops (unknown or regressive transitions are
// logged and ignored by the caller).
var table = map[Status]map[string]transition{
	StatusPending: {
		EventDownloadRequested:    {StatusDownloadQueued, 10},
		EventDownloadInProgress:   {StatusDownloadInProgress, 25},
		EventReady:                {StatusDone, 100},
		EventTranslateRequested:   {StatusTranslateQueued, 60},
		EventTranslationCompleted: {StatusDone, 100},
		EventTranslationFailed:    {StatusFailed, 0},
		EventJobFailed:            {StatusFailed, 0},
	},
	StatusDownloadQueued: {
		EventDownloadInProgress: {StatusDownloadInProgress, 25},
		EventReady:              {StatusDone, 100},
		EventTranslateRequested: {StatusTranslateQueued, 60},
		EventJobFailed:          {StatusFailed, 0},
	},
	StatusDownloadInProgress: {
		EventReady:              {StatusDone, 100},
		EventTranslateRequested: {StatusTranslateQueued, 60},
		EventJobFailed:          {StatusFailed, 0},
	},
	StatusTranslateQueued: {
		EventTranslationCompleted: {StatusDone, 100},
		EventTranslationFailed:    {StatusTranslateFailed, 0},
		EventJobFailed:            {StatusFailed, 0},
	},
	StatusTranslateInProgress: {
		EventTranslationCompleted: {StatusDone, 100},
		EventTranslationFailed:    {StatusTranslateFailed, 0},
		EventJobFailed:            {StatusFailed, 0},
	},
}

// NextStatus returns the status/progress an event drives a job to from its
// current status, and whether the transition is valid. Terminal statuses
// and unknown (status, event) pairs return ok=false and must be treated as
// no-ops by the caller — never as errors that abort event processing.
func NextStatus(current Status, eventKind string) (next Status, progress int, ok bool) {
	if current.Terminal() {
		return current, 0, false
	}
	row, found := table[current]
	if !found {
		return current, 0, false
	}
	t, found := row[eventKind]
	if !found {
		return current, 0, false
	}
	return t.status, t.progress, true
}

// Record is the authoritative per-job state described in spec §3. The
// mutex only guards in-process concurrent access to a single Record value
// (e.g. within one consumer instance briefly holding it before a store
// write); cross-process consistency is owned by the store.
type Record struct {
	mu sync.Mutex

	JobID           string
	VideoURL        string
	VideoTitle      string
	SourceLanguage  string
	TargetLanguage  string
	Status          Status
	ProgressPercent int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResultPath      string
	ErrorMessage    string
}

// New builds the initial pending record for a fresh submission.
func New(jobID, videoURL, videoTitle, sourceLang, targetLang string, now time.Time) *Record {
	return &Record{
		JobID:          jobID,
		VideoURL:       videoURL,
		VideoTitle:     videoTitle,
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Apply advances r according to the transition table, updating progress,
// result path and error message as applicable. It is a no-op (returning
// false) on a terminal record or an event that the table doesn't route
// from the current status — matching §4.4's "unknown or regressive
// transitions are ... ignored."
func (r *Record) Apply(eventKind string, resultPath, errMessage string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, progress, ok := NextStatus(r.Status, eventKind)
	if !ok {
		return false
	}

	// progress must never regress even if a stale/duplicate event retriggers
	// the same transition with a smaller percentage than already recorded.
	if progress > r.ProgressPercent {
		r.ProgressPercent = progress
	}
	r.Status = next
	r.UpdatedAt = now
	if resultPath != "" {
		r.ResultPath = resultPath
	}
	if errMessage != "" {
		r.ErrorMessage = errMessage
	}
	return true
}

func (r *Record) Snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Record{
		JobID:           r.JobID,
		VideoURL:        r.VideoURL,
		VideoTitle:      r.VideoTitle,
		SourceLanguage:  r.SourceLanguage,
		TargetLanguage:  r.TargetLanguage,
		Status:          r.Status,
		ProgressPercent: r.ProgressPercent,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ResultPath:      r.ResultPath,
		ErrorMessage:    r.ErrorMessage,
	}
}

// ToFields serializes the record into the string-valued field map the
// store's Redis hash representation uses (§6: job:<job_id> → hash of
// record fields, string values, ISO timestamps).
func (r *Record) ToFields() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]string{
		"job_id":              r.JobID,
		"video_url":           r.VideoURL,
		"video_title":         r.VideoTitle,
		"source_language":     r.SourceLanguage,
		"target_language":     r.TargetLanguage,
		"status":              string(r.Status),
		"progress_percentage": fmt.Sprintf("%d", r.ProgressPercent),
		"created_at":          r.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":          r.UpdatedAt.UTC().Format(time.RFC3339),
		"result_path":         r.ResultPath,
		"error_message":       r.ErrorMessage,
	}
}

// FromFields reconstructs a Record from a store hash, the inverse of
// ToFields. Missing numeric/time fields default to zero values rather than
// erroring, since a freshly-created record may not yet have them set.
func FromFields(fields map[string]string) *Record {
	r := &Record{
		JobID:          fields["job_id"],
		VideoURL:       fields["video_url"],
		VideoTitle:     fields["video_title"],
		SourceLanguage: fields["source_language"],
		TargetLanguage: fields["target_language"],
		Status:         Status(fields["status"]),
		ResultPath:     fields["result_path"],
		ErrorMessage:   fields["error_message"],
	}
	if p, err := parsePercent(fields["progress_percentage"]); err == nil {
		r.ProgressPercent = p
	}
	if t, err := time.Parse(time.RFC3339, fields["created_at"]); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fields["updated_at"]); err == nil {
		r.UpdatedAt = t
	}
	return r
}

func parsePercent(s string) (int, error) {
	var p int
	if s == "" {
		return 0, nil
	}
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}
