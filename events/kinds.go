package events

// Event kinds and their routing keys (§3), dotted from least to most
// specific. The routing key IS the kind — there is no separate mapping.
const (
	KindMediaFileDetected          = "media.file.detected"
	KindSubtitleDownloadRequested  = "subtitle.download.requested"
	KindSubtitleReady              = "subtitle.ready"
	KindSubtitleTranslateRequested = "subtitle.translate.requested"
	KindTranslationCompleted       = "subtitle.translation.completed"
	KindTranslationFailed          = "subtitle.translation.failed"
	KindJobFailed                  = "job.failed"
)

// KindDownloadInProgress is published by the downloader; like
// media.file.detected and job.failed, it has no "subtitle." domain prefix
// in §3's kind list.
const KindDownloadInProgress = "download.in_progress"

// ToJobEvent maps a routing key to the event-kind token job.NextStatus
// expects, i.e. with the "subtitle." domain prefix stripped. Unknown kinds
// map to the empty string, which the transition table treats as a no-op.
func ToJobEvent(kind string) string {
	switch kind {
	case KindDownloadInProgress:
		return "download.in_progress"
	case KindSubtitleDownloadRequested:
		return "download.requested"
	case KindSubtitleReady:
		return "ready"
	case KindSubtitleTranslateRequested:
		return "translate.requested"
	case KindTranslationCompleted:
		return "translation.completed"
	case KindTranslationFailed:
		return "translation.failed"
	case KindJobFailed:
		return "job.failed"
	default:
		return ""
	}
}
