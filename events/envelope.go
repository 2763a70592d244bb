package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the event shape published to the topic exchange (§3). Payload
// is kind-specific and carried as a raw map so every publisher/subscriber
// pair only needs to agree on its own kind's shape, per spec §9's tagged-
// union guidance.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	JobID         string         `json:"job_id"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New builds an envelope ready to publish, stamping a fresh event id.
func New(kind, source, jobID string, payload map[string]any, now time.Time) Envelope {
	return Envelope{
		EventID:   uuid.NewString(),
		EventType: kind,
		Timestamp: now,
		Source:    source,
		JobID:     jobID,
		Payload:   payload,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(body []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(body, &e)
	return e, err
}

// Payload builders for the kinds with a documented shape in §3/§4.

func ReadyPayload(subtitlePath string) map[string]any {
	return map[string]any{"subtitle_path": subtitlePath}
}

func DownloadRequestedPayload(videoURL, language string) map[string]any {
	return map[string]any{"video_url": videoURL, "language": language}
}

func MediaFileDetectedPayload(videoURL, videoTitle string) map[string]any {
	return map[string]any{"video_url": videoURL, "video_title": videoTitle}
}

func TranslateRequestedPayload(subtitlePath, sourceLang, targetLang string) map[string]any {
	return map[string]any{
		"subtitle_path":   subtitlePath,
		"source_language": sourceLang,
		"target_language": targetLang,
	}
}

func TranslationCompletedPayload(resultPath string) map[string]any {
	return map[string]any{"result_path": resultPath}
}

func TranslationFailedPayload(chunkIndex int, message string) map[string]any {
	return map[string]any{"chunk_index": chunkIndex, "message": message}
}

func JobFailedPayload(errorType, message string) map[string]any {
	return map[string]any{"error_type": errorType, "message": message}
}
