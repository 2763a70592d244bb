package orchestrator

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/opensubs-io/subsync/errors"
)

// HandlersCollection groups the orchestrator's httprouter handlers the way
// the teacher's DMSAPIHandlersCollection groups its own, so a single value
// can be wired into the router and swapped out in tests.
type HandlersCollection struct {
	svc *Service
}

func NewHandlers(svc *Service) *HandlersCollection {
	return &HandlersCollection{svc: svc}
}

var submitDownloadSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"video_url": { "type": "string", "minLength": 1 },
		"target_language": { "type": "string", "pattern": "^[a-z]{2}$" },
		"video_title": { "type": "string" },
		"imdb_id": { "type": "string" }
	},
	"required": [ "video_url", "target_language" ]
}`)

var submitTranslationSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"subtitle_path": { "type": "string", "minLength": 1 },
		"source_language": { "type": "string" },
		"target_language": { "type": "string", "pattern": "^[a-z]{2}$" },
		"video_title": { "type": "string" }
	},
	"required": [ "subtitle_path", "target_language" ]
}`)

func mustSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(err)
	}
	return schema
}

func decodeValidated(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, out any) bool {
	if !hasJSONContentType(r) {
		errors.WriteHTTPUnsupportedMediaType(w, "requires application/json content type", nil)
		return false
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "cannot read request body", err)
		return false
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "cannot validate request body", err)
		return false
	}
	if !result.Valid() {
		errors.WriteHTTPBadBodySchema("request body", w, result.Errors())
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		errors.WriteHTTPBadRequest(w, "invalid request body", err)
		return false
	}
	return true
}

// hasJSONContentType mirrors the teacher's HasContentType helper: parse
// each comma-separated media type and compare, rather than a raw prefix
// match, so a charset parameter doesn't cause a false negative.
func hasJSONContentType(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return false
	}
	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == "application/json" {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SubmitDownload handles POST /submit_download.
func (h *HandlersCollection) SubmitDownload() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body struct {
			VideoURL       string `json:"video_url"`
			TargetLanguage string `json:"target_language"`
			VideoTitle     string `json:"video_title"`
			IMDBID         string `json:"imdb_id"`
		}
		if !decodeValidated(w, r, submitDownloadSchema, &body) {
			return
		}

		result, err := h.svc.SubmitDownload(r.Context(), DownloadRequest{
			VideoURL:       body.VideoURL,
			TargetLanguage: body.TargetLanguage,
			VideoTitle:     body.VideoTitle,
			IMDBID:         body.IMDBID,
		})
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": result.JobID, "deduplicated": result.Deduplicated})
	}
}

// SubmitTranslation handles POST /submit_translation.
func (h *HandlersCollection) SubmitTranslation() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body struct {
			SubtitlePath   string `json:"subtitle_path"`
			SourceLanguage string `json:"source_language"`
			TargetLanguage string `json:"target_language"`
			VideoTitle     string `json:"video_title"`
		}
		if !decodeValidated(w, r, submitTranslationSchema, &body) {
			return
		}

		result, err := h.svc.SubmitTranslation(r.Context(), TranslationRequest{
			SubtitlePath:   body.SubtitlePath,
			SourceLanguage: body.SourceLanguage,
			TargetLanguage: body.TargetLanguage,
			VideoTitle:     body.VideoTitle,
		})
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": result.JobID, "deduplicated": result.Deduplicated})
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsValidationError(err):
		errors.WriteHTTPBadRequest(w, err.Error(), err)
	default:
		errors.WriteHTTPServiceUnavailable(w, "failed to submit job", err)
	}
}

// GetStatus handles GET /jobs/:job_id.
func (h *HandlersCollection) GetStatus() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		status, err := h.svc.GetStatus(r.Context(), ps.ByName("job_id"))
		if err != nil {
			if errors.IsObjectNotFound(err) {
				errors.WriteHTTPNotFound(w, "job not found", nil)
				return
			}
			errors.WriteHTTPServiceUnavailable(w, "failed to read job status", err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// GetEvents handles GET /jobs/:job_id/events.
func (h *HandlersCollection) GetEvents() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		events, err := h.svc.GetEvents(r.Context(), ps.ByName("job_id"))
		if err != nil {
			errors.WriteHTTPServiceUnavailable(w, "failed to read job events", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}

// Health handles GET /health.
func (h *HandlersCollection) Health() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		status := h.svc.Health(r.Context())
		code := http.StatusOK
		if !status.BrokerOK || !status.StoreOK {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}
