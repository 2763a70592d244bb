package scanner

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/opensubs-io/subsync/log"
	"github.com/opensubs-io/subsync/middleware"
)

// webhookPayload is Jellyfin's (and compatible media servers') webhook
// notification shape (§4.5): only the fields the scanner cares about are
// declared, the rest passes through silently.
type webhookPayload struct {
	Event    string `json:"event"`
	ItemType string `json:"item_type"`
	ItemName string `json:"item_name"`
	ItemPath string `json:"item_path"`
	ItemID   string `json:"item_id,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

var relevantItemTypes = map[string]bool{"Movie": true, "Episode": true}
var relevantEvents = map[string]bool{"library.item.added": true, "library.item.updated": true}

// webhookResponse is the wire shape spec.md §6 documents for the webhook:
// {status: "received"|"ignored"|"error", job_id?, message?}.
type webhookResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// WebhookHandler handles POST /webhooks/jellyfin (§4.5).
func (s *Scanner) WebhookHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeWebhookJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "invalid payload"})
			return
		}

		if !relevantEvents[payload.Event] || !relevantItemTypes[payload.ItemType] {
			writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
			return
		}

		videoURL := payload.VideoURL
		if videoURL == "" {
			videoURL = payload.ItemPath
		}
		log.LogNoJobID("scanner webhook received library event", "event", payload.Event, "item_name", payload.ItemName)

		result, err := s.submit(r.Context(), videoURL, payload.ItemName, payload.ItemID)
		if err != nil {
			writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "error", Message: err.Error()})
			return
		}
		// a deduplicated submission against an already in-flight or recently
		// completed job is still "received" — the dedup key just points the
		// caller at the existing job_id instead of minting a new one.
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "received", JobID: result.JobID})
	}
}

// HealthHandler handles GET /health for the scanner's own HTTP surface.
func (s *Scanner) HealthHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Status: "ok"})
	}
}

func writeWebhookJSON(w http.ResponseWriter, status int, body webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewWebhookRouter builds the scanner's standalone httprouter instance.
func NewWebhookRouter(s *Scanner) *httprouter.Router {
	logged := middleware.LogRequest()
	router := httprouter.New()
	router.POST("/webhooks/jellyfin", logged(s.WebhookHandler()))
	router.GET("/health", logged(s.HealthHandler()))
	return router
}
