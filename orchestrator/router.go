package orchestrator

import (
	"github.com/julienschmidt/httprouter"

	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/middleware"
)

// NewRouter wires the orchestrator's HTTP boundary (spec.md §4.1), putting
// every route except /health behind bearer-token and CORS middleware (the
// scanner's webhook router uses neither). ORCHESTRATOR_API_TOKEN empty disables the auth check,
// matching middleware.IsAuthorized's own no-op-when-empty behavior.
func NewRouter(cfg *config.Config, svc *Service) *httprouter.Router {
	h := NewHandlers(svc)
	cors := middleware.AllowCORS()
	logged := middleware.LogRequest()
	auth := func(next httprouter.Handle) httprouter.Handle {
		return middleware.IsAuthorized(cfg.OrchestratorToken, next)
	}

	router := httprouter.New()
	router.GET("/health", logged(h.Health()))
	router.POST("/submit_download", logged(cors(auth(h.SubmitDownload()))))
	router.POST("/submit_translation", logged(cors(auth(h.SubmitTranslation()))))
	router.GET("/jobs/:job_id", logged(cors(auth(h.GetStatus()))))
	router.GET("/jobs/:job_id/events", logged(cors(auth(h.GetEvents()))))
	return router
}
