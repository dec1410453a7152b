package api

import (
	"net/http"

	"linkcheck/internal/checker"
	"linkcheck/internal/storage"
)

// NewRouter registers the API handlers on a new mux.
func NewRouter(store storage.Storer, runner checker.Runner) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandlers(store, runner)

	mux.HandleFunc("POST /v1/targets", h.CreateTarget)
	mux.HandleFunc("GET /v1/targets", h.ListTargets)
	mux.HandleFunc("GET /v1/targets/{target_id}/results", h.ListCheckResults)
	mux.HandleFunc("POST /v1/check", h.Check)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return mux
}
