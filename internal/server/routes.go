package server

import (
	"net/http"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
)

// NewHandler returns the job API with its middleware applied.
func NewHandler(jobSvc *job.Service) http.Handler {
	h := &handler{jobs: jobSvc}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("POST /api/v1/jobs", h.createJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)

	return chain(mux, withRequestID, withRecovery, withAccessLog)
}

// chain applies mws so that the first one is outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
