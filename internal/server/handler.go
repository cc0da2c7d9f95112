package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/job"
)

const dateFormat = "2006-01-02"

// maxBodyBytes bounds an enqueue request.
const maxBodyBytes = 1 << 20

type handler struct {
	jobs *job.Service
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		badRequest(w, r, "invalid job id")
		return
	}

	req := job.GetJobRequest{ID: id}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, r, appErr)
		return
	}

	j, err := h.jobs.Get(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	req := job.ListJobsRequest{
		Status: job.Status(strings.ToUpper(r.URL.Query().Get("status"))),
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, r, appErr)
		return
	}

	jobs, err := h.jobs.List(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}

	writeJSON(w, r, http.StatusOK, jobs)
}

type createJobBody struct {
	ID          int64           `json:"jobId"`
	ReportDate  string          `json:"reportDate"`
	Instruments json.RawMessage `json:"instruments"`
}

func (h *handler) createJob(w http.ResponseWriter, r *http.Request) {
	var body createJobBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}

	if body.ReportDate == "" {
		badRequest(w, r, "reportDate is required")
		return
	}
	asOf, err := time.Parse(dateFormat, body.ReportDate)
	if err != nil {
		badRequest(w, r, "invalid reportDate format, expected YYYY-MM-DD")
		return
	}

	j, err := h.jobs.Enqueue(r.Context(), job.EnqueueRequest{
		ID:      body.ID,
		AsOf:    asOf,
		Payload: body.Instruments,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, j)
}
