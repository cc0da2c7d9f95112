package job

import (
	"encoding/json"
	"time"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
)

type GetJobRequest struct {
	ID int64
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	Status Status
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	switch r.Status {
	case "", StatusPending, StatusRunning, StatusCompleted, StatusError:
		return nil
	}
	return apperror.New(apperror.BadRequest, "status must be PENDING, RUNNING, COMPLETED or ERROR")
}

// EnqueueRequest creates a job. ID 0 asks the queue to assign the next id.
type EnqueueRequest struct {
	ID      int64           `json:"jobId"`
	AsOf    time.Time       `json:"-"`
	Payload json.RawMessage `json:"instruments"`
}

func (r EnqueueRequest) Validate() *apperror.AppError {
	if r.ID < 0 {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	if r.AsOf.IsZero() {
		return apperror.New(apperror.BadRequest, "reportDate is required")
	}
	if len(r.Payload) == 0 || !json.Valid(r.Payload) {
		return apperror.New(apperror.MalformedPayload, "instruments must be valid JSON")
	}
	return nil
}
