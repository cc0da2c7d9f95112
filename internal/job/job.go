package job

import (
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether a job may move from s to next.
// Only PENDING->RUNNING and RUNNING->{COMPLETED,ERROR} are allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusError
	default:
		return false
	}
}

// Column names of the job table. They are shared with the producer
// application and must not change.
const (
	ColID           = "job_id"
	ColPayload      = "instruments_json"
	ColAsOf         = "report_date"
	ColStatus       = "status"
	ColCreatedAt    = "created_at"
	ColStartedAt    = "started_at"
	ColCompletedAt  = "completed_at"
	ColErrorMessage = "error_message"
	ColTotal        = "instruments_total"
	ColFetched      = "instruments_fetched"
	ColSkipped      = "instruments_skipped"
	ColProgress     = "progress"
)

var Columns = []string{
	ColID, ColPayload, ColAsOf, ColStatus,
	ColCreatedAt, ColStartedAt, ColCompletedAt, ColErrorMessage,
	ColTotal, ColFetched, ColSkipped, ColProgress,
}

const (
	DateFormat = time.DateOnly
	TimeFormat = time.RFC3339

	// MaxErrorLen bounds error_message so failures cannot bloat the table.
	MaxErrorLen = 500
)

type Job struct {
	ID           int64      `json:"jobId"`
	Payload      string     `json:"payload"`
	AsOf         time.Time  `json:"reportDate"`
	Status       Status     `json:"status"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Total        int        `json:"total"`
	Fetched      int        `json:"fetched"`
	Skipped      int        `json:"skipped"`
	Progress     string     `json:"progress,omitempty"`
}

// Update is a partial update. Nil fields are left unchanged.
type Update struct {
	Status       *Status
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	Progress     *string
	Total        *int
	Fetched      *int
	Skipped      *int
}

func ptr[T any](v T) *T { return &v }

// SetProgress updates only the progress text.
func SetProgress(msg string) Update {
	return Update{Progress: ptr(msg)}
}

// Complete moves a job to COMPLETED with final counters.
func Complete(progress string, fetched, skipped int) Update {
	return Update{
		Status:   ptr(StatusCompleted),
		Progress: ptr(progress),
		Fetched:  ptr(fetched),
		Skipped:  ptr(skipped),
	}
}

// Fail moves a job to ERROR with a truncated message.
func Fail(msg string) Update {
	return Update{
		Status:       ptr(StatusError),
		ErrorMessage: ptr(Truncate(msg, MaxErrorLen)),
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
