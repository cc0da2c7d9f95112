package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ahmethakanbesel/jobbridge/internal/apperror"
)

// APIResponse is the envelope of every reply. Code is only set on errors.
type APIResponse[T any] struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Data      T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, r *http.Request, status int, data T) {
	write(w, status, APIResponse[T]{
		Message:   "ok",
		RequestID: requestIDFrom(r.Context()),
		Data:      data,
	})
}

// writeError replies with the status of the first *AppError in err's chain.
// Anything else is logged and reported as an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperror.AppError
	if !errors.As(err, &ae) {
		requestLogger(r.Context()).Error("request failed", "error", err)
		ae = apperror.New(apperror.Internal, "internal server error")
	}
	write(w, ae.HTTPStatus(), APIResponse[any]{
		Message:   ae.Message(),
		Code:      string(ae.Code()),
		RequestID: requestIDFrom(r.Context()),
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, apperror.New(apperror.BadRequest, message))
}

func write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
