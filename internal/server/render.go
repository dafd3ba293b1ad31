package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/pkg/errs"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", zap.Error(err))
	}
}

// renderError maps error kinds to HTTP statuses. Internal causes are
// logged, never leaked.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	body := errorBody{Code: errs.Code(err), Message: err.Error()}

	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
		if body.Code == "" {
			body.Code = "validation_error"
		}
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
		body.Code = "not_found"
	case errors.Is(err, errs.ErrAuth):
		status = http.StatusUnauthorized
		body.Code = "unauthorized"
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
		body.Code = "conflict"
	case errors.Is(err, errs.ErrRateLimited):
		status = http.StatusTooManyRequests
		body.Code = "rate_limited"
	case errors.Is(err, errs.ErrExternal):
		status = http.StatusBadGateway
		body.Code = "provider_error"
	default:
		status = http.StatusInternalServerError
		body.Code = "internal"
		body.Message = "internal error"
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	s.respond(w, status, body)
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validation("invalid_body", "malformed request body: %v", err)
	}
	return nil
}
