package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/pkg/errs"
)

// pathID parses the named chi URL parameter as a uuid.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.Validation("invalid_id", "%s is not a valid id", name)
	}
	return id, nil
}

// parseDate parses a YYYY-MM-DD value, midnight UTC.
func parseDate(code, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, errs.Validation(code, "%q is not a valid date, want YYYY-MM-DD", value)
	}
	return t, nil
}

// dateRange parses the start_date and end_date query parameters and
// checks their order. Both are required.
func dateRange(r *http.Request) (start, end time.Time, err error) {
	start, err = parseDate("invalid_start_date", r.URL.Query().Get("start_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = parseDate("invalid_end_date", r.URL.Query().Get("end_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errs.Validation("invalid_period", "end_date precedes start_date")
	}
	return start, end, nil
}

// queryUUID parses an optional uuid query parameter.
func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errs.Validation("invalid_id", "%s is not a valid id", name)
	}
	return &id, nil
}

// optional maps "" to nil for nullable text columns.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
