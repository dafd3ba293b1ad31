package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/pkg/errs"
)

type contextKey int

const userIDKey contextKey = iota

const sessionCookie = "ts_session"

// userID returns the authenticated user for the request.
func userID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

// authenticate resolves any of the three credential modes to a user id:
// bearer API key (ts_), bearer access token, or session cookie.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.resolveUser(r)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func (s *Server) resolveUser(r *http.Request) (uuid.UUID, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return uuid.Nil, errs.Auth("unsupported authorization scheme")
		}
		if strings.HasPrefix(token, "ts_") {
			return s.auth.ResolveAPIKey(r.Context(), token)
		}
		return s.auth.ResolveAccessToken(r.Context(), token)
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return uuid.Nil, errs.Auth("authentication required")
	}
	return s.auth.VerifySession(cookie.Value)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
