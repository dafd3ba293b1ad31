package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/timeledger/internal/auth"
	"github.com/quantumlife/timeledger/pkg/clock"
	"github.com/quantumlife/timeledger/pkg/errs"
)

var (
	testSecret = []byte("server-test-secret")
	testUserID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	authSvc := auth.NewService(zap.NewNop(), clock.NewReal(), nil, nil, nil, testSecret)
	return New(zap.NewNop(), authSvc, Stores{}, nil, nil, nil, nil, nil, false)
}

// sessionToken mints a session the way the auth service does.
func sessionToken(t *testing.T, secret []byte, userID uuid.UUID, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestRenderErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", errs.Validation("invalid_period", "bad period"), http.StatusBadRequest, "invalid_period"},
		{"not found", errs.NotFound("no such thing"), http.StatusNotFound, "not_found"},
		{"auth", errs.Auth("who are you"), http.StatusUnauthorized, "unauthorized"},
		{"conflict", errs.Conflict("already there"), http.StatusConflict, "conflict"},
		{"internal", errs.Internal("boom", nil), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		s.renderError(rec, req, tc.err)

		if rec.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
		var body errorBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decoding body: %v", tc.name, err)
		}
		if body.Code != tc.code {
			t.Errorf("%s: code = %q, want %q", tc.name, body.Code, tc.code)
		}
	}
}

func TestRenderErrorHidesInternalCause(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	s.renderError(rec, req, errs.Internal("connecting to database at 10.0.0.5", nil))

	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("internal error detail leaked: %s", rec.Body.String())
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"nmae":"typo"}`))
	var v struct {
		Name string `json:"name"`
	}
	err := decode(req, &v)
	if errs.Code(err) != "invalid_body" {
		t.Errorf("err = %v, want invalid_body", err)
	}
}

func TestAuthenticateSessionCookie(t *testing.T) {
	s := newTestServer(t)

	var got uuid.UUID
	wrapped := s.authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = userID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{
		Name:  sessionCookie,
		Value: sessionToken(t, testSecret, testUserID, time.Now().Add(time.Hour)),
	})
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got != testUserID {
		t.Errorf("user id = %s, want %s", got, testUserID)
	}
}

func TestAuthenticateRejectsMissingCredentials(t *testing.T) {
	s := newTestServer(t)
	wrapped := s.authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateRejectsExpiredSession(t *testing.T) {
	s := newTestServer(t)
	wrapped := s.authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached with expired session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{
		Name:  sessionCookie,
		Value: sessionToken(t, testSecret, testUserID, time.Now().Add(-time.Hour)),
	})
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateRejectsBasicScheme(t *testing.T) {
	s := newTestServer(t)
	wrapped := s.authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached with basic auth")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRouterHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouterProtectsTimeEntries(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/time-entries?start_date=2025-01-01&end_date=2025-01-07", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestOAuthTokenRejectsWrongGrantType(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token",
		strings.NewReader(`{"grant_type":"client_credentials","code":"x","code_verifier":"y"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Code != "unsupported_grant_type" {
		t.Errorf("code = %q, want unsupported_grant_type", body.Code)
	}
}

func TestOAuthAuthorizeRejectsPlainChallenge(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet,
		"/oauth/authorize?response_type=code&state=abc&code_challenge=xyz&code_challenge_method=plain&redirect_uri=http%3A%2F%2Flocalhost%2Fcb", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
