package server

import (
	"net/http"
	"time"

	"github.com/quantumlife/timeledger/pkg/errs"
)

const sessionCookieTTL = 7 * 24 * time.Hour

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	u, err := s.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	_, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, int(sessionCookieTTL.Seconds()))
	s.respond(w, http.StatusCreated, viewUser(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	u, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, int(sessionCookieTTL.Seconds()))
	s.respond(w, http.StatusOK, viewUser(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.setSessionCookie(w, "", -1)
	s.respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.stores.Users.GetByID(r.Context(), userID(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, viewUser(u))
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.auth.ListAPIKeys(r.Context(), userID(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, viewAPIKey(k))
	}
	s.respond(w, http.StatusOK, map[string]any{"api_keys": views})
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	record, key, err := s.auth.CreateAPIKey(r.Context(), userID(r), req.Name)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	// The full key is returned exactly once.
	s.respond(w, http.StatusCreated, map[string]any{
		"api_key": viewAPIKey(record),
		"key":     key,
	})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.auth.DeleteAPIKey(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

// handleOAuthAuthorize opens a PKCE session for a programmatic client.
// The client then logs the user in and posts approval for the state.
func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if rt := q.Get("response_type"); rt != "code" {
		s.renderError(w, r, errs.Validation("invalid_authorization", "response_type must be code"))
		return
	}

	sess, err := s.auth.StartAuthorization(r.Context(),
		q.Get("state"), q.Get("code_challenge"), q.Get("code_challenge_method"), q.Get("redirect_uri"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"state":      sess.State,
		"expires_at": sess.ExpiresAt,
	})
}

func (s *Server) handleOAuthApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	code, redirectURI, err := s.auth.Approve(r.Context(), req.State, userID(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"code":         code,
		"redirect_uri": redirectURI,
	})
}

func (s *Server) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GrantType    string `json:"grant_type"`
		Code         string `json:"code"`
		CodeVerifier string `json:"code_verifier"`
	}
	if err := decode(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if req.GrantType != "authorization_code" {
		s.renderError(w, r, errs.Validation("unsupported_grant_type", "grant_type must be authorization_code"))
		return
	}

	token, expiresAt, err := s.auth.Exchange(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt,
	})
}
