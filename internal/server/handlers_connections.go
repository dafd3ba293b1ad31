package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

const oauthStateCookie = "ts_oauth_state"

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.stores.Connections.List(r.Context(), userID(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, viewConnection(c))
	}
	s.respond(w, http.StatusOK, map[string]any{"connections": views})
}

// handleConnectGoogle starts the provider OAuth dance: the state lives
// in a short-lived cookie and is checked again on callback.
func (s *Server) handleConnectGoogle(w http.ResponseWriter, r *http.Request) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		s.renderError(w, r, errs.Internal("generating oauth state", err))
		return
	}
	state := hex.EncodeToString(raw)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/connections/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	s.respond(w, http.StatusOK, map[string]any{
		"auth_url": s.google.AuthCodeURL(state),
	})
}

// handleGoogleCallback finishes the dance: exchange the code, store
// the sealed credentials, and discover the account's calendars. The
// primary calendar starts selected.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		s.renderError(w, r, errs.Auth("provider authorization refused: %s", errMsg))
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		s.renderError(w, r, errs.Auth("oauth state mismatch"))
		return
	}
	code := q.Get("code")
	if code == "" {
		s.renderError(w, r, errs.Validation("invalid_callback", "code is required"))
		return
	}

	creds, err := s.google.Exchange(r.Context(), code)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	uid := userID(r)
	conn, err := s.stores.Connections.Create(r.Context(), uid, s.google.ID(), store.OAuthCredentials{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.Expiry,
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	remote, err := s.google.ListCalendars(r.Context(), creds)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	views := make([]calendarView, 0, len(remote))
	for _, rc := range remote {
		cal, err := s.stores.Calendars.Upsert(r.Context(), &store.Calendar{
			ConnectionID: conn.ID,
			UserID:       uid,
			ExternalID:   rc.ExternalID,
			Name:         rc.Name,
			Color:        optional(rc.Color),
			IsPrimary:    rc.IsPrimary,
			IsSelected:   rc.IsPrimary,
		})
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		views = append(views, viewCalendar(cal))
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Path:   "/connections/google",
		MaxAge: -1,
	})
	s.respond(w, http.StatusCreated, map[string]any{
		"connection": viewConnection(conn),
		"calendars":  views,
	})
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.stores.Connections.Delete(r.Context(), userID(r), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}
