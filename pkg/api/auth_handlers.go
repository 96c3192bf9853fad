package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/auth"
	"github.com/subloop/subloop/pkg/httputil"
	"github.com/subloop/subloop/pkg/middleware"
)

const oauthStateCookie = "subloop_oauth_state"

// handleRegister is POST /api/auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		httputil.WriteBadRequest(w, "a valid email is required")
		return
	}
	if err := auth.ValidatePasswordComplexity(req.Password); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.logger.WithError(err).Error("failed to hash password")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "registration failed")
		return
	}

	account := &accounts.Account{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	}
	if err := s.store.Create(r.Context(), account); err != nil {
		if errors.Is(err, accounts.ErrDuplicateEmail) {
			httputil.WriteConflict(w, "an account with this email already exists")
			return
		}
		s.logger.WithError(err).Error("failed to create account")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "registration failed")
		return
	}

	if err := s.startSession(w, r, account.ID); err != nil {
		s.logger.WithError(err).Error("failed to create session")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "registration failed")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, NewAccountResponse(account))
}

// handleLogin is POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	account, err := s.store.FindByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			httputil.WriteUnauthorized(w, "invalid email or password")
			return
		}
		s.logger.WithError(err).Error("failed to look up account")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "login failed")
		return
	}

	// OAuth-only accounts have no password hash; bcrypt rejects "" anyway
	if account.PasswordHash == "" || !s.hasher.Verify(req.Password, account.PasswordHash) {
		httputil.WriteUnauthorized(w, "invalid email or password")
		return
	}

	if err := s.startSession(w, r, account.ID); err != nil {
		s.logger.WithError(err).Error("failed to create session")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "login failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, NewAccountResponse(account))
}

// handleLogout is POST /api/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.ExtractSessionToken(r); token != "" {
		if err := s.sessions.Revoke(r.Context(), token); err != nil {
			s.logger.WithError(err).Error("failed to revoke session")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}

	s.clearSessionCookie(w)
	httputil.WriteNoContent(w)
}

// handleGoogleLogin is GET /api/auth/google
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		s.logger.WithError(err).Error("failed to generate oauth state")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "sign-in unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})

	httputil.WriteJSON(w, http.StatusOK, RedirectResponse{URL: s.google.AuthURL(state)})
}

// handleGoogleCallback is GET /api/auth/google/callback
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "invalid oauth state")
		return
	}

	account, err := s.google.HandleCallback(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.logger.WithError(err).Warn("google sign-in failed")
		httputil.WriteUnauthorized(w, "sign-in failed")
		return
	}

	if err := s.startSession(w, r, account.ID); err != nil {
		s.logger.WithError(err).Error("failed to create session")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "sign-in failed")
		return
	}

	http.Redirect(w, r, s.appBaseURL+"/dashboard", http.StatusFound)
}

// startSession issues a session for the account and sets the cookie
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, accountID string) error {
	token, session, err := s.sessions.Create(r.Context(), accountID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.appBaseURL, "https://")
}
