package middleware

import (
	"net/http"
	"strings"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/auth"
	"github.com/subloop/subloop/pkg/contextkeys"
	"github.com/subloop/subloop/pkg/httputil"
)

// SessionCookieName is the cookie carrying the session token
const SessionCookieName = "subloop_session"

// SessionMiddleware authenticates requests with a session token, from the
// session cookie or an Authorization bearer header
type SessionMiddleware struct {
	sessions *auth.SessionManager
	optional bool // If true, allow requests without a session
}

// NewSessionMiddleware creates a new session authentication middleware
func NewSessionMiddleware(sessions *auth.SessionManager, optional bool) *SessionMiddleware {
	return &SessionMiddleware{
		sessions: sessions,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with session authentication
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractSessionToken(r)
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		account, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		}

		ctx := contextkeys.WithAccount(r.Context(), account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractSessionToken pulls the session token from the request: the session
// cookie first, then "Authorization: Bearer <token>"
func ExtractSessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// AccountFromRequest extracts the authenticated account from the request
// context, or nil
func AccountFromRequest(r *http.Request) *accounts.Account {
	value := r.Context().Value(contextkeys.AccountKey)
	if value == nil {
		return nil
	}
	account, ok := value.(*accounts.Account)
	if !ok {
		return nil
	}
	return account
}
