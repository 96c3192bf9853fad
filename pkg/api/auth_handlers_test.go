package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/middleware"
)

func postJSON(t *testing.T, server *Server, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	env.expectSessionInsert()

	rec := postJSON(t, env.server, "/api/auth/register", RegisterRequest{
		Email:    "New@Example.com",
		Password: "hunter2hunter2",
		Name:     "New User",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "new@example.com", resp.Email)
	assert.Equal(t, "New User", resp.Name)
	assert.Equal(t, "member", resp.Role)
	assert.False(t, resp.HasSubscription)

	cookie := sessionCookie(t, rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	// The stored account never keeps the plaintext password
	account, err := env.store.FindByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2hunter2", account.PasswordHash)
	assert.NotEmpty(t, account.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.store.add(&accounts.Account{ID: "acct-1", Email: "taken@example.com"})

	rec := postJSON(t, env.server, "/api/auth/register", RegisterRequest{
		Email:    "taken@example.com",
		Password: "hunter2hunter2",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{name: "missing email", req: RegisterRequest{Password: "hunter2hunter2"}},
		{name: "bad email", req: RegisterRequest{Email: "nope", Password: "hunter2hunter2"}},
		{name: "short password", req: RegisterRequest{Email: "a@b.com", Password: "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.server, "/api/auth/register", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	hash, err := env.server.hasher.Hash("correct password")
	require.NoError(t, err)
	env.store.add(&accounts.Account{ID: "acct-1", Email: "user@example.com", PasswordHash: hash})

	env.expectSessionInsert()
	rec := postJSON(t, env.server, "/api/auth/login", LoginRequest{
		Email:    "user@example.com",
		Password: "correct password",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sessionCookie(t, rec))
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	hash, err := env.server.hasher.Hash("correct password")
	require.NoError(t, err)
	env.store.add(&accounts.Account{ID: "acct-1", Email: "user@example.com", PasswordHash: hash})

	rec := postJSON(t, env.server, "/api/auth/login", LoginRequest{
		Email:    "user@example.com",
		Password: "wrong password",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, sessionCookie(t, rec))
}

func TestLoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/auth/login", LoginRequest{
		Email:    "ghost@example.com",
		Password: "whatever password",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginOAuthOnlyAccount(t *testing.T) {
	env := newTestEnv(t)
	env.store.add(&accounts.Account{ID: "acct-1", Email: "oauth@example.com"})

	rec := postJSON(t, env.server, "/api/auth/login", LoginRequest{
		Email:    "oauth@example.com",
		Password: "any password at all",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.store.add(&accounts.Account{ID: "acct-1", Email: "user@example.com"})
	cookie := env.loginAs(t, "acct-1")

	env.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE token_hash = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postJSON(t, env.server, "/api/auth/logout", nil, cookie)

	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := sessionCookie(t, rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}

func TestGoogleRoutesAbsentWhenUnconfigured(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
