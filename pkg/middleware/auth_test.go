package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/auth"
)

type stubStore struct {
	account *accounts.Account
}

func (s *stubStore) Create(ctx context.Context, a *accounts.Account) error { return nil }

func (s *stubStore) FindByID(ctx context.Context, id string) (*accounts.Account, error) {
	if s.account != nil && s.account.ID == id {
		return s.account, nil
	}
	return nil, accounts.ErrNotFound
}

func (s *stubStore) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return nil, accounts.ErrNotFound
}

func (s *stubStore) FindByCustomerID(ctx context.Context, customerID string) (*accounts.Account, error) {
	return nil, accounts.ErrNotFound
}

func (s *stubStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*accounts.Account, error) {
	return nil, accounts.ErrNotFound
}

func (s *stubStore) LinkCustomer(ctx context.Context, accountID, customerID string) error {
	return nil
}

func (s *stubStore) ApplySubscription(ctx context.Context, accountID string, state accounts.SubscriptionState, eventAt time.Time) (bool, error) {
	return false, nil
}

func (s *stubStore) ClearSubscription(ctx context.Context, accountID string, eventAt time.Time) (bool, error) {
	return false, nil
}

func (s *stubStore) ListLapsedSubscriptions(ctx context.Context, before time.Time) ([]*accounts.Account, error) {
	return nil, nil
}

// sessionFixture returns a manager with one live session and the matching
// plaintext token
func sessionFixture(t *testing.T) (*auth.SessionManager, string) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &stubStore{account: &accounts.Account{ID: "acct-1", Email: "user@example.com"}}
	manager := auth.NewSessionManager(db, store, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	token, _, err := manager.Create(context.Background(), "acct-1")
	require.NoError(t, err)

	return manager, token
}

func echoAccountHandler(t *testing.T, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		account := AccountFromRequest(r)
		require.NotNil(t, account)
		assert.Equal(t, "acct-1", account.ID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddlewareCookie(t *testing.T) {
	manager, token := sessionFixture(t)
	m := NewSessionMiddleware(manager, false)

	var called bool
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec := httptest.NewRecorder()

	m.Handler(echoAccountHandler(t, &called)).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMiddlewareBearer(t *testing.T) {
	manager, token := sessionFixture(t)
	m := NewSessionMiddleware(manager, false)

	var called bool
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	m.Handler(echoAccountHandler(t, &called)).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMiddlewareMissingToken(t *testing.T) {
	manager, _ := sessionFixture(t)
	m := NewSessionMiddleware(manager, false)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec := httptest.NewRecorder()

	m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddlewareInvalidToken(t *testing.T) {
	manager, _ := sessionFixture(t)
	m := NewSessionMiddleware(manager, false)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer sess_bogus")
	rec := httptest.NewRecorder()

	m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddlewareOptional(t *testing.T) {
	manager, _ := sessionFixture(t)
	m := NewSessionMiddleware(manager, true)

	var called bool
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, AccountFromRequest(r))
	})).ServeHTTP(rec, req)

	assert.True(t, called)
}

func TestExtractSessionToken(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{
			name: "cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess_cookie"})
			},
			want: "sess_cookie",
		},
		{
			name: "bearer header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer sess_header")
			},
			want: "sess_header",
		},
		{
			name: "cookie wins over header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess_cookie"})
				r.Header.Set("Authorization", "Bearer sess_header")
			},
			want: "sess_cookie",
		},
		{
			name:  "nothing",
			setup: func(r *http.Request) {},
			want:  "",
		},
		{
			name: "malformed header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			assert.Equal(t, tt.want, ExtractSessionToken(req))
		})
	}
}
