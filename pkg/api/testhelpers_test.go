package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/auth"
	"github.com/subloop/subloop/pkg/billing"
	"github.com/subloop/subloop/pkg/config"
	"github.com/subloop/subloop/pkg/middleware"
	"github.com/subloop/subloop/pkg/observability"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testBaseURL       = "https://app.example.com"
)

// apiStore is an in-memory accounts.Store for handler tests
type apiStore struct {
	accounts map[string]*accounts.Account
	nextID   int
}

func newAPIStore() *apiStore {
	return &apiStore{accounts: make(map[string]*accounts.Account)}
}

func (s *apiStore) add(a *accounts.Account) *accounts.Account {
	s.accounts[a.ID] = a
	return a
}

func (s *apiStore) Create(ctx context.Context, a *accounts.Account) error {
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return accounts.ErrDuplicateEmail
		}
	}
	s.nextID++
	a.ID = fmt.Sprintf("acct-%d", s.nextID)
	if a.Role == "" {
		a.Role = accounts.RoleMember
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	s.accounts[a.ID] = a
	return nil
}

func (s *apiStore) FindByID(ctx context.Context, id string) (*accounts.Account, error) {
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	return nil, accounts.ErrNotFound
}

func (s *apiStore) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (s *apiStore) FindByCustomerID(ctx context.Context, customerID string) (*accounts.Account, error) {
	for _, a := range s.accounts {
		if a.StripeCustomerID == customerID {
			return a, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (s *apiStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*accounts.Account, error) {
	for _, a := range s.accounts {
		if a.StripeSubscriptionID == subscriptionID {
			return a, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (s *apiStore) LinkCustomer(ctx context.Context, accountID, customerID string) error {
	a, ok := s.accounts[accountID]
	if !ok {
		return accounts.ErrNotFound
	}
	if a.StripeCustomerID != "" && a.StripeCustomerID != customerID {
		return accounts.ErrCustomerMismatch
	}
	a.StripeCustomerID = customerID
	return nil
}

func (s *apiStore) ApplySubscription(ctx context.Context, accountID string, state accounts.SubscriptionState, eventAt time.Time) (bool, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return false, accounts.ErrNotFound
	}
	if !a.BillingSyncedAt.IsZero() && a.BillingSyncedAt.After(eventAt) {
		return false, nil
	}
	a.StripeSubscriptionID = state.SubscriptionID
	a.StripePriceID = state.PriceID
	a.StripeCurrentPeriodEnd = state.CurrentPeriodEnd
	a.BillingSyncedAt = eventAt
	return true, nil
}

func (s *apiStore) ClearSubscription(ctx context.Context, accountID string, eventAt time.Time) (bool, error) {
	a, ok := s.accounts[accountID]
	if !ok {
		return false, accounts.ErrNotFound
	}
	a.StripeSubscriptionID = ""
	a.StripePriceID = ""
	a.StripeCurrentPeriodEnd = time.Time{}
	a.BillingSyncedAt = eventAt
	return true, nil
}

func (s *apiStore) ListLapsedSubscriptions(ctx context.Context, before time.Time) ([]*accounts.Account, error) {
	return nil, nil
}

// stubProvider returns canned URLs and snapshots
type stubProvider struct {
	checkoutURL string
	portalURL   string
	snapshot    *billing.SubscriptionSnapshot
	err         error
}

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.checkoutURL, nil
}

func (p *stubProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.portalURL, nil
}

func (p *stubProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.snapshot == nil {
		return nil, errors.New("no snapshot scripted")
	}
	return p.snapshot, nil
}

type testEnv struct {
	server   *Server
	store    *apiStore
	provider *stubProvider
	sessions *auth.SessionManager
	mock     sqlmock.Sqlmock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := newAPIStore()
	sessions := auth.NewSessionManager(db, store, time.Hour)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	provider := &stubProvider{
		checkoutURL: "https://checkout.stripe.com/c/pay/cs_test",
		portalURL:   "https://billing.stripe.com/p/session/test",
	}

	retry := billing.NewRetryPolicy(billing.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})
	reconciler := billing.NewReconciler(store, provider, billing.NewMemoryDeduper(128, time.Hour), retry, logger, nil)

	cfg := &config.Config{
		Billing: config.BillingConfig{
			AppBaseURL:    testBaseURL,
			WebhookSecret: testWebhookSecret,
		},
	}

	server := NewServer(Options{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Sessions:   sessions,
		Hasher:     auth.NewHasher(4),
		Verifier:   billing.NewVerifier(testWebhookSecret, 5*time.Minute, nil),
		Reconciler: reconciler,
		Provider:   provider,
	})

	return &testEnv{
		server:   server,
		store:    store,
		provider: provider,
		sessions: sessions,
		mock:     mock,
	}
}

// expectSessionInsert arms the mock for one session creation
func (e *testEnv) expectSessionInsert() {
	e.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// loginAs creates a live session for the account and returns its cookie
func (e *testEnv) loginAs(t *testing.T, accountID string) *http.Cookie {
	t.Helper()
	e.expectSessionInsert()
	token, _, err := e.sessions.Create(context.Background(), accountID)
	require.NoError(t, err)
	return &http.Cookie{Name: middleware.SessionCookieName, Value: token}
}
