package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store used to observe cache behavior
type fakeStore struct {
	accounts map[string]*Account
	findByID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*Account)}
}

func (f *fakeStore) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = "acct-" + account.Email
	}
	f.accounts[account.ID] = account
	return nil
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*Account, error) {
	f.findByID++
	if a, ok := f.accounts[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (f *fakeStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	for _, a := range f.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) FindByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	for _, a := range f.accounts {
		if a.StripeCustomerID == customerID {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error) {
	for _, a := range f.accounts {
		if a.StripeSubscriptionID == subscriptionID {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) LinkCustomer(ctx context.Context, accountID, customerID string) error {
	a, ok := f.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.StripeCustomerID != "" && a.StripeCustomerID != customerID {
		return ErrCustomerMismatch
	}
	a.StripeCustomerID = customerID
	return nil
}

func (f *fakeStore) ApplySubscription(ctx context.Context, accountID string, state SubscriptionState, eventAt time.Time) (bool, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return false, ErrNotFound
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

func (f *fakeStore) ClearSubscription(ctx context.Context, accountID string, eventAt time.Time) (bool, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return false, ErrNotFound
	}
	if !a.BillingSyncedAt.IsZero() && a.BillingSyncedAt.After(eventAt) {
		return false, nil
	}
	a.StripeSubscriptionID = ""
	a.StripePriceID = ""
	a.StripeCurrentPeriodEnd = time.Time{}
	a.BillingSyncedAt = eventAt
	return true, nil
}

func (f *fakeStore) ListLapsedSubscriptions(ctx context.Context, before time.Time) ([]*Account, error) {
	var result []*Account
	for _, a := range f.accounts {
		if a.SubscriptionLapsed(before) {
			result = append(result, a)
		}
	}
	return result, nil
}

func TestCachedStoreServesReadsFromCache(t *testing.T) {
	backend := newFakeStore()
	store := NewCachedStore(backend, 100, time.Minute)
	ctx := context.Background()

	account := &Account{Email: "user@example.com"}
	require.NoError(t, store.Create(ctx, account))

	// Create primes the cache; repeated reads never hit the backend
	for i := 0; i < 3; i++ {
		got, err := store.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.Email, got.Email)
	}
	assert.Equal(t, 0, backend.findByID)
}

func TestCachedStoreInvalidatesOnWrite(t *testing.T) {
	backend := newFakeStore()
	store := NewCachedStore(backend, 100, time.Minute)
	ctx := context.Background()

	account := &Account{Email: "user@example.com"}
	require.NoError(t, store.Create(ctx, account))
	require.NoError(t, store.LinkCustomer(ctx, account.ID, "cus_123"))

	applied, err := store.ApplySubscription(ctx, account.ID, SubscriptionState{
		SubscriptionID:   "sub_123",
		PriceID:          "price_123",
		CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour),
	}, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	got, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_123", got.StripeSubscriptionID)
	assert.Equal(t, "price_123", got.StripePriceID)
	assert.Equal(t, 1, backend.findByID)
}

func TestCachedStoreLookupByAnyKey(t *testing.T) {
	backend := newFakeStore()
	store := NewCachedStore(backend, 100, time.Minute)
	ctx := context.Background()

	account := &Account{Email: "user@example.com"}
	require.NoError(t, store.Create(ctx, account))
	require.NoError(t, store.LinkCustomer(ctx, account.ID, "cus_123"))

	byCustomer, err := store.FindByCustomerID(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byCustomer.ID)

	byEmail, err := store.FindByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, byEmail.ID)
}

func TestCachedStoreClearSubscriptionInvalidates(t *testing.T) {
	backend := newFakeStore()
	store := NewCachedStore(backend, 100, time.Minute)
	ctx := context.Background()

	account := &Account{Email: "user@example.com"}
	require.NoError(t, store.Create(ctx, account))

	eventAt := time.Now()
	applied, err := store.ApplySubscription(ctx, account.ID, SubscriptionState{
		SubscriptionID: "sub_123",
	}, eventAt)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = store.ClearSubscription(ctx, account.ID, eventAt.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, got.Subscribed())
}

func TestCachedStoreMissFallsThrough(t *testing.T) {
	backend := newFakeStore()
	store := NewCachedStore(backend, 100, time.Minute)

	_, err := store.FindByID(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, backend.findByID)
}
