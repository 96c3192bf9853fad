package accounts

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore wraps a Store with an in-memory LRU read cache. Lookups by any
// key hit the same cached record; every write invalidates the account's
// entries so webhook updates are never served stale past the TTL.
type CachedStore struct {
	store Store
	cache *lru.LRU[string, *Account]
}

// NewCachedStore creates a caching decorator over the given store
func NewCachedStore(store Store, maxEntries int, ttl time.Duration) *CachedStore {
	if maxEntries < 10 {
		maxEntries = 10
	}

	return &CachedStore{
		store: store,
		cache: lru.NewLRU[string, *Account](maxEntries, nil, ttl),
	}
}

func (c *CachedStore) Create(ctx context.Context, account *Account) error {
	if err := c.store.Create(ctx, account); err != nil {
		return err
	}
	c.add(account)
	return nil
}

func (c *CachedStore) FindByID(ctx context.Context, id string) (*Account, error) {
	return c.lookup(ctx, "id:"+id, func() (*Account, error) {
		return c.store.FindByID(ctx, id)
	})
}

func (c *CachedStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return c.lookup(ctx, "email:"+email, func() (*Account, error) {
		return c.store.FindByEmail(ctx, email)
	})
}

func (c *CachedStore) FindByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	return c.lookup(ctx, "customer:"+customerID, func() (*Account, error) {
		return c.store.FindByCustomerID(ctx, customerID)
	})
}

func (c *CachedStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error) {
	return c.lookup(ctx, "subscription:"+subscriptionID, func() (*Account, error) {
		return c.store.FindBySubscriptionID(ctx, subscriptionID)
	})
}

func (c *CachedStore) LinkCustomer(ctx context.Context, accountID, customerID string) error {
	if err := c.store.LinkCustomer(ctx, accountID, customerID); err != nil {
		return err
	}
	c.invalidate(accountID)
	return nil
}

func (c *CachedStore) ApplySubscription(ctx context.Context, accountID string, state SubscriptionState, eventAt time.Time) (bool, error) {
	applied, err := c.store.ApplySubscription(ctx, accountID, state, eventAt)
	if err != nil {
		return false, err
	}
	if applied {
		c.invalidate(accountID)
	}
	return applied, nil
}

func (c *CachedStore) ClearSubscription(ctx context.Context, accountID string, eventAt time.Time) (bool, error) {
	applied, err := c.store.ClearSubscription(ctx, accountID, eventAt)
	if err != nil {
		return false, err
	}
	if applied {
		c.invalidate(accountID)
	}
	return applied, nil
}

// ListLapsedSubscriptions always goes to the database; the sweep must not
// act on cached billing state.
func (c *CachedStore) ListLapsedSubscriptions(ctx context.Context, before time.Time) ([]*Account, error) {
	return c.store.ListLapsedSubscriptions(ctx, before)
}

func (c *CachedStore) lookup(ctx context.Context, key string, fetch func() (*Account, error)) (*Account, error) {
	if account, ok := c.cache.Get(key); ok {
		return account, nil
	}

	account, err := fetch()
	if err != nil {
		return nil, err
	}

	c.add(account)
	return account, nil
}

func (c *CachedStore) add(account *Account) {
	c.cache.Add("id:"+account.ID, account)
	c.cache.Add("email:"+account.Email, account)
	if account.StripeCustomerID != "" {
		c.cache.Add("customer:"+account.StripeCustomerID, account)
	}
	if account.StripeSubscriptionID != "" {
		c.cache.Add("subscription:"+account.StripeSubscriptionID, account)
	}
}

func (c *CachedStore) invalidate(accountID string) {
	account, ok := c.cache.Get("id:" + accountID)
	c.cache.Remove("id:" + accountID)
	if !ok {
		return
	}

	c.cache.Remove("email:" + account.Email)
	if account.StripeCustomerID != "" {
		c.cache.Remove("customer:" + account.StripeCustomerID)
	}
	if account.StripeSubscriptionID != "" {
		c.cache.Remove("subscription:" + account.StripeSubscriptionID)
	}
}
