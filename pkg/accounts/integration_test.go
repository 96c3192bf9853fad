//go:build integration

package accounts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresTestDB creates a PostgreSQL test container with the schema applied
func setupPostgresTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("accounts_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, EnsureSchema(ctx, db), "Failed to apply schema")

	cleanup := func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func TestSQLStoreIntegration(t *testing.T) {
	db, cleanup := setupPostgresTestDB(t)
	defer cleanup()

	store := NewSQLStore(db)
	ctx := context.Background()

	account := &Account{Email: "user@example.com", Name: "Test User", PasswordHash: "hash"}
	require.NoError(t, store.Create(ctx, account))
	require.NotEmpty(t, account.ID)

	t.Run("duplicate email rejected", func(t *testing.T) {
		err := store.Create(ctx, &Account{Email: "user@example.com"})
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("customer link is set once", func(t *testing.T) {
		require.NoError(t, store.LinkCustomer(ctx, account.ID, "cus_123"))
		// Relinking the same customer is a no-op
		require.NoError(t, store.LinkCustomer(ctx, account.ID, "cus_123"))
		// A different customer is rejected
		assert.ErrorIs(t, store.LinkCustomer(ctx, account.ID, "cus_other"), ErrCustomerMismatch)
	})

	t.Run("subscription lifecycle", func(t *testing.T) {
		eventAt := time.Now().UTC().Truncate(time.Millisecond)
		periodEnd := eventAt.Add(30 * 24 * time.Hour)

		applied, err := store.ApplySubscription(ctx, account.ID, SubscriptionState{
			SubscriptionID:   "sub_123",
			PriceID:          "price_123",
			CurrentPeriodEnd: periodEnd,
		}, eventAt)
		require.NoError(t, err)
		require.True(t, applied)

		got, err := store.FindBySubscriptionID(ctx, "sub_123")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.Equal(t, "price_123", got.StripePriceID)
		assert.WithinDuration(t, periodEnd, got.StripeCurrentPeriodEnd, time.Second)

		// A stale event is ignored
		applied, err = store.ApplySubscription(ctx, account.ID, SubscriptionState{
			SubscriptionID:   "sub_123",
			PriceID:          "price_old",
			CurrentPeriodEnd: periodEnd.Add(-time.Hour),
		}, eventAt.Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, applied)

		got, err = store.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "price_123", got.StripePriceID)

		// Cancellation clears the fields but keeps the customer link
		applied, err = store.ClearSubscription(ctx, account.ID, eventAt.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, applied)

		got, err = store.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, got.Subscribed())
		assert.Empty(t, got.StripePriceID)
		assert.True(t, got.StripeCurrentPeriodEnd.IsZero())
		assert.Equal(t, "cus_123", got.StripeCustomerID)
	})

	t.Run("lapsed subscription sweep", func(t *testing.T) {
		lapsedAccount := &Account{Email: "lapsed@example.com"}
		require.NoError(t, store.Create(ctx, lapsedAccount))
		require.NoError(t, store.LinkCustomer(ctx, lapsedAccount.ID, "cus_lapsed"))

		eventAt := time.Now().Add(-48 * time.Hour)
		applied, err := store.ApplySubscription(ctx, lapsedAccount.ID, SubscriptionState{
			SubscriptionID:   "sub_lapsed",
			PriceID:          "price_123",
			CurrentPeriodEnd: time.Now().Add(-24 * time.Hour),
		}, eventAt)
		require.NoError(t, err)
		require.True(t, applied)

		lapsed, err := store.ListLapsedSubscriptions(ctx, time.Now())
		require.NoError(t, err)
		require.Len(t, lapsed, 1)
		assert.Equal(t, lapsedAccount.ID, lapsed[0].ID)
	})
}
