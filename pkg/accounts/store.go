package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is the persistence contract for accounts. Implementations must make
// ApplySubscription and ClearSubscription atomic per account: concurrent
// callers for the same account serialize, and a stale event (older than the
// last applied one) is reported as not applied rather than an error.
type Store interface {
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByCustomerID(ctx context.Context, customerID string) (*Account, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error)

	// LinkCustomer records the provider customer ID on the account. The
	// link is set-once: relinking the same customer is a no-op, a
	// different customer returns ErrCustomerMismatch.
	LinkCustomer(ctx context.Context, accountID, customerID string) error

	// ApplySubscription updates the subscription fields as a unit. Returns
	// false when the event is older than the account's last applied event.
	ApplySubscription(ctx context.Context, accountID string, state SubscriptionState, eventAt time.Time) (bool, error)

	// ClearSubscription removes the subscription fields, keeping the
	// customer link. Returns false when the event is stale.
	ClearSubscription(ctx context.Context, accountID string, eventAt time.Time) (bool, error)

	// ListLapsedSubscriptions returns accounts whose recorded period end
	// is before the given time.
	ListLapsedSubscriptions(ctx context.Context, before time.Time) ([]*Account, error)
}

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// SQLStore implements Store on PostgreSQL
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a PostgreSQL-backed account store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const accountColumns = `
	id, email, name, password_hash, role,
	stripe_customer_id, stripe_subscription_id, stripe_price_id,
	stripe_current_period_end, billing_synced_at, created_at, updated_at
`

func (s *SQLStore) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Role == "" {
		account.Role = RoleMember
	}

	query := `
		INSERT INTO accounts (id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		account.ID,
		account.Email,
		account.Name,
		nullString(account.PasswordHash),
		string(account.Role),
	).Scan(&account.CreatedAt, &account.UpdatedAt)

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (*Account, error) {
	return s.findBy(ctx, "id", id)
}

func (s *SQLStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findBy(ctx, "email", email)
}

func (s *SQLStore) FindByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	return s.findBy(ctx, "stripe_customer_id", customerID)
}

func (s *SQLStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error) {
	return s.findBy(ctx, "stripe_subscription_id", subscriptionID)
}

func (s *SQLStore) findBy(ctx context.Context, column, value string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s = $1`, accountColumns, column)

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to find account by %s: %w", column, err)
	}

	return account, nil
}

func (s *SQLStore) LinkCustomer(ctx context.Context, accountID, customerID string) error {
	query := `
		UPDATE accounts
		SET stripe_customer_id = $2, updated_at = NOW()
		WHERE id = $1 AND (stripe_customer_id IS NULL OR stripe_customer_id = $2)
	`

	result, err := s.db.ExecContext(ctx, query, accountID, customerID)
	if err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing updated: either the account is missing or it is already
	// linked to a different customer.
	if _, err := s.FindByID(ctx, accountID); err != nil {
		return err
	}
	return ErrCustomerMismatch
}

func (s *SQLStore) ApplySubscription(ctx context.Context, accountID string, state SubscriptionState, eventAt time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET stripe_subscription_id = $2,
		    stripe_price_id = $3,
		    stripe_current_period_end = $4,
		    billing_synced_at = $5,
		    updated_at = NOW()
		WHERE id = $1 AND (billing_synced_at IS NULL OR billing_synced_at <= $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		accountID,
		state.SubscriptionID,
		nullString(state.PriceID),
		nullTime(state.CurrentPeriodEnd),
		eventAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to apply subscription: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	if _, err := s.FindByID(ctx, accountID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) ClearSubscription(ctx context.Context, accountID string, eventAt time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET stripe_subscription_id = NULL,
		    stripe_price_id = NULL,
		    stripe_current_period_end = NULL,
		    billing_synced_at = $2,
		    updated_at = NOW()
		WHERE id = $1 AND (billing_synced_at IS NULL OR billing_synced_at <= $2)
	`

	result, err := s.db.ExecContext(ctx, query, accountID, eventAt)
	if err != nil {
		return false, fmt.Errorf("failed to clear subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to clear subscription: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	if _, err := s.FindByID(ctx, accountID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) ListLapsedSubscriptions(ctx context.Context, before time.Time) ([]*Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE stripe_subscription_id IS NOT NULL
		  AND stripe_current_period_end IS NOT NULL
		  AND stripe_current_period_end < $1
		ORDER BY stripe_current_period_end ASC
	`, accountColumns)

	rows, err := s.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}
	defer rows.Close()

	var result []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		result = append(result, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}

	return result, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		account                                 Account
		passwordHash, customerID, subID, priceID sql.NullString
		periodEnd, syncedAt                     sql.NullTime
	)

	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Name,
		&passwordHash,
		&account.Role,
		&customerID,
		&subID,
		&priceID,
		&periodEnd,
		&syncedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.PasswordHash = passwordHash.String
	account.StripeCustomerID = customerID.String
	account.StripeSubscriptionID = subID.String
	account.StripePriceID = priceID.String
	if periodEnd.Valid {
		account.StripeCurrentPeriodEnd = periodEnd.Time
	}
	if syncedAt.Valid {
		account.BillingSyncedAt = syncedAt.Time
	}

	return &account, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
