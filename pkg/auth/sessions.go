package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/subloop/subloop/pkg/accounts"
)

// ErrInvalidSession is returned for unknown, expired, or revoked sessions
var ErrInvalidSession = errors.New("invalid session")

const (
	sessionCacheSize = 4096
	sessionCacheTTL  = 5 * time.Minute
)

// Session is a server-side login session. The plaintext token is handed to
// the client once; only its hash is kept.
type Session struct {
	TokenHash string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the session's expiry has passed
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionManager issues and validates opaque session tokens backed by the
// sessions table. Validation hits an in-process cache first; revocation
// evicts locally (other replicas converge when their cache entry expires).
type SessionManager struct {
	db    *sql.DB
	store accounts.Store
	ttl   time.Duration
	cache *lru.LRU[string, *Session]
}

// NewSessionManager creates a session manager with the given session lifetime
func NewSessionManager(db *sql.DB, store accounts.Store, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 168 * time.Hour
	}
	return &SessionManager{
		db:    db,
		store: store,
		ttl:   ttl,
		cache: lru.NewLRU[string, *Session](sessionCacheSize, nil, sessionCacheTTL),
	}
}

// Create issues a new session for the account and returns the plaintext
// token exactly once
func (m *SessionManager) Create(ctx context.Context, accountID string) (string, *Session, error) {
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}

	session := &Session{
		TokenHash: tokenHash,
		AccountID: accountID,
		ExpiresAt: time.Now().Add(m.ttl),
		CreatedAt: time.Now(),
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, account_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		session.TokenHash, session.AccountID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.cache.Add(tokenHash, session)
	return token, session, nil
}

// Validate resolves a plaintext token to its account. Expired and unknown
// tokens return ErrInvalidSession.
func (m *SessionManager) Validate(ctx context.Context, token string) (*accounts.Account, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidSession
	}

	tokenHash := HashToken(token)

	session, ok := m.cache.Get(tokenHash)
	if !ok {
		var err error
		session, err = m.lookup(ctx, tokenHash)
		if err != nil {
			return nil, err
		}
		m.cache.Add(tokenHash, session)
	}

	if session.Expired(time.Now()) {
		m.cache.Remove(tokenHash)
		return nil, ErrInvalidSession
	}

	account, err := m.store.FindByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			// Account deleted out from under the session
			m.cache.Remove(tokenHash)
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("failed to load session account: %w", err)
	}
	return account, nil
}

// Revoke deletes the session for the given plaintext token. Revoking an
// unknown token is not an error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if err := ValidateTokenFormat(token); err != nil {
		return nil
	}

	tokenHash := HashToken(token)
	m.cache.Remove(tokenHash)

	if _, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAccount deletes every session belonging to an account
func (m *SessionManager) RevokeAccount(ctx context.Context, accountID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to revoke account sessions: %w", err)
	}
	// Cached entries for the account drain on their own TTL
	return nil
}

// PurgeExpired removes expired session rows and reports how many were deleted
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return result.RowsAffected()
}

func (m *SessionManager) lookup(ctx context.Context, tokenHash string) (*Session, error) {
	session := &Session{TokenHash: tokenHash}
	err := m.db.QueryRowContext(ctx,
		`SELECT account_id, expires_at, created_at FROM sessions WHERE token_hash = $1`,
		tokenHash,
	).Scan(&session.AccountID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return session, nil
}
