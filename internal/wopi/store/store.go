package store

import (
	"context"
	"errors"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Tokens() Tokens
	Directs() Directs

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g. redeeming a
	// single-use direct-open record).
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back; otherwise it
	// is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Tokens interface {
	// CreateToken stores a freshly minted access token record. Returns
	// ErrAlreadyExists if the opaque token value collides.
	CreateToken(ctx context.Context, t domain.AccessToken) error

	// GetTokenByValue resolves the opaque token value presented on a WOPI
	// request. Expired records are still returned; the caller decides how
	// to signal expiry.
	GetTokenByValue(ctx context.Context, token string) (domain.AccessToken, error)

	// UpdateFederation persists the remote identity fields after a
	// federation upgrade. Everything else on the record stays untouched.
	UpdateFederation(ctx context.Context, t domain.AccessToken) error

	// ClearTemplate zeroes the template source after first save.
	ClearTemplate(ctx context.Context, id string) error

	// DeleteExpired removes up to limit records whose expiry is before
	// cutoff and reports how many were deleted.
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type Directs interface {
	// CreateDirect stores a single-use direct-open record.
	CreateDirect(ctx context.Context, d domain.DirectOpen) error

	// GetDirectByToken resolves a direct-open token.
	GetDirectByToken(ctx context.Context, token string) (domain.DirectOpen, error)

	// DeleteDirect removes a record. Redemption deletes inside the same
	// transaction that resolved it so each record is used at most once.
	DeleteDirect(ctx context.Context, id string) error
}
