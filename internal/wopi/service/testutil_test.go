package service

import (
	"context"
	"sync"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/store"
)

// memStore is a map-backed store.Store for service tests. Transactions are
// pass-through; the tests exercise service logic, not storage atomicity.
type memStore struct {
	mu      sync.Mutex
	tokens  map[string]domain.AccessToken // keyed by opaque value
	directs map[string]domain.DirectOpen  // keyed by opaque value

	// failTokenCreates makes the next n CreateToken calls collide.
	failTokenCreates int
}

func newMemStore() *memStore {
	return &memStore{
		tokens:  make(map[string]domain.AccessToken),
		directs: make(map[string]domain.DirectOpen),
	}
}

func (m *memStore) Tokens() store.Tokens   { return (*memTokens)(m) }
func (m *memStore) Directs() store.Directs { return (*memDirects)(m) }

func (m *memStore) ApplyMigrations() error { return nil }
func (m *memStore) Close() error           { return nil }

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) Tx(ctx context.Context) (store.Tx, error) { return (*memTx)(m), nil }

func (m *memStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return fn((*memTx)(m))
}

type memTx memStore

func (t *memTx) Commit() error   { return nil }
func (t *memTx) Rollback() error { return nil }

func (t *memTx) Tokens() store.Tokens   { return (*memTokens)(t) }
func (t *memTx) Directs() store.Directs { return (*memDirects)(t) }

func (t *memTx) ApplyMigrations() error { return nil }
func (t *memTx) Close() error           { return nil }

func (t *memTx) Ping(ctx context.Context) error { return nil }

func (t *memTx) Tx(ctx context.Context) (store.Tx, error) { return t, nil }

func (t *memTx) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return fn(t)
}

type memTokens memStore

func (r *memTokens) CreateToken(ctx context.Context, t domain.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failTokenCreates > 0 {
		r.failTokenCreates--
		return store.ErrAlreadyExists
	}
	if _, exists := r.tokens[t.Token]; exists {
		return store.ErrAlreadyExists
	}
	r.tokens[t.Token] = t
	return nil
}

func (r *memTokens) GetTokenByValue(ctx context.Context, token string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[token]
	if !ok {
		return domain.AccessToken{}, store.ErrNotFound
	}
	return t, nil
}

func (r *memTokens) UpdateFederation(ctx context.Context, t domain.AccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for value, existing := range r.tokens {
		if existing.ID == t.ID {
			existing.GuestDisplayName = t.GuestDisplayName
			existing.CanWrite = t.CanWrite
			existing.ShareToken = t.ShareToken
			existing.TokenType = t.TokenType
			existing.RemoteServer = t.RemoteServer
			existing.RemoteServerToken = t.RemoteServerToken
			r.tokens[value] = existing
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *memTokens) ClearTemplate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for value, existing := range r.tokens {
		if existing.ID == id {
			existing.TemplateID = 0
			r.tokens[value] = existing
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *memTokens) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for value, existing := range r.tokens {
		if int(n) >= limit {
			break
		}
		if existing.Expiry.Before(cutoff) {
			delete(r.tokens, value)
			n++
		}
	}
	return n, nil
}

type memDirects memStore

func (r *memDirects) CreateDirect(ctx context.Context, d domain.DirectOpen) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.directs[d.Token]; exists {
		return store.ErrAlreadyExists
	}
	r.directs[d.Token] = d
	return nil
}

func (r *memDirects) GetDirectByToken(ctx context.Context, token string) (domain.DirectOpen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.directs[token]
	if !ok {
		return domain.DirectOpen{}, store.ErrNotFound
	}
	return d, nil
}

func (r *memDirects) DeleteDirect(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, d := range r.directs {
		if d.ID == id {
			delete(r.directs, token)
			return nil
		}
	}
	return store.ErrNotFound
}
