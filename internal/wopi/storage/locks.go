package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryLockProvider is an in-process LockProvider. Lock state does not
// survive a restart, which matches the advisory nature of editing locks.
type MemoryLockProvider struct {
	mu    sync.Mutex
	locks map[LockScope]Lock
	now   func() time.Time
}

func NewMemoryLockProvider() *MemoryLockProvider {
	return &MemoryLockProvider{
		locks: make(map[LockScope]Lock),
		now:   time.Now,
	}
}

// NewMemoryLockProviderWithClock is used in tests.
func NewMemoryLockProviderWithClock(now func() time.Time) *MemoryLockProvider {
	return &MemoryLockProvider{
		locks: make(map[LockScope]Lock),
		now:   now,
	}
}

func (p *MemoryLockProvider) Lock(ctx context.Context, scope LockScope, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked()

	// A user's manual lock blocks every class for everyone else.
	for held := range p.locks {
		if held.FileID == scope.FileID && held.Type == LockTypeUser && held.Owner != scope.Owner {
			return ErrOwnerLocked
		}
	}

	for held := range p.locks {
		if held.FileID != scope.FileID || held.Type != scope.Type {
			continue
		}
		if held.Owner == scope.Owner {
			// Re-locking by the holder refreshes the TTL.
			p.locks[held] = Lock{Scope: held, CreatedAt: p.now(), TTL: ttl}
			return nil
		}
		return ErrLocked
	}

	p.locks[scope] = Lock{Scope: scope, CreatedAt: p.now(), TTL: ttl}
	return nil
}

func (p *MemoryLockProvider) Unlock(ctx context.Context, scope LockScope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked()

	if _, ok := p.locks[scope]; !ok {
		return ErrNotFound
	}
	delete(p.locks, scope)
	return nil
}

func (p *MemoryLockProvider) Locks(ctx context.Context, fileID int64) ([]Lock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.expireLocked()

	var out []Lock
	for _, l := range p.locks {
		if l.Scope.FileID == fileID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (p *MemoryLockProvider) expireLocked() {
	now := p.now()
	for scope, l := range p.locks {
		if l.TTL > 0 && now.After(l.CreatedAt.Add(l.TTL)) {
			delete(p.locks, scope)
		}
	}
}
