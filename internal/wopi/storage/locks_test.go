package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLockProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryLockProvider()

	alice := LockScope{FileID: 1, Type: LockTypeCollaborative, Owner: "alice"}
	bob := LockScope{FileID: 1, Type: LockTypeCollaborative, Owner: "bob"}

	require.NoError(t, p.Lock(ctx, alice, time.Minute))

	// The holder re-locking refreshes the lease.
	require.NoError(t, p.Lock(ctx, alice, time.Minute))

	// Different owner in the same class is rejected.
	require.ErrorIs(t, p.Lock(ctx, bob, time.Minute), ErrLocked)

	// A different lock class on the same file is independent.
	other := LockScope{FileID: 1, Type: LockTypeExclusive, Owner: "bob"}
	require.NoError(t, p.Lock(ctx, other, time.Minute))

	locks, err := p.Locks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, locks, 2)

	require.NoError(t, p.Unlock(ctx, alice))
	require.ErrorIs(t, p.Unlock(ctx, alice), ErrNotFound)
	require.NoError(t, p.Lock(ctx, bob, time.Minute))
}

func TestMemoryLockProviderUserLockBlocksEveryClass(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryLockProvider()

	manual := LockScope{FileID: 9, Type: LockTypeUser, Owner: "alice"}
	require.NoError(t, p.Lock(ctx, manual, time.Hour))

	// Nobody else gets a lock of any class while the manual lock is held.
	collab := LockScope{FileID: 9, Type: LockTypeCollaborative, Owner: "editor-lock"}
	require.ErrorIs(t, p.Lock(ctx, collab, time.Minute), ErrOwnerLocked)

	exclusive := LockScope{FileID: 9, Type: LockTypeExclusive, Owner: "wopihost"}
	require.ErrorIs(t, p.Lock(ctx, exclusive, time.Minute), ErrOwnerLocked)

	// The owner herself is not blocked.
	own := LockScope{FileID: 9, Type: LockTypeCollaborative, Owner: "alice"}
	require.NoError(t, p.Lock(ctx, own, time.Minute))

	require.NoError(t, p.Unlock(ctx, manual))
	require.NoError(t, p.Lock(ctx, exclusive, time.Minute))
}

func TestMemoryLockProviderExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewMemoryLockProviderWithClock(func() time.Time { return now })

	scope := LockScope{FileID: 7, Type: LockTypeCollaborative, Owner: "alice"}
	require.NoError(t, p.Lock(ctx, scope, time.Minute))

	now = now.Add(2 * time.Minute)

	other := LockScope{FileID: 7, Type: LockTypeCollaborative, Owner: "bob"}
	require.NoError(t, p.Lock(ctx, other, time.Minute))
}

func TestStaticShares(t *testing.T) {
	r := NewStaticShares(Share{Token: "sh1", FileID: 5, OwnerID: "alice", CanWrite: true})

	sh, err := r.ResolveShare(context.Background(), "sh1")
	require.NoError(t, err)
	require.Equal(t, int64(5), sh.FileID)

	_, err = r.ResolveShare(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
