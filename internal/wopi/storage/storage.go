// Package storage abstracts the backing document store. The WOPI engine only
// ever talks to these interfaces; the local driver is the default backend.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound means the file, template or share does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrForbidden means the acting user may not perform the operation.
	ErrForbidden = errors.New("storage: forbidden")
	// ErrExists means the target name is already taken.
	ErrExists = errors.New("storage: already exists")
	// ErrLocked means another party holds a lock in the requested class.
	ErrLocked = errors.New("storage: locked")
	// ErrOwnerLocked means a user's manual lock blocks the operation. Unlike
	// ErrLocked it is not transient and is surfaced as a locked status.
	ErrOwnerLocked = errors.New("storage: locked by owner")
	// ErrNoLockProvider means no lock backend is configured. Callers degrade
	// to lock-free operation.
	ErrNoLockProvider = errors.New("storage: no lock provider")
)

// RemoteMount describes a file that actually lives on a federated remote
// server and is only mounted here.
type RemoteMount struct {
	Host         string
	ShareToken   string
	InternalPath string
}

// FileInfo is the metadata the engine needs about a stored file.
type FileInfo struct {
	ID      int64
	Name    string
	Path    string
	Size    int64
	Mtime   time.Time
	OwnerID string

	// Remote is non-nil when the file is a mount of a federated share.
	Remote *RemoteMount
}

// FileStore reads and writes document content. Every operation runs as a
// specific user; drivers enforce that user's visibility and permissions.
type FileStore interface {
	// Stat returns metadata for a file by id.
	Stat(ctx context.Context, userID string, fileID int64) (*FileInfo, error)

	// Read opens file content. A version of 0 reads the current revision;
	// anything else selects a historical revision.
	Read(ctx context.Context, userID string, fileID int64, version int64) (io.ReadCloser, error)

	// Write replaces the current content and returns the new metadata.
	Write(ctx context.Context, userID string, fileID int64, content io.Reader) (*FileInfo, error)

	// Create makes a new file at path with the given content and returns
	// its metadata. Fails with ErrExists if the path is taken.
	Create(ctx context.Context, userID string, path string, content io.Reader) (*FileInfo, error)

	// Move renames a file within its parent folder.
	Move(ctx context.Context, userID string, fileID int64, newName string) (*FileInfo, error)

	// EnsureFolder creates the folder path if missing and returns nothing.
	EnsureFolder(ctx context.Context, userID string, path string) error

	// ParentPath returns the folder containing the file.
	ParentPath(ctx context.Context, userID string, fileID int64) (string, error)

	// UniqueName returns name if it is free in dir, otherwise a variant with
	// a numeric suffix before the extension.
	UniqueName(ctx context.Context, userID string, dir string, name string) (string, error)
}

// TemplateStore serves template content for seeding new documents.
type TemplateStore interface {
	// StatTemplate returns metadata for a template by id.
	StatTemplate(ctx context.Context, templateID int64) (*FileInfo, error)
	// ReadTemplate opens template content.
	ReadTemplate(ctx context.Context, templateID int64) (io.ReadCloser, error)
}

// Share is a resolved share link.
type Share struct {
	Token        string
	FileID       int64
	OwnerID      string
	CanWrite     bool
	HideDownload bool
}

// ShareResolver maps share tokens to shares.
type ShareResolver interface {
	ResolveShare(ctx context.Context, token string) (*Share, error)
}

// LockType partitions locks into independent classes so a collaborative
// editing lock does not collide with, say, a sync client lock.
type LockType int

const (
	LockTypeCollaborative LockType = iota
	LockTypeExclusive
	// LockTypeUser is a manual lock a user placed on the file. It blocks
	// acquisitions in every class until its owner releases it.
	LockTypeUser
)

// LockScope identifies a lock: which file, which class, and which owner
// string the locking app presents.
type LockScope struct {
	FileID int64
	Type   LockType
	Owner  string
}

// Lock is a held lock on a file.
type Lock struct {
	Scope     LockScope
	CreatedAt time.Time
	TTL       time.Duration
}

// LockProvider manages advisory file locks. Re-locking by the holder
// refreshes the lease. Implementations must return ErrLocked when a different
// owner holds the file in the requested class and ErrOwnerLocked when a
// user's manual lock blocks the acquisition.
type LockProvider interface {
	Lock(ctx context.Context, scope LockScope, ttl time.Duration) error
	Unlock(ctx context.Context, scope LockScope) error
	Locks(ctx context.Context, fileID int64) ([]Lock, error)
}
