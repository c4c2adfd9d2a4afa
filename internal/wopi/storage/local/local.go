// Package local implements storage on a plain directory tree. Each user owns
// a home under the root; file ids are stable integers kept in an index that
// is assigned on first sight and persists for the lifetime of the process.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/spf13/afero"
)

func writeFlags() int {
	return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
}

const (
	filesDir     = "files"
	versionsDir  = "versions"
	templatesDir = "templates"
)

// Store keeps documents under root/<user>/files and revision snapshots under
// root/<user>/versions/<id>/<unix-nano>.
type Store struct {
	fs afero.Fs

	mu      sync.Mutex
	byID    map[int64]indexEntry
	byPath  map[string]int64
	remotes map[int64]storage.RemoteMount
	nextID  int64
}

type indexEntry struct {
	userID string
	rel    string // path relative to the user's files dir
}

func New(fs afero.Fs) *Store {
	return &Store{
		fs:      fs,
		byID:    make(map[int64]indexEntry),
		byPath:  make(map[string]int64),
		remotes: make(map[int64]storage.RemoteMount),
		nextID:  1,
	}
}

// RegisterRemoteMount marks a file id as backed by a federated remote. The
// id does not need to exist locally.
func (s *Store) RegisterRemoteMount(fileID int64, mount storage.RemoteMount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remotes[fileID] = mount
}

// Seed places content at path for the user and returns the assigned file id.
// Intended for tests and bootstrap fixtures.
func (s *Store) Seed(userID, rel string, content []byte) (int64, error) {
	full := s.fullPath(userID, rel)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(s.fs, full, content, 0o644); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idForLocked(userID, rel), nil
}

func (s *Store) fullPath(userID, rel string) string {
	return path.Join("/", userID, filesDir, strings.TrimPrefix(rel, "/"))
}

func (s *Store) idForLocked(userID, rel string) int64 {
	key := userID + ":" + path.Clean("/"+rel)
	if id, ok := s.byPath[key]; ok {
		return id
	}
	id := s.nextID
	s.nextID++
	s.byPath[key] = id
	s.byID[id] = indexEntry{userID: userID, rel: path.Clean("/" + rel)}
	return id
}

func (s *Store) lookup(fileID int64) (indexEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[fileID]
	return e, ok
}

func (s *Store) rename(fileID int64, newRel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[fileID]
	if !ok {
		return
	}
	delete(s.byPath, e.userID+":"+e.rel)
	e.rel = path.Clean("/" + newRel)
	s.byID[fileID] = e
	s.byPath[e.userID+":"+e.rel] = fileID
}

func (s *Store) Stat(ctx context.Context, userID string, fileID int64) (*storage.FileInfo, error) {
	e, ok := s.lookup(fileID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.userID != userID {
		return nil, storage.ErrForbidden
	}

	fi, err := s.fs.Stat(s.fullPath(e.userID, e.rel))
	if err != nil {
		return nil, storage.ErrNotFound
	}

	info := &storage.FileInfo{
		ID:      fileID,
		Name:    path.Base(e.rel),
		Path:    e.rel,
		Size:    fi.Size(),
		Mtime:   fi.ModTime(),
		OwnerID: e.userID,
	}

	s.mu.Lock()
	if m, ok := s.remotes[fileID]; ok {
		mount := m
		info.Remote = &mount
	}
	s.mu.Unlock()

	return info, nil
}

func (s *Store) Read(ctx context.Context, userID string, fileID int64, version int64) (io.ReadCloser, error) {
	e, ok := s.lookup(fileID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.userID != userID {
		return nil, storage.ErrForbidden
	}

	p := s.fullPath(e.userID, e.rel)
	if version != 0 {
		p = path.Join("/", e.userID, versionsDir, strconv.FormatInt(fileID, 10), strconv.FormatInt(version, 10))
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return f, nil
}

func (s *Store) Write(ctx context.Context, userID string, fileID int64, content io.Reader) (*storage.FileInfo, error) {
	e, ok := s.lookup(fileID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.userID != userID {
		return nil, storage.ErrForbidden
	}

	full := s.fullPath(e.userID, e.rel)

	if err := s.snapshot(e, fileID, full); err != nil {
		return nil, fmt.Errorf("snapshot revision: %w", err)
	}

	f, err := s.fs.OpenFile(full, writeFlags(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("open for write: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return nil, fmt.Errorf("write content: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return s.Stat(ctx, userID, fileID)
}

// snapshot copies the current content into the versions tree keyed by its
// mtime, so the revision a session last saw stays readable.
func (s *Store) snapshot(e indexEntry, fileID int64, full string) error {
	fi, err := s.fs.Stat(full)
	if err != nil {
		// Nothing to snapshot for a brand new file.
		return nil
	}

	src, err := s.fs.Open(full)
	if err != nil {
		return err
	}
	defer src.Close()

	dir := path.Join("/", e.userID, versionsDir, strconv.FormatInt(fileID, 10))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst, err := s.fs.OpenFile(path.Join(dir, strconv.FormatInt(fi.ModTime().Unix(), 10)), writeFlags(), 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Store) Create(ctx context.Context, userID string, rel string, content io.Reader) (*storage.FileInfo, error) {
	full := s.fullPath(userID, rel)

	if _, err := s.fs.Stat(full); err == nil {
		return nil, storage.ErrExists
	}

	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create parent: %w", err)
	}

	f, err := s.fs.OpenFile(full, writeFlags(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return nil, fmt.Errorf("write content: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.idForLocked(userID, rel)
	s.mu.Unlock()

	return s.Stat(ctx, userID, id)
}

func (s *Store) Move(ctx context.Context, userID string, fileID int64, newName string) (*storage.FileInfo, error) {
	e, ok := s.lookup(fileID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.userID != userID {
		return nil, storage.ErrForbidden
	}

	newRel := path.Join(path.Dir(e.rel), newName)
	newFull := s.fullPath(e.userID, newRel)

	if newRel != e.rel {
		if _, err := s.fs.Stat(newFull); err == nil {
			return nil, storage.ErrExists
		}
	}

	if err := s.fs.Rename(s.fullPath(e.userID, e.rel), newFull); err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}

	s.rename(fileID, newRel)
	return s.Stat(ctx, userID, fileID)
}

func (s *Store) EnsureFolder(ctx context.Context, userID string, rel string) error {
	return s.fs.MkdirAll(s.fullPath(userID, rel), 0o755)
}

func (s *Store) ParentPath(ctx context.Context, userID string, fileID int64) (string, error) {
	e, ok := s.lookup(fileID)
	if !ok {
		return "", storage.ErrNotFound
	}
	if e.userID != userID {
		return "", storage.ErrForbidden
	}
	return path.Dir(e.rel), nil
}

func (s *Store) UniqueName(ctx context.Context, userID string, dir string, name string) (string, error) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 2; ; i++ {
		if _, err := s.fs.Stat(s.fullPath(userID, path.Join(dir, candidate))); err != nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		if i > 1000 {
			return "", fmt.Errorf("no free name for %q in %q", name, dir)
		}
	}
}
