package local

import (
	"context"
	"io"
	"path"
	"sync"

	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/spf13/afero"
)

// Templates serves template documents from a flat directory under the root.
type Templates struct {
	fs afero.Fs

	mu     sync.Mutex
	byID   map[int64]string
	nextID int64
}

func NewTemplates(fs afero.Fs) *Templates {
	return &Templates{
		fs:     fs,
		byID:   make(map[int64]string),
		nextID: 1,
	}
}

// SeedTemplate stores content under the templates directory and returns the
// assigned template id.
func (t *Templates) SeedTemplate(name string, content []byte) (int64, error) {
	full := path.Join("/", templatesDir, name)
	if err := t.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(t.fs, full, content, 0o644); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.byID[id] = full
	return id, nil
}

func (t *Templates) StatTemplate(ctx context.Context, templateID int64) (*storage.FileInfo, error) {
	t.mu.Lock()
	full, ok := t.byID[templateID]
	t.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	fi, err := t.fs.Stat(full)
	if err != nil {
		return nil, storage.ErrNotFound
	}

	return &storage.FileInfo{
		ID:    templateID,
		Name:  path.Base(full),
		Path:  full,
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
	}, nil
}

func (t *Templates) ReadTemplate(ctx context.Context, templateID int64) (io.ReadCloser, error) {
	t.mu.Lock()
	full, ok := t.byID[templateID]
	t.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	f, err := t.fs.Open(full)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return f, nil
}
