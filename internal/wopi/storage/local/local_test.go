package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestStoreStatReadWrite(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	id, err := s.Seed("alice", "/docs/report.odt", []byte("v1"))
	require.NoError(t, err)

	info, err := s.Stat(ctx, "alice", id)
	require.NoError(t, err)
	require.Equal(t, "report.odt", info.Name)
	require.Equal(t, "/docs/report.odt", info.Path)
	require.Equal(t, int64(2), info.Size)
	require.Equal(t, "alice", info.OwnerID)
	require.Nil(t, info.Remote)

	rc, err := s.Read(ctx, "alice", id, 0)
	require.NoError(t, err)
	require.Equal(t, "v1", readAll(t, rc))

	_, err = s.Write(ctx, "alice", id, strings.NewReader("version two"))
	require.NoError(t, err)

	rc, err = s.Read(ctx, "alice", id, 0)
	require.NoError(t, err)
	require.Equal(t, "version two", readAll(t, rc))
}

func TestStoreRevisionSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	id, err := s.Seed("alice", "/notes.txt", []byte("old"))
	require.NoError(t, err)

	before, err := s.Stat(ctx, "alice", id)
	require.NoError(t, err)

	_, err = s.Write(ctx, "alice", id, strings.NewReader("new"))
	require.NoError(t, err)

	rc, err := s.Read(ctx, "alice", id, before.Mtime.Unix())
	require.NoError(t, err)
	require.Equal(t, "old", readAll(t, rc))
}

func TestStoreAccessControl(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	id, err := s.Seed("alice", "/doc.txt", []byte("x"))
	require.NoError(t, err)

	_, err = s.Stat(ctx, "mallory", id)
	require.ErrorIs(t, err, storage.ErrForbidden)

	_, err = s.Stat(ctx, "alice", 999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreCreateAndMove(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	info, err := s.Create(ctx, "alice", "/new/doc.odt", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, "/new/doc.odt", info.Path)

	_, err = s.Create(ctx, "alice", "/new/doc.odt", strings.NewReader("again"))
	require.ErrorIs(t, err, storage.ErrExists)

	moved, err := s.Move(ctx, "alice", info.ID, "renamed.odt")
	require.NoError(t, err)
	require.Equal(t, "/new/renamed.odt", moved.Path)

	parent, err := s.ParentPath(ctx, "alice", info.ID)
	require.NoError(t, err)
	require.Equal(t, "/new", parent)
}

func TestStoreMoveCollision(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	id, err := s.Seed("alice", "/a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = s.Seed("alice", "/b.txt", []byte("b"))
	require.NoError(t, err)

	_, err = s.Move(ctx, "alice", id, "b.txt")
	require.ErrorIs(t, err, storage.ErrExists)
}

func TestStoreUniqueName(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	_, err := s.Seed("alice", "/docs/File.odt", []byte("x"))
	require.NoError(t, err)

	name, err := s.UniqueName(ctx, "alice", "/docs", "Other.odt")
	require.NoError(t, err)
	require.Equal(t, "Other.odt", name)

	name, err = s.UniqueName(ctx, "alice", "/docs", "File.odt")
	require.NoError(t, err)
	require.Equal(t, "File (2).odt", name)

	_, err = s.Seed("alice", "/docs/File (2).odt", []byte("x"))
	require.NoError(t, err)

	name, err = s.UniqueName(ctx, "alice", "/docs", "File.odt")
	require.NoError(t, err)
	require.Equal(t, "File (3).odt", name)
}

func TestStoreRemoteMount(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs())

	id, err := s.Seed("alice", "/shared/remote.odt", []byte("x"))
	require.NoError(t, err)

	s.RegisterRemoteMount(id, storage.RemoteMount{
		Host:         "https://partner.example.com",
		ShareToken:   "sh42",
		InternalPath: "/on-remote.odt",
	})

	info, err := s.Stat(ctx, "alice", id)
	require.NoError(t, err)
	require.NotNil(t, info.Remote)
	require.Equal(t, "https://partner.example.com", info.Remote.Host)
	require.Equal(t, "sh42", info.Remote.ShareToken)
}

func TestTemplates(t *testing.T) {
	ctx := context.Background()
	tpl := NewTemplates(afero.NewMemMapFs())

	id, err := tpl.SeedTemplate("invoice.ott", []byte("template-bytes"))
	require.NoError(t, err)

	info, err := tpl.StatTemplate(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "invoice.ott", info.Name)

	rc, err := tpl.ReadTemplate(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "template-bytes", readAll(t, rc))

	_, err = tpl.StatTemplate(ctx, 99)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
