package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

var (
	// ErrNotAllowed means the session lacks permission for the operation.
	ErrNotAllowed = errors.New("not_allowed")
	// ErrDocumentChanged means the document moved on since the editor last
	// read it. The stale save is rejected without touching the file.
	ErrDocumentChanged = errors.New("document_changed")
)

// LockConflictError reports a WOPI lock mismatch together with the lock the
// file currently carries, which the response echoes in X-WOPI-Lock.
type LockConflictError struct {
	CurrentLock string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock conflict, current lock %q", e.CurrentLock)
}

const (
	// wopiLockTTL follows the WOPI convention of 30 minute lock leases.
	wopiLockTTL = 30 * time.Minute

	// appLockOwner is the owner string for the internal write lock taken
	// around saves and renames.
	appLockOwner = "wopihost"

	// defaultNewFileName replaces targets that arrive as a bare extension.
	defaultNewFileName = "New File"
)

// DocumentService implements the per-file WOPI operations on top of the
// storage abstractions.
type DocumentService struct {
	Files     storage.FileStore
	Templates storage.TemplateStore
	Locks     storage.LockProvider
	Tokens    *TokenService
	Retry     RetryPolicy
	ServerURL string

	// Federation resolves live initiator details for sessions that were
	// upgraded through the federation exchange. Optional.
	Federation *FederationService

	// WatermarkText is rendered across documents for guest viewers when set.
	WatermarkText string
}

// FileForToken stats the file a session points at, acting as the session's
// effective user.
func (s *DocumentService) FileForToken(ctx context.Context, tok *domain.AccessToken) (*storage.FileInfo, error) {
	return s.Files.Stat(ctx, tok.UserForFileAccess(), tok.FileID)
}

// StatFile stats a file acting as the given user.
func (s *DocumentService) StatFile(ctx context.Context, userID string, fileID int64) (*storage.FileInfo, error) {
	return s.Files.Stat(ctx, userID, fileID)
}

// formatTimestamp renders the modification time the way CheckFileInfo
// advertises it. Conflict detection compares these strings byte for byte.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CheckFileInfo builds the session descriptor the editor fetches when it
// opens a document.
func (s *DocumentService) CheckFileInfo(ctx context.Context, tok *domain.AccessToken) (*domain.CheckFileInfo, error) {
	info, err := s.FileForToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	userID := tok.EditorID
	if userID == "" {
		userID = RandomGuestID()
	}

	friendly := tok.GuestDisplayName
	if friendly == "" {
		if tok.EditorID != "" {
			friendly = tok.EditorID
		} else {
			friendly = userID
		}
	}

	// Historical revisions are always read-only.
	canWrite := tok.CanWrite && tok.Version == 0

	fi := &domain.CheckFileInfo{
		BaseFileName: info.Name,
		Size:         info.Size,
		Version:      strconv.FormatInt(info.Mtime.Unix(), 10),

		OwnerID:          tok.OwnerID,
		UserID:           userID,
		UserFriendlyName: friendly,
		IsAnonymousUser:  tok.IsAnonymous(),

		UserCanWrite:            canWrite,
		UserCanNotWriteRelative: !canWrite,
		SupportsUpdate:          true,
		SupportsLocks:           s.Locks != nil,
		SupportsRename:          canWrite && tok.ShareToken == "",
		UserCanRename:           canWrite && tok.ShareToken == "",

		DisablePrint:       tok.HideDownload,
		DisableExport:      tok.HideDownload,
		DisableCopy:        tok.HideDownload,
		HideDownloadOption: tok.HideDownload,
		HideExportOption:   tok.HideDownload,
		HidePrintOption:    tok.HideDownload,

		EnableOwnerTermination: tok.EditorID != "" && tok.EditorID == tok.OwnerID,

		PostMessageOrigin: tok.ServerHost,
		LastModifiedTime:  formatTimestamp(info.Mtime),
	}

	if tok.HasTemplateID() {
		fi.TemplateSource = fmt.Sprintf("%s/wopi/template/%d?access_token=%s",
			s.ServerURL, tok.TemplateID, tok.Token)
	}

	if s.WatermarkText != "" && tok.IsGuest() {
		fi.WatermarkText = s.WatermarkText
	}

	if tok.IsRemoteToken() {
		s.applyFederationFileInfo(ctx, tok, fi)
	}

	return fi, nil
}

// applyFederationFileInfo rewrites the descriptor for sessions that arrived
// through a federated partner: the identity shown is the initiator's, fetched
// live from the remote. A failed exchange silently keeps the stored fields.
func (s *DocumentService) applyFederationFileInfo(ctx context.Context, tok *domain.AccessToken, fi *domain.CheckFileInfo) {
	fi.UserID = RandomGuestID()
	if tok.TokenType == domain.TokenTypeRemoteUser {
		fi.UserID = tok.GuestDisplayName
		fi.UserFriendlyName = tok.GuestDisplayName
	}

	if s.Federation == nil {
		return
	}

	initiator := s.Federation.RemoteFileDetails(ctx, tok.RemoteServer, tok.RemoteServerToken)
	if initiator == nil {
		return
	}

	fi.UserFriendlyName = PrepareGuestName(initiator.GuestDisplayName)
	if initiator.TemplateID != 0 {
		fi.TemplateSource = fmt.Sprintf("%s/wopi/template/%d?access_token=%s",
			remoteBaseURL(tok.RemoteServer), initiator.TemplateID, tok.RemoteServerToken)
	}
}

// ReadFile opens the content a GET /contents request should stream. Sessions
// still carrying a template source serve the template until the first save
// materialises the file.
func (s *DocumentService) ReadFile(ctx context.Context, tok *domain.AccessToken) (io.ReadCloser, error) {
	if tok.HasTemplateID() {
		return s.Templates.ReadTemplate(ctx, tok.TemplateID)
	}
	return s.Files.Read(ctx, tok.UserForFileAccess(), tok.FileID, tok.Version)
}

// ReadTemplate serves raw template content for a template-bearing session.
func (s *DocumentService) ReadTemplate(ctx context.Context, templateID int64) (io.ReadCloser, error) {
	return s.Templates.ReadTemplate(ctx, templateID)
}

// SaveRequest carries a PutFile body and its concurrency headers.
type SaveRequest struct {
	Content io.Reader

	// WopiTimestamp is the modification time the editor last saw. When set
	// and stale the save is rejected.
	WopiTimestamp string

	IsAutosave       bool
	IsExitSave       bool
	IsModifiedByUser bool
}

// SaveResult reports the state of the file after a successful save.
type SaveResult struct {
	Info             *storage.FileInfo
	LastModifiedTime string
}

// Save replaces the document content. The write happens under the internal
// write lock, waiting out transient foreign locks per the retry policy.
func (s *DocumentService) Save(ctx context.Context, tok *domain.AccessToken, req SaveRequest) (*SaveResult, error) {
	if !tok.CanWrite || tok.Version != 0 {
		return nil, ErrNotAllowed
	}

	user := tok.UserForFileAccess()

	info, err := s.Files.Stat(ctx, user, tok.FileID)
	if err != nil {
		return nil, err
	}

	if req.WopiTimestamp != "" && req.WopiTimestamp != formatTimestamp(info.Mtime) {
		slogx.FromContext(ctx).Info("rejecting stale save",
			slog.Int64("file_id", tok.FileID),
			slog.String("editor_saw", req.WopiTimestamp),
			slog.String("current", formatTimestamp(info.Mtime)),
		)
		return nil, ErrDocumentChanged
	}

	var saved *storage.FileInfo
	err = s.withWriteLock(ctx, tok.FileID, func() error {
		var werr error
		saved, werr = s.Files.Write(ctx, user, tok.FileID, req.Content)
		return werr
	})
	if err != nil {
		return nil, err
	}

	if tok.HasTemplateID() {
		// The first save materialises the templated file; later saves are
		// ordinary writes.
		if err := s.Tokens.ClearTemplate(ctx, tok); err != nil {
			return nil, fmt.Errorf("clear template source: %w", err)
		}
	}

	slogx.FromContext(ctx).Info("document saved",
		slog.Int64("file_id", tok.FileID),
		slog.Int64("size", saved.Size),
		slog.Bool("autosave", req.IsAutosave),
		slog.Bool("exit_save", req.IsExitSave),
	)

	return &SaveResult{Info: saved, LastModifiedTime: formatTimestamp(saved.Mtime)}, nil
}

// PutRelativeRequest carries a save-as request. SuggestedTarget is advisory
// and gets uniquified; RelativeTarget demands that exact name.
type PutRelativeRequest struct {
	SuggestedTarget string
	Content         io.Reader
}

// PutRelativeResult names the new file and the WOPI URL a fresh session can
// reach it under.
type PutRelativeResult struct {
	Name string
	URL  string
}

// PutRelative stores the document under a new name next to the original.
func (s *DocumentService) PutRelative(ctx context.Context, tok *domain.AccessToken, req PutRelativeRequest) (*PutRelativeResult, error) {
	if !tok.CanWrite {
		return nil, ErrNotAllowed
	}

	user := tok.UserForFileAccess()

	dir, name, err := s.resolveTarget(ctx, user, tok.FileID, req.SuggestedTarget)
	if err != nil {
		return nil, err
	}

	if err := s.Files.EnsureFolder(ctx, user, dir); err != nil {
		return nil, fmt.Errorf("ensure target folder: %w", err)
	}

	unique, err := s.Files.UniqueName(ctx, user, dir, name)
	if err != nil {
		return nil, err
	}

	info, err := s.Files.Create(ctx, user, path.Join(dir, unique), req.Content)
	if err != nil {
		return nil, err
	}

	// Epub targets keep the session on its current token; everything else
	// gets a fresh session bound to the new file.
	tokenValue := tok.Token
	if !strings.EqualFold(path.Ext(unique), ".epub") {
		fresh, err := s.Tokens.Issue(ctx, IssueRequest{
			FileID:           info.ID,
			OwnerID:          tok.OwnerID,
			EditorID:         tok.EditorID,
			CanWrite:         true,
			HideDownload:     tok.HideDownload,
			GuestDisplayName: tok.GuestDisplayName,
			TokenType:        tok.TokenType,
		})
		if err != nil {
			return nil, fmt.Errorf("issue token for new file: %w", err)
		}
		tokenValue = fresh.Token
	}

	slogx.FromContext(ctx).Info("document stored under new name",
		slog.Int64("source_file_id", tok.FileID),
		slog.Int64("file_id", info.ID),
		slog.String("name", unique),
	)

	return &PutRelativeResult{
		Name: unique,
		URL:  fmt.Sprintf("%s/wopi/files/%d?access_token=%s", s.ServerURL, info.ID, tokenValue),
	}, nil
}

// resolveTarget turns a suggested target into a folder and file name. A bare
// extension becomes a default name, a leading slash addresses the user root,
// anything else lands next to the current file.
func (s *DocumentService) resolveTarget(ctx context.Context, user string, fileID int64, target string) (dir, name string, err error) {
	target = strings.TrimSpace(target)

	if strings.HasPrefix(target, "/") {
		dir = path.Dir(target)
		name = path.Base(target)
	} else {
		dir, err = s.Files.ParentPath(ctx, user, fileID)
		if err != nil {
			return "", "", err
		}
		name = path.Base(target)
	}

	if name == "" || name == "." || name == "/" {
		name = defaultNewFileName
	} else if strings.HasPrefix(name, ".") {
		// A bare extension like ".odt" means "same folder, pick a name".
		name = defaultNewFileName + name
	}

	return dir, name, nil
}

// Rename changes the file's name in place, keeping it in its folder.
func (s *DocumentService) Rename(ctx context.Context, tok *domain.AccessToken, requestedName string) (string, error) {
	if !tok.CanWrite || tok.ShareToken != "" {
		return "", ErrNotAllowed
	}

	user := tok.UserForFileAccess()

	name := path.Base(strings.TrimSpace(requestedName))
	if name == "" || name == "." || strings.HasPrefix(name, ".") {
		name = defaultNewFileName + path.Ext(name)
	}

	var renamed *storage.FileInfo
	err := s.withWriteLock(ctx, tok.FileID, func() error {
		info, err := s.Files.Move(ctx, user, tok.FileID, name)
		if errors.Is(err, storage.ErrExists) {
			dir, perr := s.Files.ParentPath(ctx, user, tok.FileID)
			if perr != nil {
				return perr
			}
			unique, uerr := s.Files.UniqueName(ctx, user, dir, name)
			if uerr != nil {
				return uerr
			}
			info, err = s.Files.Move(ctx, user, tok.FileID, unique)
		}
		renamed = info
		return err
	})
	if err != nil {
		return "", err
	}

	slogx.FromContext(ctx).Info("document renamed",
		slog.Int64("file_id", tok.FileID),
		slog.String("name", renamed.Name),
	)
	return renamed.Name, nil
}

// withWriteLock runs fn holding the internal write lock for the file. With
// no lock provider configured the operation runs unguarded; a foreign lock in
// the write class is waited out per the retry policy. A user's manual lock is
// not transient and fails the operation immediately.
func (s *DocumentService) withWriteLock(ctx context.Context, fileID int64, fn func() error) error {
	if s.Locks == nil {
		return fn()
	}

	scope := storage.LockScope{FileID: fileID, Type: storage.LockTypeExclusive, Owner: appLockOwner}

	err := s.Retry.Do(func() error {
		return s.Locks.Lock(ctx, scope, wopiLockTTL)
	}, func(err error) bool {
		return errors.Is(err, storage.ErrLocked)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNoLockProvider) {
			return fn()
		}
		return err
	}
	defer func() {
		_ = s.Locks.Unlock(ctx, scope)
	}()

	return fn()
}

// collabLock reports the collaborative lock currently on the file, if any.
func (s *DocumentService) collabLock(ctx context.Context, fileID int64) (string, error) {
	if s.Locks == nil {
		return "", nil
	}
	locks, err := s.Locks.Locks(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNoLockProvider) {
			return "", nil
		}
		return "", err
	}
	for _, l := range locks {
		if l.Scope.Type == storage.LockTypeCollaborative {
			return l.Scope.Owner, nil
		}
	}
	return "", nil
}

// Lock takes or refreshes the WOPI collaborative lock identified by lockID.
// A lock already held by anyone else, manual or collaborative, answers as an
// owner-locked file.
func (s *DocumentService) Lock(ctx context.Context, tok *domain.AccessToken, lockID string) error {
	if s.Locks == nil {
		return nil
	}

	scope := storage.LockScope{FileID: tok.FileID, Type: storage.LockTypeCollaborative, Owner: lockID}
	err := s.Locks.Lock(ctx, scope, wopiLockTTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNoLockProvider):
		return nil
	case errors.Is(err, storage.ErrLocked):
		current, cerr := s.collabLock(ctx, tok.FileID)
		if cerr != nil {
			return cerr
		}
		return fmt.Errorf("held by %q: %w", current, storage.ErrOwnerLocked)
	default:
		return err
	}
}

// Unlock releases the collaborative lock. Releasing with the wrong id, or an
// unlocked file, reports a conflict carrying whatever lock is actually held.
func (s *DocumentService) Unlock(ctx context.Context, tok *domain.AccessToken, lockID string) error {
	if s.Locks == nil {
		return nil
	}

	scope := storage.LockScope{FileID: tok.FileID, Type: storage.LockTypeCollaborative, Owner: lockID}
	err := s.Locks.Unlock(ctx, scope)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNoLockProvider):
		return nil
	case errors.Is(err, storage.ErrNotFound):
		current, cerr := s.collabLock(ctx, tok.FileID)
		if cerr != nil {
			return cerr
		}
		return &LockConflictError{CurrentLock: current}
	default:
		return err
	}
}

// RefreshLock extends the lease on a held lock. Semantics match Lock: same
// owner refreshes, different owner conflicts.
func (s *DocumentService) RefreshLock(ctx context.Context, tok *domain.AccessToken, lockID string) error {
	return s.Lock(ctx, tok, lockID)
}

// GetLock returns the current collaborative lock id, empty when unlocked.
func (s *DocumentService) GetLock(ctx context.Context, tok *domain.AccessToken) (string, error) {
	return s.collabLock(ctx, tok.FileID)
}
