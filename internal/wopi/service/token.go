package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/store"
	"github.com/harbourshare/wopihost/pkg/cryptox"
	"github.com/harbourshare/wopihost/pkg/idx"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

var (
	// ErrUnknownToken means the presented value matches no stored record.
	ErrUnknownToken = errors.New("unknown_token")
	// ErrExpiredToken means the record exists but its TTL has lapsed.
	ErrExpiredToken = errors.New("expired_token")
	// ErrUnknownDirect means the direct-open link is unknown or already used.
	ErrUnknownDirect = errors.New("unknown_direct_token")
)

// mintAttempts bounds how often a colliding opaque value is regenerated.
const mintAttempts = 5

// maxGuestNameLen keeps the display name within the column the editor
// renders, suffix included.
const maxGuestNameLen = 223

// TokenService mints and resolves the opaque access tokens behind every
// editing session.
type TokenService struct {
	Store     store.Store
	TTL       time.Duration
	ServerURL string

	now func() time.Time
}

func (s *TokenService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// IssueRequest describes the session a new token should represent.
type IssueRequest struct {
	FileID              int64
	OwnerID             string
	EditorID            string
	Version             int64
	CanWrite            bool
	HideDownload        bool
	Direct              bool
	GuestDisplayName    string
	TemplateID          int64
	TemplateDestination int64
	ShareToken          string
	TokenType           domain.TokenType
}

// Issue mints a fresh access token. The opaque value is regenerated on the
// rare unique collision.
func (s *TokenService) Issue(ctx context.Context, req IssueRequest) (domain.AccessToken, error) {
	now := s.clock()

	tok := domain.AccessToken{
		FileID:              req.FileID,
		OwnerID:             req.OwnerID,
		EditorID:            req.EditorID,
		Version:             req.Version,
		CanWrite:            req.CanWrite,
		HideDownload:        req.HideDownload,
		Direct:              req.Direct,
		ServerHost:          s.ServerURL,
		GuestDisplayName:    req.GuestDisplayName,
		TemplateID:          req.TemplateID,
		TemplateDestination: req.TemplateDestination,
		ShareToken:          req.ShareToken,
		TokenType:           req.TokenType,
		Expiry:              now.Add(s.TTL),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	for attempt := 0; attempt < mintAttempts; attempt++ {
		value, err := cryptox.GenerateToken(cryptox.AccessTokenLength)
		if err != nil {
			return domain.AccessToken{}, fmt.Errorf("generate token: %w", err)
		}
		tok.ID = idx.New().String()
		tok.Token = value

		err = s.Store.Tokens().CreateToken(ctx, tok)
		if err == nil {
			slogx.FromContext(ctx).Info("access token issued",
				slog.Int64("file_id", tok.FileID),
				slog.String("token_type", tok.TokenType.String()),
			)
			return tok, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return domain.AccessToken{}, err
		}
	}

	return domain.AccessToken{}, fmt.Errorf("token value collision persisted after %d attempts", mintAttempts)
}

// IssueInitiator mints a token that identifies the local user towards a
// federated partner. It points at no file and grants no file access.
func (s *TokenService) IssueInitiator(ctx context.Context, localUserID string) (domain.AccessToken, error) {
	return s.Issue(ctx, IssueRequest{
		FileID:    0,
		OwnerID:   localUserID,
		EditorID:  localUserID,
		TokenType: domain.TokenTypeInitiator,
	})
}

// Resolve maps an opaque value back to its record. Unknown values return
// ErrUnknownToken; lapsed records are returned alongside ErrExpiredToken so
// callers can still inspect them.
func (s *TokenService) Resolve(ctx context.Context, value string) (domain.AccessToken, error) {
	tok, err := s.Store.Tokens().GetTokenByValue(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessToken{}, ErrUnknownToken
		}
		return domain.AccessToken{}, err
	}

	if tok.Expired(s.clock()) {
		return tok, ErrExpiredToken
	}
	return tok, nil
}

// UpgradeToRemote rewrites the token with the remote identity learned during
// a federation exchange and persists the change.
func (s *TokenService) UpgradeToRemote(ctx context.Context, tok *domain.AccessToken, up domain.FederationUpgrade) error {
	tok.UpgradeFederation(up)
	if err := s.Store.Tokens().UpdateFederation(ctx, *tok); err != nil {
		return fmt.Errorf("persist federation upgrade: %w", err)
	}

	slogx.FromContext(ctx).Info("token upgraded to remote session",
		slog.Int64("file_id", tok.FileID),
		slog.String("remote_server", tok.RemoteServer),
		slog.String("token_type", tok.TokenType.String()),
	)
	return nil
}

// ClearTemplate detaches the template source once it has seeded the file.
func (s *TokenService) ClearTemplate(ctx context.Context, tok *domain.AccessToken) error {
	tok.ClearTemplate()
	return s.Store.Tokens().ClearTemplate(ctx, tok.ID)
}

// DirectIssueRequest describes the single-use link a direct-open record backs.
// The initiator fields carry the federated caller that asked for the link, so
// the session minted on redemption can be tied back to them.
type DirectIssueRequest struct {
	UserID         string
	FileID         int64
	TemplateID     int64
	InitiatorHost  string
	InitiatorToken string
}

// IssueDirect mints a single-use direct-open record.
func (s *TokenService) IssueDirect(ctx context.Context, req DirectIssueRequest) (domain.DirectOpen, error) {
	d := domain.DirectOpen{
		UserID:         req.UserID,
		FileID:         req.FileID,
		TemplateID:     req.TemplateID,
		InitiatorHost:  req.InitiatorHost,
		InitiatorToken: req.InitiatorToken,
		CreatedAt:      s.clock(),
	}

	for attempt := 0; attempt < mintAttempts; attempt++ {
		value, err := cryptox.GenerateToken(cryptox.AccessTokenLength)
		if err != nil {
			return domain.DirectOpen{}, fmt.Errorf("generate token: %w", err)
		}
		d.ID = idx.New().String()
		d.Token = value

		err = s.Store.Directs().CreateDirect(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return domain.DirectOpen{}, err
		}
	}

	return domain.DirectOpen{}, fmt.Errorf("token value collision persisted after %d attempts", mintAttempts)
}

// RedeemDirect resolves a direct-open record and deletes it in the same
// transaction, so a link works exactly once.
func (s *TokenService) RedeemDirect(ctx context.Context, value string) (domain.DirectOpen, error) {
	var d domain.DirectOpen
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		got, err := tx.Directs().GetDirectByToken(ctx, value)
		if err != nil {
			return err
		}
		if err := tx.Directs().DeleteDirect(ctx, got.ID); err != nil {
			return err
		}
		d = got
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.DirectOpen{}, ErrUnknownDirect
		}
		return domain.DirectOpen{}, err
	}
	return d, nil
}

// UpgradeFromDirectInitiator links a session minted from a direct-open record
// back to the federated server that requested the link. Records without an
// initiator leave the token untouched.
func (s *TokenService) UpgradeFromDirectInitiator(ctx context.Context, d domain.DirectOpen, tok *domain.AccessToken) error {
	if d.InitiatorHost == "" {
		return nil
	}
	return s.UpgradeToRemote(ctx, tok, domain.FederationUpgrade{
		RemoteServer:      d.InitiatorHost,
		RemoteServerToken: d.InitiatorToken,
		RemoteEditorUID:   d.UserID,
		RemoteCanWrite:    true,
	})
}

// RandomGuestID produces the anonymous identity shown for sessions without
// a display name, e.g. "Guest-3fA7bQ9c".
func RandomGuestID() string {
	return "Guest-" + cryptox.MustGenerateToken(8)
}

// PrepareGuestName normalises a visitor-chosen display name: trimmed,
// defaulted, truncated, and marked with a guest suffix.
func PrepareGuestName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Guest"
	}

	const suffix = " (Guest)"
	if len(name) > maxGuestNameLen-len(suffix) {
		name = name[:maxGuestNameLen-len(suffix)]
	}
	return name + suffix
}
