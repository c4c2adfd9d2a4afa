package domain

import (
	"fmt"
	"strings"
	"time"
)

// TokenType classifies who is behind an access token.
type TokenType int

const (
	// TokenTypeUser is a local authenticated user.
	TokenTypeUser TokenType = 0
	// TokenTypeGuest is an anonymous visitor on a public link.
	TokenTypeGuest TokenType = 1
	// TokenTypeRemoteUser is an authenticated user on a trusted remote server.
	TokenTypeRemoteUser TokenType = 2
	// TokenTypeRemoteGuest is an anonymous visitor arriving via a trusted
	// remote server.
	TokenTypeRemoteGuest TokenType = 3
	// TokenTypeInitiator identifies the server that initiated a federated
	// session. Initiator tokens grant no file access of their own.
	TokenTypeInitiator TokenType = 4
)

func (t TokenType) String() string {
	switch t {
	case TokenTypeUser:
		return "user"
	case TokenTypeGuest:
		return "guest"
	case TokenTypeRemoteUser:
		return "remote_user"
	case TokenTypeRemoteGuest:
		return "remote_guest"
	case TokenTypeInitiator:
		return "initiator"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// AccessToken is the stored session record behind a WOPI access token. The
// opaque Token value is the only thing the editor server ever sees; every
// WOPI request resolves it back to this record.
type AccessToken struct {
	ID     string
	Token  string // 32-char alphanumeric opaque value
	Expiry time.Time

	FileID  int64
	OwnerID string
	// EditorID is empty for anonymous sessions.
	EditorID string
	// Version selects a historical revision; 0 is the current file.
	Version int64

	CanWrite     bool
	HideDownload bool
	// Direct marks sessions opened through the single-use direct-open flow.
	Direct bool

	// ServerHost is the public base URL of this host at mint time, echoed
	// back in CheckFileInfo as PostMessageOrigin.
	ServerHost string

	GuestDisplayName string

	// TemplateID is set while a file is being seeded from a template. It is
	// cleared after the first successful save.
	TemplateID int64
	// TemplateDestination marks tokens minted to fill a template field
	// session rather than a document session.
	TemplateDestination int64

	// ShareToken is set when access was granted through a share link.
	ShareToken string

	TokenType TokenType

	// RemoteServer and RemoteServerToken are populated when the session was
	// upgraded through the federation exchange.
	RemoteServer      string
	RemoteServerToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
// A token whose expiry equals now is still valid.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.Expiry.Before(now)
}

// HasTemplateID reports whether the session still needs to seed its file
// from a template.
func (t *AccessToken) HasTemplateID() bool {
	return t.TemplateID != 0
}

// IsTemplateToken reports whether the session edits a template field target
// instead of a regular document.
func (t *AccessToken) IsTemplateToken() bool {
	return t.TemplateDestination != 0
}

// IsRemoteToken reports whether the session was upgraded through the
// federation exchange.
func (t *AccessToken) IsRemoteToken() bool {
	return t.TokenType == TokenTypeRemoteUser || t.TokenType == TokenTypeRemoteGuest
}

// IsAnonymous reports whether no local editor identity is attached.
func (t *AccessToken) IsAnonymous() bool {
	return t.EditorID == ""
}

// IsGuest reports whether the session should be presented as a guest.
func (t *AccessToken) IsGuest() bool {
	return t.TokenType == TokenTypeGuest || t.TokenType == TokenTypeRemoteGuest
}

// UserForFileAccess returns the local user identity filesystem operations run
// as. Share-based and remote sessions act as the file owner; otherwise the
// editor, falling back to the owner for anonymous sessions.
func (t *AccessToken) UserForFileAccess() string {
	if t.ShareToken != "" || t.IsRemoteToken() {
		return t.OwnerID
	}
	if t.EditorID != "" {
		return t.EditorID
	}
	return t.OwnerID
}

// ClearTemplate detaches the template source after it has been consumed.
// This is one of the two permitted post-mint mutations.
func (t *AccessToken) ClearTemplate() {
	t.TemplateID = 0
}

// FederationUpgrade carries the remote identity learned during a federation
// token exchange.
type FederationUpgrade struct {
	RemoteServer      string
	RemoteServerToken string
	RemoteEditorUID   string
	RemoteDisplayName string
	RemoteCanWrite    bool
	ShareToken        string
}

// UpgradeFederation rewrites the token with the identity of the remote
// session that redeemed it. Write permission is the intersection of what the
// local share allows and what the remote session holds. This is the second
// of the two permitted post-mint mutations and is idempotent.
func (t *AccessToken) UpgradeFederation(up FederationUpgrade) {
	t.RemoteServer = up.RemoteServer
	t.RemoteServerToken = up.RemoteServerToken
	if up.ShareToken != "" {
		t.ShareToken = up.ShareToken
	}

	host := strings.TrimPrefix(strings.TrimPrefix(up.RemoteServer, "https://"), "http://")
	if up.RemoteEditorUID != "" {
		t.TokenType = TokenTypeRemoteUser
		t.GuestDisplayName = up.RemoteEditorUID + "@" + host
	} else {
		t.TokenType = TokenTypeRemoteGuest
		if up.RemoteDisplayName != "" {
			t.GuestDisplayName = up.RemoteDisplayName + "@" + host
		}
	}

	t.CanWrite = t.CanWrite && up.RemoteCanWrite
}
