package domain

import "time"

// DirectOpen is a single-use record behind a direct-open link. Redeeming it
// deletes the record and mints a regular session token, so a leaked link can
// be used at most once.
type DirectOpen struct {
	ID    string
	Token string

	UserID     string
	FileID     int64
	TemplateID int64

	// InitiatorHost and InitiatorToken let a federated partner attach the
	// originating server when it redeems the link.
	InitiatorHost  string
	InitiatorToken string

	CreatedAt time.Time
}
