package domain

// RemoteWopiDetails is the session descriptor a trusted remote host returns
// during the federation token exchange. Field names follow the wire format
// used by the federation endpoint.
type RemoteWopiDetails struct {
	OwnerUID         string `json:"ownerUid"`
	EditorUID        string `json:"editorUid"`
	GuestDisplayName string `json:"guestDisplayname"`
	CanWrite         bool   `json:"canwrite"`
	HideDownload     bool   `json:"hideDownload"`
	Direct           bool   `json:"direct"`
	ServerHost       string `json:"serverHost"`
	ShareToken       string `json:"shareToken"`
	// TemplateID is non-zero while the session is still seeding its file
	// from a template.
	TemplateID int64 `json:"templateId"`
}

// FederationCapabilities is what GET /api/v1/federation advertises: where
// this host's editor lives so a partner can route its users here.
type FederationCapabilities struct {
	WopiURL   string `json:"wopi_url"`
	EditorURL string `json:"editor_url"`
}
