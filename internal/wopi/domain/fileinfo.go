package domain

// CheckFileInfo is the document metadata and capability set returned to the
// editor server when it opens a session. Field names follow the WOPI wire
// format and must not change.
type CheckFileInfo struct {
	BaseFileName string `json:"BaseFileName"`
	Size         int64  `json:"Size"`
	Version      string `json:"Version"`

	OwnerID string `json:"OwnerId"`
	UserID  string `json:"UserId"`

	UserFriendlyName string `json:"UserFriendlyName"`
	IsAdminUser      bool   `json:"IsAdminUser"`
	IsAnonymousUser  bool   `json:"IsAnonymousUser,omitempty"`

	UserExtraInfo map[string]any `json:"UserExtraInfo,omitempty"`

	UserCanWrite              bool   `json:"UserCanWrite"`
	UserCanNotWriteRelative   bool   `json:"UserCanNotWriteRelative"`
	SupportsRename            bool   `json:"SupportsRename"`
	UserCanRename             bool   `json:"UserCanRename"`
	SupportsLocks             bool   `json:"SupportsLocks"`
	SupportsUpdate            bool   `json:"SupportsUpdate"`
	DisablePrint              bool   `json:"DisablePrint"`
	DisableExport             bool   `json:"DisableExport"`
	DisableCopy               bool   `json:"DisableCopy"`
	HideDownloadOption        bool   `json:"HideDownloadOption,omitempty"`
	HideExportOption          bool   `json:"HideExportOption,omitempty"`
	HidePrintOption           bool   `json:"HidePrintOption,omitempty"`
	HideUserList              string `json:"HideUserList,omitempty"`
	EnableOwnerTermination    bool   `json:"EnableOwnerTermination"`
	DisableChangeTrackingShow bool   `json:"DisableChangeTrackingShow,omitempty"`

	PostMessageOrigin string `json:"PostMessageOrigin,omitempty"`

	LastModifiedTime string `json:"LastModifiedTime"`

	TemplateSource string `json:"TemplateSource,omitempty"`

	EnableInsertRemoteImage bool `json:"EnableInsertRemoteImage,omitempty"`
	EnableShare             bool `json:"EnableShare,omitempty"`

	// WatermarkText is rendered across every page when set.
	WatermarkText string `json:"WatermarkText,omitempty"`
}
