package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harbourshare/wopihost/pkg/cachex"
)

const discoveryCacheTTL = time.Hour

// DiscoveryService proxies the editor server's capability document
// (/hosting/discovery) so clients learn which formats the editor handles
// without talking to it directly.
type DiscoveryService struct {
	Client    *http.Client
	EditorURL string

	cache *cachex.Memory[[]byte]
}

func NewDiscoveryService(client *http.Client, editorURL string) *DiscoveryService {
	return &DiscoveryService{
		Client:    client,
		EditorURL: editorURL,
		cache:     cachex.NewMemory[[]byte](),
	}
}

// Discovery returns the raw discovery XML, cached for an hour.
func (s *DiscoveryService) Discovery(ctx context.Context) ([]byte, error) {
	if body, ok := s.cache.Get("discovery"); ok {
		return body, nil
	}

	url := strings.TrimRight(s.EditorURL, "/") + "/hosting/discovery"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch editor discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("editor discovery answered %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	s.cache.Set("discovery", body, discoveryCacheTTL)
	return body, nil
}

// Invalidate drops the cached document, forcing a refetch on next use.
func (s *DiscoveryService) Invalidate() {
	s.cache.Delete("discovery")
}

// wopiDiscovery mirrors the parts of the discovery XML we read. The editor
// groups actions by app; the action's ext attribute names the file extension
// and urlsrc the launch URL.
type wopiDiscovery struct {
	NetZones []struct {
		Apps []struct {
			Actions []struct {
				Name   string `xml:"name,attr"`
				Ext    string `xml:"ext,attr"`
				URLSrc string `xml:"urlsrc,attr"`
			} `xml:"action"`
		} `xml:"app"`
	} `xml:"net-zone"`
}

// ActionURL resolves the editor launch URL for a file extension from the
// discovery document. The second return is false when the editor advertises
// no action for the extension or discovery is unavailable.
func (s *DiscoveryService) ActionURL(ctx context.Context, ext string) (string, bool) {
	body, err := s.Discovery(ctx)
	if err != nil {
		return "", false
	}

	var doc wopiDiscovery
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", false
	}

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var fallback string
	for _, zone := range doc.NetZones {
		for _, app := range zone.Apps {
			for _, action := range app.Actions {
				if action.URLSrc == "" {
					continue
				}
				if strings.EqualFold(action.Ext, ext) && (action.Name == "edit" || fallback == "") {
					if action.Name == "edit" {
						return action.URLSrc, true
					}
					fallback = action.URLSrc
				}
			}
		}
	}
	return fallback, fallback != ""
}
