package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/harbourshare/wopihost/internal/wopi/domain"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/pkg/cachex"
	"github.com/harbourshare/wopihost/pkg/cryptox"
	"github.com/harbourshare/wopihost/pkg/slogx"
)

var (
	// ErrUntrustedRemote means the remote host is not on the trust list. No
	// network traffic is sent to untrusted hosts.
	ErrUntrustedRemote = errors.New("untrusted_remote")
	// ErrRemoteUnavailable means a trusted remote could not be resolved to a
	// working editor endpoint.
	ErrRemoteUnavailable = errors.New("remote_unavailable")
)

const (
	discoveryPositiveTTL = time.Hour
	discoveryNegativeTTL = 5 * time.Minute
)

type discoveryEntry struct {
	wopiURL string
	ok      bool
}

// FederationService handles trust between partnered hosts: advertising our
// own endpoints, validating remote sessions, and routing users to the host
// that actually holds a mounted file.
type FederationService struct {
	Client    *http.Client
	Tokens    *TokenService
	ServerURL string
	EditorURL string

	trustedExact    map[string]struct{}
	trustedPatterns []*regexp.Regexp

	discovery *cachex.Memory[discoveryEntry]
	details   *cachex.Memory[*domain.RemoteWopiDetails]
}

// NewFederationService compiles the trust list. Entries may be plain hosts
// ("partner.example.com") or wildcard patterns ("*.example.com").
func NewFederationService(client *http.Client, tokens *TokenService, serverURL, editorURL string, trustedRemotes []string) (*FederationService, error) {
	s := &FederationService{
		Client:          client,
		Tokens:          tokens,
		ServerURL:       serverURL,
		EditorURL:       editorURL,
		trustedExact:    make(map[string]struct{}),
		trustedPatterns: nil,
		discovery:       cachex.NewMemory[discoveryEntry](),
		details:         cachex.NewMemory[*domain.RemoteWopiDetails](),
	}

	for _, entry := range trustedRemotes {
		host := normalizeHost(entry)
		if host == "" {
			continue
		}
		if !strings.Contains(host, "*") {
			s.trustedExact[host] = struct{}{}
			continue
		}
		pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(host), `\*`, ".*") + "$"
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile trusted remote pattern %q: %w", entry, err)
		}
		s.trustedPatterns = append(s.trustedPatterns, re)
	}

	return s, nil
}

// normalizeHost strips scheme, path and trailing slashes so trust checks
// compare bare hosts.
func normalizeHost(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

// Capabilities is what we advertise to partnered hosts.
func (s *FederationService) Capabilities() domain.FederationCapabilities {
	return domain.FederationCapabilities{
		WopiURL:   s.ServerURL,
		EditorURL: s.EditorURL,
	}
}

// IsTrustedRemote reports whether the host may take part in federation. Our
// own host is always trusted.
func (s *FederationService) IsTrustedRemote(remote string) bool {
	host := normalizeHost(remote)
	if host == "" {
		return false
	}
	if host == normalizeHost(s.ServerURL) {
		return true
	}
	if _, ok := s.trustedExact[host]; ok {
		return true
	}
	for _, re := range s.trustedPatterns {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// RemoteEditorEndpoint discovers where a trusted remote's editor lives.
// Results are cached for an hour, failures for five minutes.
func (s *FederationService) RemoteEditorEndpoint(ctx context.Context, remote string) (string, error) {
	if !s.IsTrustedRemote(remote) {
		return "", ErrUntrustedRemote
	}

	host := normalizeHost(remote)
	if entry, ok := s.discovery.Get(host); ok {
		if !entry.ok {
			return "", ErrRemoteUnavailable
		}
		return entry.wopiURL, nil
	}

	caps, err := s.fetchCapabilities(ctx, remote)
	if err != nil {
		slogx.FromContext(ctx).Warn("federation discovery failed",
			slog.String("remote", host),
			slog.String("error", err.Error()),
		)
		s.discovery.Set(host, discoveryEntry{}, discoveryNegativeTTL)
		return "", ErrRemoteUnavailable
	}

	s.discovery.Set(host, discoveryEntry{wopiURL: caps.WopiURL, ok: true}, discoveryPositiveTTL)
	return caps.WopiURL, nil
}

func (s *FederationService) fetchCapabilities(ctx context.Context, remote string) (domain.FederationCapabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteBaseURL(remote)+"/api/v1/federation", nil)
	if err != nil {
		return domain.FederationCapabilities{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return domain.FederationCapabilities{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.FederationCapabilities{}, fmt.Errorf("remote answered %d", resp.StatusCode)
	}

	var caps domain.FederationCapabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return domain.FederationCapabilities{}, err
	}
	if caps.WopiURL == "" {
		return domain.FederationCapabilities{}, errors.New("remote advertised no wopi url")
	}
	return caps, nil
}

func remoteBaseURL(remote string) string {
	if strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://") {
		return strings.TrimRight(remote, "/")
	}
	return "https://" + strings.TrimRight(normalizeHost(remote), "/")
}

// RemoteFileDetails asks a trusted remote to describe the session behind one
// of its tokens. Successful answers are cached for the token's lifetime; any
// failure yields nil.
func (s *FederationService) RemoteFileDetails(ctx context.Context, remote, remoteToken string) *domain.RemoteWopiDetails {
	if !s.IsTrustedRemote(remote) {
		return nil
	}

	key := cryptox.FingerprintToken(normalizeHost(remote) + "|" + remoteToken)
	if d, ok := s.details.Get(key); ok {
		return d
	}

	body, err := json.Marshal(map[string]string{"token": remoteToken})
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		remoteBaseURL(remote)+"/api/v1/federation", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		slogx.FromContext(ctx).Warn("federation token exchange failed",
			slog.String("remote", normalizeHost(remote)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var details domain.RemoteWopiDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil
	}

	s.details.Set(key, &details, 0)
	return &details
}

// SessionDetails answers a partner's token exchange: it resolves one of our
// own tokens and describes the session behind it.
func (s *FederationService) SessionDetails(ctx context.Context, value string) (*domain.RemoteWopiDetails, error) {
	tok, err := s.Tokens.Resolve(ctx, value)
	if err != nil {
		return nil, err
	}

	return &domain.RemoteWopiDetails{
		OwnerUID:         tok.OwnerID,
		EditorUID:        tok.EditorID,
		GuestDisplayName: tok.GuestDisplayName,
		CanWrite:         tok.CanWrite,
		HideDownload:     tok.HideDownload,
		Direct:           tok.Direct,
		ServerHost:       tok.ServerHost,
		ShareToken:       tok.ShareToken,
		TemplateID:       tok.TemplateID,
	}, nil
}

// RemoteRedirectURL builds the URL a user should be bounced to when the file
// behind their session actually lives on a partnered host. The initiator
// token minted for the hop identifies localUserID towards the remote. Returns
// "" when the file is locally backed.
func (s *FederationService) RemoteRedirectURL(ctx context.Context, info *storage.FileInfo, localUserID string) (string, error) {
	if info.Remote == nil {
		return "", nil
	}

	endpoint, err := s.RemoteEditorEndpoint(ctx, info.Remote.Host)
	if err != nil {
		if errors.Is(err, ErrUntrustedRemote) {
			return "", err
		}
		return "", ErrRemoteUnavailable
	}

	initiator, err := s.Tokens.IssueInitiator(ctx, localUserID)
	if err != nil {
		return "", fmt.Errorf("issue initiator token: %w", err)
	}

	return fmt.Sprintf("%s/wopi/remote?shareToken=%s&remoteServer=%s&remoteServerToken=%s",
		strings.TrimRight(endpoint, "/"),
		info.Remote.ShareToken,
		s.ServerURL,
		initiator.Token,
	), nil
}
