package httpx

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/harbourshare/wopihost/pkg/slogx"
)

// ParseAllowList parses a list of CIDR ranges or single addresses into
// prefixes. Single addresses are treated as /32 (or /128 for IPv6).
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse allow list entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse allow list entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// AllowIPs restricts requests to clients within the given prefixes. An empty
// list disables filtering entirely and every client is admitted.
func AllowIPs(prefixes []netip.Prefix) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(prefixes) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			raw := IPKeyExtractor(r)
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				slogx.FromContext(r.Context()).Warn("allow list: unparseable client address",
					"remote", raw,
				)
				WriteStatus(w, http.StatusForbidden)
				return
			}
			addr = addr.Unmap()

			for _, prefix := range prefixes {
				if prefix.Contains(addr) {
					next.ServeHTTP(w, r)
					return
				}
			}

			slogx.FromContext(r.Context()).Warn("allow list: client rejected",
				"remote", addr.String(),
			)
			WriteStatus(w, http.StatusForbidden)
		})
	}
}
