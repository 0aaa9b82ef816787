// ABOUTME: Network allowlist gate applied to every inbound connection
// ABOUTME: Matches forwarded or peer addresses against configured CIDR ranges

package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Gate classifies remote addresses against a configured allowlist.
// An empty allowlist admits every address (open mode).
type Gate struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New builds a Gate from allowlist entries. Each entry is either a plain
// address or a CIDR range. Invalid entries are rejected at construction so a
// typo cannot silently open the gateway.
func New(entries []string, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{logger: logger.With("component", "ipfilter")}

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		prefix, err := parseEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("parsing allowlist entry %q: %w", entry, err)
		}
		g.prefixes = append(g.prefixes, prefix)
	}
	return g, nil
}

// parseEntry accepts "10.0.0.0/8" or a single address like "192.168.0.5".
func parseEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		return netip.ParsePrefix(entry)
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Allowed reports whether the remote address may use the gateway.
// IPv4-mapped-IPv6 addresses are unmapped before matching. Unparseable
// addresses are denied unless the allowlist is empty.
func (g *Gate) Allowed(remote string) bool {
	if len(g.prefixes) == 0 {
		return true
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(remote))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range g.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Open reports whether the gate admits every address.
func (g *Gate) Open() bool {
	return len(g.prefixes) == 0
}

// ClientIP extracts the originating address of an HTTP request.
// The first entry of X-Forwarded-For wins over the transport peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests from addresses outside the allowlist before any
// other handler logic runs. A denial leaks no internal state to the caller.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !g.Allowed(ip) {
			g.logger.Warn("access denied", "remote", ip, "path", r.URL.Path)
			http.Error(w, "Acesso negado.", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
