// Package security guards the collaborator endpoints a deployment is
// configured to call.
package security

import (
	"net/netip"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// OutboundURLOptions relaxes endpoint validation, for development setups
// that run collaborators on the local machine.
type OutboundURLOptions struct {
	// AllowHTTP permits plain HTTP endpoints. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback, private and link-local targets.
	AllowLocalNetworks bool
}

// ValidateOutboundURL rejects endpoints with unsafe schemes or local-network
// targets unless opts allow them. IP literals are checked without DNS.
func ValidateOutboundURL(rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return errors.New("http scheme is not allowed")
		}
	default:
		return errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.New("URL host is required")
	}
	if parsed.User != nil {
		return errors.New("credentials in URL are not allowed")
	}

	if !opts.AllowLocalNetworks && isLocalHostname(host) {
		return errors.Errorf("local hostname %q is not allowed", host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !opts.AllowLocalNetworks {
		return errors.Errorf("zoned IP address %q is not allowed", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Errorf("disallowed IP address %q", host)
	}
	if !opts.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Errorf("local network IP %q is not allowed", host)
	}

	return nil
}

func isLocalHostname(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

// ValidateEndpoints checks every named endpoint. Empty endpoints mean "use the
// provider default" and are skipped. Errors are reported in name order.
func ValidateEndpoints(endpoints map[string]string, opts OutboundURLOptions) error {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		endpoint := endpoints[name]
		if endpoint == "" {
			continue
		}
		if err := ValidateOutboundURL(endpoint, opts); err != nil {
			problems = append(problems, name+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.Errorf("invalid collaborator endpoints: %s", strings.Join(problems, "; "))
	}
	return nil
}
