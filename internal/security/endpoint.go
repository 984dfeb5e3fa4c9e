package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrEndpointNotAllowed is wrapped by every endpoint policy rejection.
var ErrEndpointNotAllowed = errors.New("endpoint not allowed")

// blockedHosts are cloud metadata and loopback names rejected regardless of DNS.
var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// EndpointPolicy decides which URLs payroute may call on its own initiative:
// webhook deliveries and HTTP processor executors.
type EndpointPolicy struct {
	// RequireHTTPS rejects plain http endpoints.
	RequireHTTPS bool
	// AllowPrivate permits loopback and private addresses, for processors
	// reached over an internal network.
	AllowPrivate bool
	// Lookup resolves host names. Defaults to net.LookupHost.
	Lookup func(host string) ([]string, error)
}

// ValidateEndpointURL applies the strict policy used for webhook targets:
// http or https, public addresses only, after DNS resolution.
func ValidateEndpointURL(rawURL string) error {
	return EndpointPolicy{}.Validate(rawURL)
}

// Validate checks rawURL against the policy.
func (p EndpointPolicy) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrEndpointNotAllowed)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if p.RequireHTTPS {
			return fmt.Errorf("%w: URL scheme must be https", ErrEndpointNotAllowed)
		}
	default:
		return fmt.Errorf("%w: URL scheme must be http or https", ErrEndpointNotAllowed)
	}

	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("%w: URL must have a host", ErrEndpointNotAllowed)
	}
	if p.AllowPrivate {
		return nil
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: URL host %q is not allowed", ErrEndpointNotAllowed, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	lookup := p.Lookup
	if lookup == nil {
		lookup = net.LookupHost
	}
	addrs, err := lookup(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve URL host %s", ErrEndpointNotAllowed, host)
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback addresses are not allowed", ErrEndpointNotAllowed)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private addresses are not allowed", ErrEndpointNotAllowed)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local addresses are not allowed", ErrEndpointNotAllowed)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified addresses are not allowed", ErrEndpointNotAllowed)
	}
	return nil
}
