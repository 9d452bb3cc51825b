// Package guard holds the checks applied to caller-supplied input before it
// reaches the browser or the filesystem: SSRF-safe URLs and traversal-safe
// output paths.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("guard: path traversal detected")

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("guard: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a scheme other than http(s).
var ErrUnsafeScheme = errors.New("guard: only http and https schemes are allowed")

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// URLChecker validates remote capture targets.
type URLChecker struct {
	// AllowPrivate disables the private address check (trusted networks).
	AllowPrivate bool
	Resolver     Resolver
}

// Check verifies that raw uses http/https, has a host, and does not resolve
// to a private or loopback address. DNS failures are let through; the
// browser reports them as load errors.
func (c URLChecker) Check(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("guard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("guard: URL has no host")
	}
	if c.AllowPrivate {
		return nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if isPrivate(ip) {
			return ErrSSRF
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrSSRF
	}

	r := c.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip, err := netip.ParseAddr(a); err == nil && isPrivate(ip) {
			return ErrSSRF
		}
	}
	return nil
}

var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

func isPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// SafePath joins base and name and fails when the result escapes base.
func SafePath(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	cleanBase := filepath.Clean(base)
	cleaned := filepath.Join(cleanBase, filepath.Clean("/"+name))
	if !strings.HasPrefix(cleaned, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}
