package storage

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/mkrupp/mediavault/internal/domain"
)

// Resolver looks up the addresses of a host. *net.Resolver implements it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// EndpointPolicy configures which S3 endpoints are acceptable.
type EndpointPolicy struct {
	AllowedHostSuffixes []string
	BlockedHostSuffixes []string
	AllowPrivateIPs     bool
	AllowIPLiteral      bool
	AllowHTTP           bool
}

//nolint:gochecknoglobals
var (
	cgnatNet = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

	metadataIPs = []net.IP{
		net.IPv4(169, 254, 169, 254),
		net.ParseIP("fd00:ec2::254"),
	}
)

// EndpointGuard validates S3 endpoints against SSRF abuse. The same rules are
// applied once at driver construction and again on every outgoing dial.
type EndpointGuard struct {
	policy   EndpointPolicy
	resolver Resolver
}

// NewEndpointGuard returns a guard using resolver, or net.DefaultResolver if nil.
func NewEndpointGuard(policy EndpointPolicy, resolver Resolver) *EndpointGuard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return &EndpointGuard{policy: policy, resolver: resolver}
}

// Validate checks endpoint and returns one of the domain.ErrS3Endpoint* reasons.
// An empty endpoint selects the provider default and is accepted.
// The private address verdict takes precedence over the scheme verdict.
//
//nolint:cyclop
func (g *EndpointGuard) Validate(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrS3EndpointInvalidURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", domain.ErrS3EndpointInvalidURL, parsed.Scheme)
	}

	host := normalizeHost(parsed.Hostname())
	if host == "" {
		return domain.ErrS3EndpointMissingHost
	}

	literal := net.ParseIP(host)
	dev := isDevLoopbackHost(host)

	addrs, err := g.lookup(ctx, host, literal)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrS3EndpointUnresolvable, host, err)
	}

	for _, addr := range addrs {
		if err := g.checkIP(addr, dev); err != nil {
			return fmt.Errorf("%w: %s", err, host)
		}
	}

	if parsed.Scheme != "https" && !dev && !g.policy.AllowHTTP {
		return fmt.Errorf("%w: %s", domain.ErrS3EndpointMustUseHTTPS, endpoint)
	}

	if literal != nil && !literal.IsLoopback() && !g.policy.AllowIPLiteral {
		return fmt.Errorf("%w: %s", domain.ErrS3EndpointIPLiteral, host)
	}

	if literal == nil {
		if matchesSuffix(host, g.policy.BlockedHostSuffixes) {
			return fmt.Errorf("%w: %s", domain.ErrS3EndpointHostBlocked, host)
		}

		if len(g.policy.AllowedHostSuffixes) > 0 && !matchesSuffix(host, g.policy.AllowedHostSuffixes) {
			return fmt.Errorf("%w: %s", domain.ErrS3EndpointHostNotAllowed, host)
		}
	}

	return nil
}

// DialControl returns a net.Dialer Control hook that refuses connections to
// addresses the guard would have rejected. allowLoopback mirrors the dev exemption
// of the configured endpoint.
func (g *EndpointGuard) DialControl(allowLoopback bool) func(network, address string, conn syscall.RawConn) error {
	return func(_, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("split host port: %w", err)
		}

		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("%w: %s", domain.ErrS3EndpointUnresolvable, host)
		}

		return g.checkIP(ip, allowLoopback)
	}
}

func (g *EndpointGuard) lookup(ctx context.Context, host string, literal net.IP) ([]net.IP, error) {
	if literal != nil {
		return []net.IP{literal}, nil
	}

	if isDevLoopbackHost(host) {
		return []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}, nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup: no addresses for %s", host) //nolint:err113
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}

	return ips, nil
}

func (g *EndpointGuard) checkIP(ip net.IP, allowLoopback bool) error {
	if isMetadataIP(ip) {
		return domain.ErrS3EndpointPrivateIP
	}

	if !isPrivateIP(ip) || g.policy.AllowPrivateIPs {
		return nil
	}

	if allowLoopback && ip.IsLoopback() {
		return nil
	}

	return domain.ErrS3EndpointPrivateIP
}

func isMetadataIP(ip net.IP) bool {
	for _, metadata := range metadataIPs {
		if ip.Equal(metadata) {
			return true
		}
	}

	return false
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsUnspecified() ||
		cgnatNet.Contains(ip)
}

// isDevLoopbackHost reports whether host names the local machine without DNS.
func isDevLoopbackHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func matchesSuffix(host string, suffixes []string) bool {
	for _, suffix := range suffixes {
		suffix = strings.TrimPrefix(normalizeHost(strings.TrimSpace(suffix)), ".")
		if suffix == "" {
			continue
		}

		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}

	return false
}
