// Package fetch retrieves a job's original media, either from the object
// store or from an untrusted URL through an SSRF-guarded HTTP client.
package fetch

import (
	"context"
	"net"
	"net/url"
	"strings"
	"syscall"

	"vodscribe/internal/failure"
)

// Ranges that net.IP's own predicates do not cover.
var blockedNets = mustParseCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"255.255.255.255/32",
	"64:ff9b::/96",
	"100::/64",
	"2001::/32",
	"2001:db8::/32",
	"2002::/16",
	"fec0::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsBlocked reports whether ip is private, loopback, link-local, multicast,
// unspecified or otherwise reserved.
func IsBlocked(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard decides which URLs and addresses may be contacted.
type Guard struct {
	Resolver Resolver
	// Allow exempts an address from the block list. Nil allows nothing.
	Allow func(ip net.IP) bool
}

// NewGuard returns a guard using the system resolver.
func NewGuard() *Guard {
	return &Guard{Resolver: net.DefaultResolver}
}

// CheckIP returns an ssrf_blocked error for addresses that must not be contacted.
func (g *Guard) CheckIP(ip net.IP) error {
	if g.Allow != nil && g.Allow(ip) {
		return nil
	}
	if IsBlocked(ip) {
		return failure.Errorf(failure.SSRFBlocked, "address %s is not public", ip)
	}
	return nil
}

// Validate checks the scheme and every address the host resolves to. It
// fails closed: a resolution error or an empty answer is blocked too.
func (g *Guard) Validate(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, failure.Errorf(failure.SSRFBlocked, "invalid url: %w", err)
	}
	if err := checkScheme(u); err != nil {
		return nil, err
	}
	host := u.Hostname()
	if host == "" {
		return nil, failure.Errorf(failure.SSRFBlocked, "no hostname in url")
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := g.CheckIP(ip); err != nil {
			return nil, err
		}
		return u, nil
	}

	addrs, err := g.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, failure.Errorf(failure.SSRFBlocked, "resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, failure.Errorf(failure.SSRFBlocked, "resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if err := g.CheckIP(a.IP); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func checkScheme(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	}
	return failure.Errorf(failure.SSRFBlocked, "unsupported scheme %q", u.Scheme)
}

// control runs after the socket is created and before it connects, so it
// sees the address actually dialed, including after redirects.
func (g *Guard) control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return failure.Errorf(failure.SSRFBlocked, "bad dial address %q", address)
	}
	return g.CheckIP(net.ParseIP(host))
}
