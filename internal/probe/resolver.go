package probe

import (
	"context"
	"net"
	"sort"
)

// SSRFError reports a hostname that resolved to at least one private address.
type SSRFError struct {
	Host string
	Addr net.IP
}

func (e *SSRFError) Error() string {
	return "hostname " + e.Host + " resolves to private address " + e.Addr.String()
}

// Resolver performs DNS resolution with the private-IP policy applied to
// every returned address. Probes connect to the resolved IP while keeping
// the original hostname for SNI / Host headers, so a post-resolution rebind
// cannot redirect the connection.
type Resolver struct {
	// AllowPrivate disables the policy. Test and loopback-dev seam only;
	// production construction never sets it.
	AllowPrivate bool

	lookup func(ctx context.Context, host string) ([]net.IP, error)
}

func NewResolver() *Resolver {
	return &Resolver{lookup: systemLookup}
}

func systemLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// Resolve returns the first public address for host. If any resolved address
// is private the whole hostname is rejected.
func (r *Resolver) Resolve(ctx context.Context, host string) (net.IP, error) {
	ips, err := r.ResolveAll(ctx, host)
	if err != nil {
		return nil, err
	}
	return ips[0], nil
}

// ResolveAll returns every resolved address, IPv6 first (SMTP tries each in
// turn). The private-IP policy rejects the hostname if any address fails it.
func (r *Resolver) ResolveAll(ctx context.Context, host string) ([]net.IP, error) {
	// IP literals skip the lookup but not the policy.
	if ip := net.ParseIP(host); ip != nil {
		if !r.AllowPrivate && IsPrivateIP(ip) {
			return nil, &SSRFError{Host: host, Addr: ip}
		}
		return []net.IP{ip}, nil
	}

	ips, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses returned", Name: host, IsNotFound: true}
	}

	if !r.AllowPrivate {
		for _, ip := range ips {
			if IsPrivateIP(ip) {
				return nil, &SSRFError{Host: host, Addr: ip}
			}
		}
	}

	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].To4() == nil && ips[j].To4() != nil
	})
	return ips, nil
}

var privateV4 = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"192.168.0.0/16",
	"172.16.0.0/12",
	"169.254.0.0/16",
}

var privateV6 = []string{
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var privateNets []*net.IPNet

func init() {
	for _, cidr := range append(append([]string{}, privateV4...), privateV6...) {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("bad private CIDR " + cidr + ": " + err.Error())
		}
		privateNets = append(privateNets, n)
	}
}

// IsPrivateIP reports whether ip falls in a blocked range. IPv4-mapped IPv6
// addresses are unwrapped before checking.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
