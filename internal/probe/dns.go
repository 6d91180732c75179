package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// dnsQueryFunc performs one A/AAAA query and returns the rcode plus any
// answered addresses. Injectable for tests.
type dnsQueryFunc func(ctx context.Context, host string, timeout time.Duration) (rcode int, ips []net.IP, err error)

var dnsQuery dnsQueryFunc = systemDNSQuery

// systemDNSQuery asks the system-configured resolver directly so SERVFAIL
// and NXDOMAIN stay distinguishable; net.Resolver folds both into one error.
func systemDNSQuery(ctx context.Context, host string, timeout time.Duration) (int, []net.IP, error) {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		// No readable resolver config: fall back to the stdlib resolver.
		addrs, lerr := net.DefaultResolver.LookupIPAddr(ctx, host)
		if lerr != nil {
			return dns.RcodeServerFailure, nil, lerr
		}
		ips := make([]net.IP, 0, len(addrs))
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
		return dns.RcodeSuccess, ips, nil
	}

	client := &dns.Client{Timeout: timeout}
	server := net.JoinHostPort(conf.Servers[0], conf.Port)

	var ips []net.IP
	rcode := dns.RcodeSuccess
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		resp, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			return dns.RcodeServerFailure, nil, err
		}
		if resp.Rcode != dns.RcodeSuccess {
			rcode = resp.Rcode
			continue
		}
		for _, rr := range resp.Answer {
			switch a := rr.(type) {
			case *dns.A:
				ips = append(ips, a.A)
			case *dns.AAAA:
				ips = append(ips, a.AAAA)
			}
		}
	}
	if len(ips) > 0 {
		return dns.RcodeSuccess, ips, nil
	}
	return rcode, nil, nil
}

// probeDNS performs a forward lookup of the hostname. A resolution that only
// yields private addresses is DOWN with SSRF_BLOCKED, never a success.
func probeDNS(ctx context.Context, t Target, r *Resolver) Observation {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	host := hostnameOf(t.URL, t.Type)

	rcode, ips, err := dnsQuery(ctx, host, t.Timeout)
	elapsed := time.Since(start)

	if err != nil {
		errType, msg := mapNetError(err)
		switch errType {
		case ErrConnectionTimeout:
			errType = ErrDNSTimeout
		case ErrNetworkError:
			errType = ErrDNSServerFailure
		}
		return down(errType, msg, elapsed)
	}

	switch rcode {
	case dns.RcodeSuccess:
		// fallthrough to answer handling
	case dns.RcodeNameError:
		return down(ErrDNSNotFound, "hostname does not exist (NXDOMAIN)", elapsed)
	case dns.RcodeServerFailure:
		return down(ErrDNSServerFailure, "resolver returned SERVFAIL", elapsed)
	default:
		return down(ErrDNSServerFailure, fmt.Sprintf("resolver returned rcode %d", rcode), elapsed)
	}

	if len(ips) == 0 {
		return down(ErrDNSNotFound, "no A/AAAA records", elapsed)
	}

	if !r.AllowPrivate {
		for _, ip := range ips {
			if IsPrivateIP(ip) {
				return down(ErrSSRFBlocked, "resolved to private address "+ip.String(), elapsed)
			}
		}
	}

	obs := Observation{
		IsUp:         true,
		ResponseTime: elapsed.Milliseconds(),
		State:        StateUp,
	}
	obs.meta("addresses", fmt.Sprintf("%d", len(ips)))
	obs.meta("first", ips[0].String())
	if elapsed > DNSSlowThreshold {
		obs.State = StateDegraded
		obs.ErrorType = ErrDNSSlow
		obs.ErrorMessage = fmt.Sprintf("lookup took %dms", elapsed.Milliseconds())
	}
	return obs
}
