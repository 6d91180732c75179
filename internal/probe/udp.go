package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/miekg/dns"
)

// probeUDP sends one protocol-appropriate datagram and waits for a reply.
// Port 53 gets a well-formed DNS query so resolvers actually answer; other
// ports get the configured payload. Silence is ambiguous for UDP, so a
// timeout is UP-with-low-confidence unless the monitor runs in strict mode.
func probeUDP(ctx context.Context, t Target, r *Resolver) Observation {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	host := hostnameOf(t.URL, t.Type)
	port := t.Port
	if _, p, err := net.SplitHostPort(t.URL); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	ip, err := r.Resolve(ctx, host)
	if err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, time.Since(start))
	}

	payload := udpPayload(t, port)

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return udpFailure(ctx, t, host, err, time.Since(start))
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(payload); err != nil {
		return udpFailure(ctx, t, host, err, time.Since(start))
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	elapsed := time.Since(start)

	if err != nil {
		// A connected UDP socket surfaces ICMP port-unreachable as
		// ECONNREFUSED on the read.
		if errors.Is(err, syscall.ECONNREFUSED) {
			obs := down(ErrUDPPortUnreachable, "ICMP port unreachable from "+ip.String(), elapsed)
			return udpAnnotateFallback(ctx, t, host, obs)
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return udpTimeout(ctx, t, host, elapsed)
		}
		return udpFailure(ctx, t, host, err, elapsed)
	}

	obs := Observation{
		IsUp:         true,
		ResponseTime: elapsed.Milliseconds(),
		State:        StateUp,
	}
	if elapsed > t.DegradedThreshold {
		obs.State = StateDegraded
		obs.ErrorType = ErrHighLatency
	}
	obs.meta("replyBytes", strconv.Itoa(n))
	return obs
}

// udpPayload builds the datagram: a DNS A query for port 53, the user
// payload otherwise, PING as a last resort.
func udpPayload(t Target, port int) []byte {
	if port == 53 {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn("google.com"), dns.TypeA)
		m.RecursionDesired = true
		if wire, err := m.Pack(); err == nil {
			return wire
		}
	}
	if t.Payload != "" {
		return []byte(t.Payload)
	}
	return []byte("PING")
}

// udpTimeout applies the lenient/strict split: firewalls commonly swallow
// UDP, so silence is weak evidence either way.
func udpTimeout(ctx context.Context, t Target, host string, elapsed time.Duration) Observation {
	obs := Observation{
		ResponseTime: elapsed.Milliseconds(),
		ErrorType:    ErrUDPNoResponse,
		ErrorMessage: "no reply within timeout",
	}
	if t.StrictMode {
		obs.IsUp = false
		obs.State = StateDown
	} else {
		obs.IsUp = true
		obs.State = StateUp
	}
	return udpAnnotateFallback(ctx, t, host, obs)
}

func udpFailure(ctx context.Context, t Target, host string, err error, elapsed time.Duration) Observation {
	errType, msg := mapNetError(err)
	obs := down(errType, msg, elapsed)
	return udpAnnotateFallback(ctx, t, host, obs)
}

// udpAnnotateFallback marks results where a DNS lookup of the host still
// succeeds, evidence the host exists even though UDP failed.
func udpAnnotateFallback(ctx context.Context, t Target, host string, obs Observation) Observation {
	if obs.ErrorType == "" || net.ParseIP(host) != nil {
		return obs
	}
	// The probe context is usually spent by now; the lookup gets its own
	// short budget.
	lookupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host); err == nil {
		obs.meta("fallbackUsed", "dns")
	}
	return obs
}
