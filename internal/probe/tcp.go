package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// probeTCP opens a stream socket to (resolvedIP, port). Connect success is
// UP; the classifier downgrades on latency.
func probeTCP(ctx context.Context, t Target, r *Resolver) Observation {
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

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	elapsed := time.Since(start)
	if err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, elapsed)
	}
	_ = conn.Close()

	obs := Observation{
		IsUp:         true,
		ResponseTime: elapsed.Milliseconds(),
		State:        StateUp,
	}
	if elapsed > t.DegradedThreshold {
		obs.State = StateDegraded
		obs.ErrorType = ErrHighLatency
	}
	obs.meta("peer", ip.String())
	return obs
}
