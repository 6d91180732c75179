package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// mapNetError folds a transport error into the taxonomy. Shared by the TCP,
// HTTP, UDP and SMTP probes.
func mapNetError(err error) (string, string) {
	var ssrf *SSRFError
	if errors.As(err, &ssrf) {
		return ErrSSRFProtection, ssrf.Error()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ErrDNSNotFound, dnsErr.Error()
		case dnsErr.IsTimeout:
			return ErrDNSTimeout, dnsErr.Error()
		default:
			return ErrDNSServerFailure, dnsErr.Error()
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return ErrConnectionTimeout, err.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout, err.Error()
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused, err.Error()
	case errors.Is(err, syscall.ECONNRESET):
		return ErrConnectionReset, err.Error()
	case errors.Is(err, syscall.EHOSTUNREACH):
		return ErrHostUnreachable, err.Error()
	case errors.Is(err, syscall.ENETUNREACH):
		return ErrNetworkUnreachable, err.Error()
	case errors.Is(err, syscall.EPIPE):
		return ErrConnectionReset, err.Error()
	}

	// Some platforms surface these as strings only.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return ErrConnectionRefused, msg
	case strings.Contains(msg, "connection reset"):
		return ErrConnectionReset, msg
	case strings.Contains(msg, "no route to host"):
		return ErrHostUnreachable, msg
	case strings.Contains(msg, "network is unreachable"):
		return ErrNetworkUnreachable, msg
	}

	return ErrNetworkError, msg
}
