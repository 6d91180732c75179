package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"time"
)

const smtpHelloName = "pulse-guard"

// probeSMTP walks every resolved address (IPv6 first) with a per-IP budget
// of max(8s, timeout/N) and performs a banner + EHLO handshake, upgrading
// through STARTTLS on the submission port.
func probeSMTP(ctx context.Context, t Target, r *Resolver) Observation {
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

	ips, err := r.ResolveAll(ctx, host)
	if err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, time.Since(start))
	}

	perIP := t.Timeout / time.Duration(len(ips))
	if perIP < 8*time.Second {
		perIP = 8 * time.Second
	}

	var last Observation
	for _, ip := range ips {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, perIP)
		last = smtpAttempt(attemptCtx, ip, port, host, t, start)
		attemptCancel()
		if last.IsUp || last.State == StateDegraded {
			last.meta("peer", ip.String())
			return last
		}
		if ctx.Err() != nil {
			break
		}
	}
	return last
}

func smtpAttempt(ctx context.Context, ip net.IP, port int, host string, t Target, start time.Time) Observation {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, time.Since(start))
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	text := textproto.NewConn(conn)

	code, banner, err := text.ReadResponse(0)
	if err != nil {
		return down(ErrSMTPNoBanner, "no SMTP banner: "+err.Error(), time.Since(start))
	}

	switch {
	case code == 220:
		// expected greeting
	case code == 250:
		// A 250 greeting means a middlebox answered before the real server.
		return down(ErrSMTPConnectFailed,
			fmt.Sprintf("Interception detected: greeting was %d instead of 220 (ISP proxy?)", code),
			time.Since(start))
	case code == 421:
		return smtpTempFailure(banner, time.Since(start))
	default:
		return down(ErrSMTPUnavailable, fmt.Sprintf("unexpected greeting %d %s", code, banner), time.Since(start))
	}

	if port == 587 {
		return smtpSubmissionHandshake(text, conn, host, t, start)
	}
	return smtpPlainHandshake(text, start)
}

// smtpPlainHandshake runs EHLO (falling back to HELO) on port 25.
func smtpPlainHandshake(text *textproto.Conn, start time.Time) Observation {
	code, msg, err := smtpCmd(text, "EHLO "+smtpHelloName)
	if err != nil {
		return down(ErrSMTPTransaction, err.Error(), time.Since(start))
	}
	if code != 250 {
		code, msg, err = smtpCmd(text, "HELO "+smtpHelloName)
		if err != nil {
			return down(ErrSMTPTransaction, err.Error(), time.Since(start))
		}
	}

	elapsed := time.Since(start)
	switch code {
	case 250:
		_, _, _ = smtpCmd(text, "QUIT")
		return Observation{IsUp: true, ResponseTime: elapsed.Milliseconds(), State: StateUp}
	case 421:
		return smtpTempFailure(msg, elapsed)
	default:
		return down(ErrSMTPTransaction, fmt.Sprintf("handshake rejected: %d %s", code, msg), elapsed)
	}
}

// smtpSubmissionHandshake runs EHLO, STARTTLS, TLS upgrade and a second EHLO
// on port 587.
func smtpSubmissionHandshake(text *textproto.Conn, conn net.Conn, host string, t Target, start time.Time) Observation {
	code, msg, err := smtpCmd(text, "EHLO "+smtpHelloName)
	if err != nil {
		return down(ErrSMTPTransaction, err.Error(), time.Since(start))
	}
	if code == 421 {
		return smtpTempFailure(msg, time.Since(start))
	}
	if code != 250 {
		return down(ErrSMTPTransaction, fmt.Sprintf("EHLO rejected: %d %s", code, msg), time.Since(start))
	}

	code, msg, err = smtpCmd(text, "STARTTLS")
	if err != nil {
		return down(ErrSMTPTransaction, err.Error(), time.Since(start))
	}
	if code != 220 {
		return down(ErrSMTPTransaction, fmt.Sprintf("STARTTLS rejected: %d %s", code, msg), time.Since(start))
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.AllowUnauthorized,
	})
	if err := tlsConn.Handshake(); err != nil {
		return down(ErrCertChainError, "STARTTLS upgrade failed: "+err.Error(), time.Since(start))
	}
	secured := textproto.NewConn(tlsConn)

	code, msg, err = smtpCmd(secured, "EHLO "+smtpHelloName)
	elapsed := time.Since(start)
	if err != nil {
		return down(ErrSMTPTransaction, err.Error(), elapsed)
	}
	switch code {
	case 250:
		_, _, _ = smtpCmd(secured, "QUIT")
		return Observation{IsUp: true, ResponseTime: elapsed.Milliseconds(), State: StateUp}
	case 421:
		return smtpTempFailure(msg, elapsed)
	default:
		return down(ErrSMTPTransaction, fmt.Sprintf("post-TLS EHLO rejected: %d %s", code, msg), elapsed)
	}
}

func smtpCmd(text *textproto.Conn, cmd string) (int, string, error) {
	id, err := text.Cmd("%s", cmd)
	if err != nil {
		return 0, "", err
	}
	text.StartResponse(id)
	defer text.EndResponse(id)
	return text.ReadResponse(0)
}

func smtpTempFailure(msg string, elapsed time.Duration) Observation {
	return Observation{
		IsUp:         true,
		ResponseTime: elapsed.Milliseconds(),
		State:        StateDegraded,
		ErrorType:    ErrSMTPTempFailure,
		ErrorMessage: "server temporarily unavailable (421): " + msg,
	}
}
