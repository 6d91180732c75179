package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/ocsp"
)

// probeSSL collects certificate metadata regardless of validity: the
// handshake always runs unverified so an expired or self-signed cert is
// still observable instead of a bare handshake error.
func probeSSL(ctx context.Context, t Target, r *Resolver) Observation {
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
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, time.Since(start))
	}
	defer func() { _ = rawConn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}

	conn := tls.Client(rawConn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // metadata collection, not trust
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, time.Since(start))
	}

	chain := conn.ConnectionState().PeerCertificates
	elapsed := time.Since(start)
	if len(chain) == 0 {
		return down(ErrCertChainError, "server presented no certificates", elapsed)
	}

	info := inspectCertificate(chain, host)

	if t.CheckRevocation && len(chain) > 1 {
		if revoked, ok := checkOCSP(chain[0], chain[1]); ok && revoked {
			info.Revoked = true
			info.Valid = false
		}
	}

	obs := Observation{
		ResponseTime: elapsed.Milliseconds(),
		SSL:          info,
	}

	switch {
	case info.Revoked:
		obs.State = StateDown
		obs.ErrorType = ErrCertRevoked
		obs.ErrorMessage = "certificate has been revoked"
	case info.DaysRemaining < 0:
		obs.State = StateDown
		obs.ErrorType = ErrCertExpired
		obs.ErrorMessage = fmt.Sprintf("certificate expired %d days ago", -info.DaysRemaining)
	case info.HostnameMismatch:
		obs.State = StateDown
		obs.ErrorType = ErrCertHostnameMismatch
		obs.ErrorMessage = "certificate does not cover " + host
	case info.SelfSigned:
		obs.IsUp = true
		obs.State = StateDegraded
		obs.ErrorType = ErrSelfSignedCert
		obs.ErrorMessage = "certificate is self-signed"
	case info.WeakSignature:
		obs.IsUp = true
		obs.State = StateDegraded
		obs.ErrorType = ErrWeakSignature
		obs.ErrorMessage = "certificate uses a weak signature algorithm"
	case info.DaysRemaining <= t.SSLExpiryDays:
		obs.IsUp = true
		obs.State = StateDegraded
		obs.ErrorType = ErrCertExpiringSoon
		obs.ErrorMessage = fmt.Sprintf("certificate expires in %d days", info.DaysRemaining)
	default:
		obs.IsUp = true
		obs.State = StateUp
	}

	return obs
}

// inspectCertificate evaluates the leaf against the hostname with the
// single-label wildcard rule.
func inspectCertificate(chain []*x509.Certificate, hostname string) *SSLInfo {
	leaf := chain[0]
	info := &SSLInfo{
		ValidFrom:     leaf.NotBefore,
		ValidTo:       leaf.NotAfter,
		DaysRemaining: int(time.Until(leaf.NotAfter).Hours() / 24),
		Issuer:        leaf.Issuer.CommonName,
		Subject:       leaf.Subject.CommonName,
		SelfSigned:    leaf.Issuer.CommonName == leaf.Subject.CommonName && len(chain) == 1,
		WeakSignature: isWeakSignature(leaf.SignatureAlgorithm),
	}

	matched := false
	names := leaf.DNSNames
	if len(names) == 0 && leaf.Subject.CommonName != "" {
		names = []string{leaf.Subject.CommonName}
	}
	for _, name := range names {
		if wildcardMatches(name, hostname) {
			matched = true
			break
		}
	}
	if !matched {
		if ip := net.ParseIP(hostname); ip != nil {
			for _, certIP := range leaf.IPAddresses {
				if certIP.Equal(ip) {
					matched = true
					break
				}
			}
		}
	}
	info.HostnameMismatch = !matched

	now := time.Now()
	info.Valid = matched && !info.SelfSigned && !info.WeakSignature &&
		now.After(leaf.NotBefore) && now.Before(leaf.NotAfter)
	return info
}

// checkOCSP asks the leaf's responder whether the certificate is revoked.
// Only a definitive "revoked" answer counts; unknown status, unsupported
// algorithms and responder failures are all ignored.
func checkOCSP(leaf, issuer *x509.Certificate) (revoked, ok bool) {
	if len(leaf.OCSPServer) == 0 {
		return false, false
	}

	reqBytes, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return false, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), OCSPTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(reqBytes))
	if err != nil {
		return false, false
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return false, false
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return false, false
	}

	parsed, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return false, false
	}
	return parsed.Status == ocsp.Revoked, true
}
