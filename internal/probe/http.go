package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var (
	errRedirectLimit = errors.New("redirect limit exceeded")
	errRedirectLoop  = errors.New("redirect loop detected")
	errGot1xx        = errors.New("informational response received")
)

// probeHTTP performs one GET against the target. Transport errors become
// taxonomy entries; status-code semantics are left to the classifier.
func probeHTTP(ctx context.Context, t Target, r *Resolver) Observation {
	obs := httpAttempt(ctx, t, r, t.AllowUnauthorized)

	// Chain-misconfiguration fallback: the site may be reachable with a bad
	// intermediate. One retry with verification off; success means DEGRADED,
	// not DOWN.
	if obs.ErrorType == ErrCertChainError && !t.AllowUnauthorized {
		retry := httpAttempt(ctx, t, r, true)
		if retry.IsUp {
			retry.IsUp = true
			retry.State = StateDegraded
			retry.ErrorType = ErrCertChainError
			retry.ErrorMessage = "certificate chain misconfigured; content served"
			retry.meta("certFallback", "true")
			return retry
		}
	}

	return obs
}

func httpAttempt(ctx context.Context, t Target, r *Resolver, skipVerify bool) Observation {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	visited := make(map[string]bool)
	var chain []string

	u, err := url.Parse(t.URL)
	if err != nil {
		return down(ErrInvalidURL, err.Error(), time.Since(start))
	}
	visited[u.String()] = true
	chain = append(chain, u.String())

	transport := &http.Transport{
		DisableKeepAlives: true,
		DialContext:       ssrfDialContext(r),
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: skipVerify,
			ServerName:         u.Hostname(),
		},
		ResponseHeaderTimeout: t.Timeout,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   t.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// via holds the requests already made, so the Nth redirect
			// sees len(via) == N. Allow exactly MaxRedirects hops.
			if len(via) > MaxRedirects {
				return errRedirectLimit
			}
			loc := req.URL.String()
			if visited[loc] {
				return errRedirectLoop
			}
			visited[loc] = true
			chain = append(chain, loc)
			// SNI must follow the hop's hostname.
			transport.TLSClientConfig.ServerName = req.URL.Hostname()
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return down(ErrInvalidURL, err.Error(), time.Since(start))
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Connection", "close")
	req.Header.Set("Accept", "*/*")

	// 1xx short-circuit: surface the informational response itself instead of
	// waiting out the final one.
	var infoCode int
	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, _ textproto.MIMEHeader) error {
			if code == http.StatusContinue {
				return nil // 100-continue is transport plumbing, not a result
			}
			infoCode = code
			return errGot1xx
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		if infoCode != 0 {
			obs := Observation{
				IsUp:         true,
				ResponseTime: elapsed.Milliseconds(),
				StatusCode:   infoCode,
				ErrorType:    ErrHTTPInformational,
				ErrorMessage: fmt.Sprintf("server answered with informational status %d", infoCode),
				State:        StateDegraded,
				Redirects:    chain,
			}
			return obs
		}
		return httpFailure(err, chain, elapsed, t)
	}
	defer func() { _ = resp.Body.Close() }()

	// Cap the body read at 1 MiB; the connection closes with the response
	// either way (Connection: close), so extra bytes are simply not read.
	_, _ = io.CopyN(io.Discard, resp.Body, MaxBodyBytes)

	obs := Observation{
		IsUp:         resp.StatusCode < 400,
		ResponseTime: elapsed.Milliseconds(),
		StatusCode:   resp.StatusCode,
		State:        StateUp,
		Redirects:    chain,
	}
	obs.meta("redirects", strconv.Itoa(len(chain)-1))

	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		info := sslInfoFromChain(resp.TLS.PeerCertificates, u.Hostname())
		obs.SSL = info
		applyCertDowngrade(&obs, info, t.SSLExpiryDays)
	}

	return obs
}

// httpFailure maps a client.Do error, distinguishing redirect policy
// violations and TLS failures from plain transport errors.
func httpFailure(err error, chain []string, elapsed time.Duration, t Target) Observation {
	if errors.Is(err, errRedirectLimit) || errors.Is(err, errRedirectLoop) {
		obs := down(ErrRedirectLoop, err.Error(), elapsed)
		obs.Redirects = chain
		return obs
	}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return down(ErrCertHostnameMismatch, hostnameErr.Error(), elapsed)
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		// Covers unable-to-get-issuer and self-signed-in-chain equivalents.
		return down(ErrCertChainError, unknownAuthority.Error(), elapsed)
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		if certInvalid.Reason == x509.Expired {
			return down(ErrCertExpired, certInvalid.Error(), elapsed)
		}
		return down(ErrCertChainError, certInvalid.Error(), elapsed)
	}

	errType, msg := mapNetError(err)
	if errType == ErrConnectionTimeout {
		errType = ErrHTTPTimeout
		msg = fmt.Sprintf("no response within %s", t.Timeout)
	}
	obs := down(errType, msg, elapsed)
	obs.Redirects = chain
	return obs
}

// applyCertDowngrade turns an otherwise-UP HTTPS observation DEGRADED when
// the served certificate is expired, close to expiry, self-signed or
// mismatched.
func applyCertDowngrade(obs *Observation, info *SSLInfo, expiryDays int) {
	if !obs.IsUp || info == nil {
		return
	}
	switch {
	case info.DaysRemaining < 0:
		obs.State = StateDegraded
		obs.ErrorType = ErrCertExpired
		obs.ErrorMessage = fmt.Sprintf("certificate expired %d days ago", -info.DaysRemaining)
	case info.DaysRemaining <= expiryDays:
		obs.State = StateDegraded
		obs.ErrorType = ErrCertExpiringSoon
		obs.ErrorMessage = fmt.Sprintf("certificate expires in %d days", info.DaysRemaining)
	case info.HostnameMismatch:
		obs.State = StateDegraded
		obs.ErrorType = ErrCertHostnameMismatch
		obs.ErrorMessage = "certificate does not match hostname"
	case info.SelfSigned:
		obs.State = StateDegraded
		obs.ErrorType = ErrSelfSignedCert
		obs.ErrorMessage = "certificate is self-signed"
	}
}

// ssrfDialContext resolves through the secure resolver and dials the
// returned IP, so the Host header / SNI keep the original name while the
// socket goes where the policy-checked lookup pointed (rebinding defence).
func ssrfDialContext(r *Resolver) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := r.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		target := net.JoinHostPort(ip.String(), port)
		return dialer.DialContext(ctx, network, target)
	}
}

// sslInfoFromChain builds certificate metadata from an established TLS
// session's peer chain.
func sslInfoFromChain(chain []*x509.Certificate, hostname string) *SSLInfo {
	leaf := chain[0]
	info := &SSLInfo{
		ValidFrom:     leaf.NotBefore,
		ValidTo:       leaf.NotAfter,
		DaysRemaining: int(time.Until(leaf.NotAfter).Hours() / 24),
		Issuer:        leaf.Issuer.CommonName,
		Subject:       leaf.Subject.CommonName,
		SelfSigned:    leaf.Issuer.CommonName == leaf.Subject.CommonName && len(chain) == 1,
	}
	if err := leaf.VerifyHostname(hostname); err != nil {
		info.HostnameMismatch = true
	}
	info.WeakSignature = isWeakSignature(leaf.SignatureAlgorithm)
	now := time.Now()
	info.Valid = !info.HostnameMismatch && !info.SelfSigned &&
		now.After(leaf.NotBefore) && now.Before(leaf.NotAfter)
	return info
}

func isWeakSignature(alg x509.SignatureAlgorithm) bool {
	switch alg {
	case x509.MD2WithRSA, x509.MD5WithRSA, x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		return true
	}
	return false
}

// wildcardMatches implements the single-label wildcard rule for SANs:
// *.example.com matches a.example.com but not a.b.example.com.
func wildcardMatches(pattern, hostname string) bool {
	pattern = strings.ToLower(pattern)
	hostname = strings.ToLower(hostname)
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == hostname
	}
	suffix := pattern[1:] // ".example.com"
	if !strings.HasSuffix(hostname, suffix) {
		return false
	}
	label := hostname[:len(hostname)-len(suffix)]
	return label != "" && !strings.Contains(label, ".")
}
