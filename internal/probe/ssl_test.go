package probe

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

type testCertSpec struct {
	commonName string
	dnsNames   []string
	ips        []net.IP
	notBefore  time.Time
	notAfter   time.Time
}

func makeTestCert(t *testing.T, spec testCertSpec) (tls.Certificate, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: spec.commonName},
		Issuer:       pkix.Name{CommonName: spec.commonName},
		NotBefore:    spec.notBefore,
		NotAfter:     spec.notAfter,
		DNSNames:     spec.dnsNames,
		IPAddresses:  spec.ips,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, parsed
}

func tlsServer(t *testing.T, cert tls.Certificate) string {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				// Drive the handshake, then hold the connection open.
				buf := make([]byte, 1)
				_, _ = conn.Read(buf)
				_ = conn.Close()
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestProbeSSLSelfSigned(t *testing.T) {
	cert, _ := makeTestCert(t, testCertSpec{
		commonName: "selfhosted.test",
		ips:        []net.IP{net.ParseIP("127.0.0.1")},
		notBefore:  time.Now().Add(-time.Hour),
		notAfter:   time.Now().Add(90 * 24 * time.Hour),
	})
	addr := tlsServer(t, cert)

	target := Target{URL: addr, Type: TypeSSL, Timeout: 5 * time.Second}
	target.Normalize()

	obs := probeSSL(context.Background(), target, localResolver())
	if !obs.IsUp {
		t.Fatalf("Self-signed is degraded, not down: %s %s", obs.ErrorType, obs.ErrorMessage)
	}
	if obs.State != StateDegraded || obs.ErrorType != ErrSelfSignedCert {
		t.Errorf("Expected degraded SELF_SIGNED_CERT, got %s/%s", obs.State, obs.ErrorType)
	}
	if obs.SSL == nil || !obs.SSL.SelfSigned {
		t.Errorf("Expected self-signed metadata, got %+v", obs.SSL)
	}
}

func TestProbeSSLExpired(t *testing.T) {
	cert, _ := makeTestCert(t, testCertSpec{
		commonName: "expired.test",
		ips:        []net.IP{net.ParseIP("127.0.0.1")},
		notBefore:  time.Now().Add(-48 * time.Hour),
		notAfter:   time.Now().Add(-24 * time.Hour),
	})
	addr := tlsServer(t, cert)

	target := Target{URL: addr, Type: TypeSSL, Timeout: 5 * time.Second}
	target.Normalize()

	obs := probeSSL(context.Background(), target, localResolver())
	if obs.IsUp {
		t.Fatal("Expired certificate must be down")
	}
	if obs.ErrorType != ErrCertExpired {
		t.Errorf("Expected CERT_EXPIRED, got %s", obs.ErrorType)
	}
	if obs.SSL == nil || obs.SSL.DaysRemaining >= 0 {
		t.Errorf("Expected negative days remaining, got %+v", obs.SSL)
	}
}

func TestProbeSSLHostnameMismatch(t *testing.T) {
	// Certificate covers a name, never the loopback address we connect to.
	cert, _ := makeTestCert(t, testCertSpec{
		commonName: "other.test",
		dnsNames:   []string{"other.test"},
		notBefore:  time.Now().Add(-time.Hour),
		notAfter:   time.Now().Add(90 * 24 * time.Hour),
	})
	addr := tlsServer(t, cert)

	target := Target{URL: addr, Type: TypeSSL, Timeout: 5 * time.Second}
	target.Normalize()

	obs := probeSSL(context.Background(), target, localResolver())
	if obs.IsUp {
		t.Fatal("Mismatch must be down")
	}
	if obs.ErrorType != ErrCertHostnameMismatch {
		t.Errorf("Expected CERT_HOSTNAME_MISMATCH, got %s", obs.ErrorType)
	}
}

func TestInspectCertificateExpiringSoon(t *testing.T) {
	_, leaf := makeTestCert(t, testCertSpec{
		commonName: "soon.test",
		dnsNames:   []string{"soon.test"},
		notBefore:  time.Now().Add(-time.Hour),
		notAfter:   time.Now().Add(7 * 24 * time.Hour),
	})

	info := inspectCertificate([]*x509.Certificate{leaf}, "soon.test")
	if info.HostnameMismatch {
		t.Error("Hostname should match")
	}
	if info.DaysRemaining > 7 || info.DaysRemaining < 6 {
		t.Errorf("Expected ~7 days remaining, got %d", info.DaysRemaining)
	}
}

func TestInspectCertificateWildcard(t *testing.T) {
	_, leaf := makeTestCert(t, testCertSpec{
		commonName: "*.example.test",
		dnsNames:   []string{"*.example.test"},
		notBefore:  time.Now().Add(-time.Hour),
		notAfter:   time.Now().Add(90 * 24 * time.Hour),
	})

	if info := inspectCertificate([]*x509.Certificate{leaf}, "www.example.test"); info.HostnameMismatch {
		t.Error("Wildcard should cover single label")
	}
	if info := inspectCertificate([]*x509.Certificate{leaf}, "a.b.example.test"); !info.HostnameMismatch {
		t.Error("Wildcard must not cover nested labels")
	}
}
