package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

func localResolver() *Resolver {
	return &Resolver{AllowPrivate: true, lookup: systemLookup}
}

func TestProbeTCPSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	target := Target{URL: ln.Addr().String(), Type: TypeTCP, Timeout: 5 * time.Second}
	target.Normalize()

	obs := probeTCP(context.Background(), target, localResolver())
	if !obs.IsUp {
		t.Fatalf("Expected up, got %s: %s", obs.ErrorType, obs.ErrorMessage)
	}
	if obs.State != StateUp {
		t.Errorf("Expected state up, got %s", obs.State)
	}
	if obs.Meta["peer"] != "127.0.0.1" {
		t.Errorf("Expected peer metadata, got %q", obs.Meta["peer"])
	}
}

func TestProbeTCPConnectionRefused(t *testing.T) {
	// Bind and immediately close to get a port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	target := Target{URL: addr, Type: TypeTCP, Timeout: 5 * time.Second}
	target.Normalize()

	obs := probeTCP(context.Background(), target, localResolver())
	if obs.IsUp {
		t.Fatal("Expected down")
	}
	if obs.ErrorType != ErrConnectionRefused {
		t.Errorf("Expected CONNECTION_REFUSED, got %s", obs.ErrorType)
	}
	if obs.State != StateDown {
		t.Errorf("Expected state down, got %s", obs.State)
	}
}

func TestProbeTCPBlockedBySSRFPolicy(t *testing.T) {
	target := Target{URL: "127.0.0.1:80", Type: TypeTCP, Timeout: 2 * time.Second}
	target.Normalize()

	obs := probeTCP(context.Background(), target, NewResolver())
	if obs.IsUp {
		t.Fatal("Expected SSRF rejection")
	}
	if obs.ErrorType != ErrSSRFProtection {
		t.Errorf("Expected SSRF_PROTECTION, got %s", obs.ErrorType)
	}
}
