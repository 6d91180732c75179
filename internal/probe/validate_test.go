package probe

import (
	"testing"
)

func TestValidateTargetHTTP(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		wantErr string // empty means ok
		wantURL string
	}{
		{"empty", "", ErrMissingTarget, ""},
		{"whitespace", "   \t", ErrMissingTarget, ""},
		{"plain host auto-prefixed", "example.com", "", "http://example.com"},
		{"explicit http", "http://example.com/path", "", "http://example.com/path"},
		{"explicit https", "https://example.com", "", "https://example.com"},
		{"ftp scheme", "ftp://example.com", ErrProtocolMismatch, ""},
		{"ssh scheme", "ssh://example.com", ErrProtocolMismatch, ""},
		{"mailto-like", "mailto://user@example.com", ErrProtocolMismatch, ""},
		{"triple slash", "http:///path", ErrMalformedStructure, ""},
		{"no hostname", "http://", ErrInvalidURL, ""},
		{"angle brackets", "http://exam<ple.com", ErrInvalidURL, ""},
		{"pipe in host", "http://exam|ple.com", ErrInvalidURL, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, vErr := ValidateTarget(tc.target, TypeHTTP)
			if tc.wantErr == "" {
				if vErr != nil {
					t.Fatalf("Expected ok, got %v", vErr)
				}
				if got != tc.wantURL {
					t.Errorf("Expected normalized %q, got %q", tc.wantURL, got)
				}
				return
			}
			if vErr == nil {
				t.Fatalf("Expected error %s, got ok (%q)", tc.wantErr, got)
			}
			if vErr.Type != tc.wantErr {
				t.Errorf("Expected %s, got %s", tc.wantErr, vErr.Type)
			}
		})
	}
}

func TestValidateTargetDNSRejectsIPLiterals(t *testing.T) {
	for _, target := range []string{"1.2.3.4", "1.2.3.4:53", "::1", "[::1]:53"} {
		if _, vErr := ValidateTarget(target, TypeDNS); vErr == nil || vErr.Type != ErrInvalidInput {
			t.Errorf("DNS target %q: expected INVALID_INPUT, got %v", target, vErr)
		}
	}
	if _, vErr := ValidateTarget("example.com", TypeDNS); vErr != nil {
		t.Errorf("DNS hostname should validate, got %v", vErr)
	}
}

func TestValidateNewMonitorPolicy(t *testing.T) {
	rejected := []string{
		"http://localhost",
		"http://localhost:8080",
		"http://foo.local",
		"http://db.internal",
		"http://svc.localhost",
	}
	for _, target := range rejected {
		if _, vErr := ValidateNewMonitor(target, TypeHTTP); vErr == nil {
			t.Errorf("Expected creation-time rejection for %q", target)
		}
	}

	if _, vErr := ValidateNewMonitor("https://example.com", TypeHTTPS); vErr != nil {
		t.Errorf("Public hostname should pass creation policy, got %v", vErr)
	}
}

func TestValidateHostTargets(t *testing.T) {
	if _, vErr := ValidateTarget("mail.example.com:587", TypeSMTP); vErr != nil {
		t.Errorf("host:port SMTP target should validate, got %v", vErr)
	}
	if _, vErr := ValidateTarget("203.0.113.9", TypePING); vErr != nil {
		t.Errorf("IP literal ping target should validate, got %v", vErr)
	}
	if _, vErr := ValidateTarget("bad{host}", TypeTCP); vErr == nil || vErr.Type != ErrInvalidURL {
		t.Errorf("Expected INVALID_URL for braces, got %v", vErr)
	}
}
