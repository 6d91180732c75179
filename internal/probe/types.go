package probe

import (
	"time"
)

// HealthState is the probe's tentative view of the endpoint. The classifier
// owns the authoritative mapping; probes only report what they saw.
type HealthState string

const (
	StateUp       HealthState = "up"
	StateDegraded HealthState = "degraded"
	StateDown     HealthState = "down"
	StateUnknown  HealthState = "unknown"
)

// Error taxonomy. Flat string enum shared by probes, classifier, checks and
// incidents.
const (
	// Input
	ErrMissingTarget      = "MISSING_TARGET"
	ErrInvalidURL         = "INVALID_URL"
	ErrProtocolMismatch   = "PROTOCOL_MISMATCH"
	ErrMalformedStructure = "MALFORMED_STRUCTURE"
	ErrInvalidInput       = "INVALID_INPUT"

	// DNS
	ErrDNSNotFound      = "DNS_NOT_FOUND"
	ErrDNSServerFailure = "DNS_SERVER_FAILURE"
	ErrDNSTimeout       = "DNS_TIMEOUT"
	ErrDNSSlow          = "DNS_SLOW"

	// TCP
	ErrConnectionRefused  = "CONNECTION_REFUSED"
	ErrConnectionTimeout  = "CONNECTION_TIMEOUT"
	ErrHostUnreachable    = "HOST_UNREACHABLE"
	ErrNetworkUnreachable = "NETWORK_UNREACHABLE"
	ErrConnectionReset    = "CONNECTION_RESET"

	// HTTP
	ErrHTTPInformational = "HTTP_INFORMATIONAL"
	ErrHTTPSuccess       = "HTTP_SUCCESS"
	ErrHTTPRedirect      = "HTTP_REDIRECT"
	ErrHTTPClientError   = "HTTP_CLIENT_ERROR"
	ErrHTTPServerError   = "HTTP_SERVER_ERROR"
	ErrHTTPRateLimit     = "HTTP_RATE_LIMIT"
	ErrHTTPTimeout       = "HTTP_TIMEOUT"
	ErrHighLatency       = "HIGH_LATENCY"
	ErrRedirectLoop      = "REDIRECT_LOOP"

	// SSL
	ErrCertExpired          = "CERT_EXPIRED"
	ErrCertExpiringSoon     = "CERT_EXPIRING_SOON"
	ErrSelfSignedCert       = "SELF_SIGNED_CERT"
	ErrCertHostnameMismatch = "CERT_HOSTNAME_MISMATCH"
	ErrCertChainError       = "CERT_CHAIN_ERROR"
	ErrWeakSignature        = "WEAK_SIGNATURE"
	ErrCertRevoked          = "CERT_REVOKED"

	// SMTP
	ErrSMTPNoBanner      = "SMTP_NO_BANNER"
	ErrSMTPUnavailable   = "SMTP_SERVICE_UNAVAILABLE"
	ErrSMTPTransaction   = "SMTP_TRANSACTION_FAILED"
	ErrSMTPTempFailure   = "SMTP_TEMPORARILY_UNAVAILABLE"
	ErrSMTPAuthFailed    = "SMTP_AUTH_FAILED"
	ErrSMTPConnectFailed = "SMTP_CONNECT_FAILED"

	// UDP
	ErrUDPPortUnreachable = "UDP_PORT_UNREACHABLE"
	ErrUDPNoResponse      = "UDP_NO_RESPONSE"

	// PING
	ErrPacketLoss          = "PACKET_LOSS"
	ErrHighPingLatency     = "HIGH_PING_LATENCY"
	ErrHostUnreachablePing = "HOST_UNREACHABLE_PING"

	// Security
	ErrSSRFBlocked    = "SSRF_BLOCKED"
	ErrSSRFProtection = "SSRF_PROTECTION"

	// Generic
	ErrNetworkError = "NETWORK_ERROR"
	ErrUnknown      = "UNKNOWN_ERROR"
)

// Monitor protocols.
const (
	TypeHTTP  = "http"
	TypeHTTPS = "https"
	TypeTCP   = "tcp"
	TypeUDP   = "udp"
	TypeDNS   = "dns"
	TypeSMTP  = "smtp"
	TypeSSL   = "ssl"
	TypePING  = "ping"
)

// Default limits shared by the probes.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultDegradedLatency = 2000 * time.Millisecond
	DefaultPingLatency     = 1000 * time.Millisecond
	DefaultSSLExpiryDays   = 14
	MaxRedirects           = 10
	MaxBodyBytes           = 1 << 20 // 1 MiB body cap
	OCSPTimeout            = 5 * time.Second
	DNSSlowThreshold       = time.Second
)

// SSLInfo captures certificate metadata collected by the SSL and HTTPS probes.
type SSLInfo struct {
	ValidFrom        time.Time `json:"validFrom"`
	ValidTo          time.Time `json:"validTo"`
	DaysRemaining    int       `json:"daysRemaining"`
	Valid            bool      `json:"valid"`
	Issuer           string    `json:"issuer,omitempty"`
	Subject          string    `json:"subject,omitempty"`
	SelfSigned       bool      `json:"selfSigned,omitempty"`
	HostnameMismatch bool      `json:"hostnameMismatch,omitempty"`
	WeakSignature    bool      `json:"weakSignature,omitempty"`
	Revoked          bool      `json:"revoked,omitempty"`
}

// Observation is the raw result of one probe invocation. Probes never return
// Go errors for expected failure modes; everything lands here.
type Observation struct {
	IsUp         bool
	ResponseTime int64 // wall-clock ms, except PING which reports parsed RTT
	StatusCode   int   // 0 when not applicable
	ErrorType    string
	ErrorMessage string
	State        HealthState
	SSL          *SSLInfo
	Redirects    []string // visited URL chain for HTTP
	PacketLoss   float64  // PING only, percentage
	Meta         map[string]string
}

func (o *Observation) meta(key, value string) {
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
}

// Target is a deep-cloned snapshot of the monitor fields a probe needs. The
// runner builds one per check so in-flight probes never see concurrent
// monitor mutations.
type Target struct {
	URL               string
	Type              string
	Port              int
	Timeout           time.Duration
	DegradedThreshold time.Duration
	SSLExpiryDays     int
	AllowUnauthorized bool
	StrictMode        bool // UDP only
	Payload           string
	CheckRevocation   bool
}

// Normalize fills zero-valued knobs with their protocol defaults.
func (t *Target) Normalize() {
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	if t.DegradedThreshold <= 0 {
		if t.Type == TypePING {
			t.DegradedThreshold = DefaultPingLatency
		} else {
			t.DegradedThreshold = DefaultDegradedLatency
		}
	}
	if t.SSLExpiryDays <= 0 {
		t.SSLExpiryDays = DefaultSSLExpiryDays
	}
	if t.Port == 0 {
		t.Port = defaultPort(t.Type, t.URL)
	}
}

func defaultPort(monitorType, rawURL string) int {
	switch monitorType {
	case TypeHTTP:
		return 80
	case TypeHTTPS, TypeSSL:
		return 443
	case TypeDNS:
		return 53
	case TypeSMTP:
		return 25
	case TypeUDP:
		return 53
	default:
		return 0
	}
}

func down(errType, msg string, elapsed time.Duration) Observation {
	return Observation{
		IsUp:         false,
		ResponseTime: elapsed.Milliseconds(),
		ErrorType:    errType,
		ErrorMessage: msg,
		State:        StateDown,
	}
}
