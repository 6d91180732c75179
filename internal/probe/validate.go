package probe

import (
	"net"
	"net/url"
	"strings"
)

// ValidationError is the structured failure of target validation. It carries
// the taxonomy errorType so the runner can surface it on the check unchanged.
type ValidationError struct {
	Type    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Type + ": " + e.Message
}

func invalid(errType, msg string) *ValidationError {
	return &ValidationError{Type: errType, Message: msg}
}

// hostnameForbidden matches characters that never appear in a legal hostname.
const hostnameForbidden = "<>[]|{}^\\"

// ValidateTarget checks a monitor target for structural problems and returns
// the normalized URL (scheme auto-prefixed for HTTP monitors). Rules apply in
// order; the first failure wins.
func ValidateTarget(target, monitorType string) (string, *ValidationError) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return "", invalid(ErrMissingTarget, "target address is empty")
	}

	switch monitorType {
	case TypeHTTP, TypeHTTPS:
		return validateHTTPTarget(trimmed)
	case TypeDNS:
		return validateDNSTarget(trimmed)
	default:
		return validateHostTarget(trimmed)
	}
}

// ValidateNewMonitor applies ValidateTarget plus the creation-time policy:
// localhost and internal-suffix hostnames are rejected outright.
func ValidateNewMonitor(target, monitorType string) (string, *ValidationError) {
	normalized, vErr := ValidateTarget(target, monitorType)
	if vErr != nil {
		return "", vErr
	}

	host := hostnameOf(normalized, monitorType)
	lower := strings.ToLower(host)
	if lower == "localhost" ||
		strings.HasSuffix(lower, ".local") ||
		strings.HasSuffix(lower, ".internal") ||
		strings.HasSuffix(lower, ".localhost") {
		return "", invalid(ErrInvalidURL, "internal hostnames cannot be monitored: "+host)
	}

	return normalized, nil
}

func validateHTTPTarget(target string) (string, *ValidationError) {
	if idx := strings.Index(target, "://"); idx >= 0 {
		scheme := strings.ToLower(target[:idx])
		if scheme != "http" && scheme != "https" {
			return "", invalid(ErrProtocolMismatch, "unsupported scheme "+scheme+"://")
		}
	} else {
		target = "http://" + target
	}

	// scheme:///path has no authority at all
	if idx := strings.Index(target, ":///"); idx >= 0 {
		return "", invalid(ErrMalformedStructure, "URL has an empty authority component")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", invalid(ErrInvalidURL, "unparseable URL: "+err.Error())
	}
	if u.Hostname() == "" {
		return "", invalid(ErrInvalidURL, "URL has no hostname")
	}
	if vErr := checkHostnameChars(u.Hostname()); vErr != nil {
		return "", vErr
	}

	return target, nil
}

func validateDNSTarget(target string) (string, *ValidationError) {
	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return "", invalid(ErrInvalidInput, "DNS monitors require a hostname, not an IP literal")
	}
	if vErr := checkHostnameChars(host); vErr != nil {
		return "", vErr
	}
	return target, nil
}

func validateHostTarget(target string) (string, *ValidationError) {
	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}
	if host == "" {
		return "", invalid(ErrInvalidURL, "target has no hostname")
	}
	if net.ParseIP(host) == nil {
		if vErr := checkHostnameChars(host); vErr != nil {
			return "", vErr
		}
	}
	return target, nil
}

func checkHostnameChars(host string) *ValidationError {
	if strings.ContainsAny(host, hostnameForbidden) || strings.ContainsAny(host, " \t\r\n") {
		return invalid(ErrInvalidURL, "hostname contains forbidden characters")
	}
	return nil
}

// hostnameOf extracts the hostname from an already-validated target.
func hostnameOf(target, monitorType string) string {
	switch monitorType {
	case TypeHTTP, TypeHTTPS:
		if u, err := url.Parse(target); err == nil {
			return u.Hostname()
		}
		return target
	default:
		if h, _, err := net.SplitHostPort(target); err == nil {
			return h
		}
		return target
	}
}
