// Package classify owns the authoritative mapping from raw probe
// observations to health states. Probes report what they saw; this package
// decides what it means.
package classify

import (
	"fmt"
	"time"

	"github.com/pulseguard/pulseguard/internal/probe"
)

// Confidence levels. Every classification carries exactly one of these.
const (
	ConfidenceHigh    = 0.95
	ConfidenceGood    = 0.80
	ConfidenceLow     = 0.60
	ConfidenceVeryLow = 0.40
)

// Incident severity classes derived from a classification.
const (
	SeverityMinor    = "minor"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Classification is the decided outcome of one check.
type Classification struct {
	State      probe.HealthState
	Confidence float64
	Severity   float64 // 0..1
	ErrorType  string
	Reason     string
}

// Classify maps an observation to its authoritative classification. Pure: no
// IO, no clock reads beyond what the observation already carries.
func Classify(obs probe.Observation, t probe.Target) Classification {
	// Input and policy failures classify identically for every protocol.
	switch obs.ErrorType {
	case probe.ErrMissingTarget, probe.ErrInvalidURL, probe.ErrProtocolMismatch,
		probe.ErrMalformedStructure, probe.ErrInvalidInput:
		return downC(obs, ConfidenceHigh, 1.0)
	case probe.ErrSSRFProtection, probe.ErrSSRFBlocked:
		return downC(obs, ConfidenceHigh, 1.0)
	case probe.ErrUnknown:
		return downC(obs, ConfidenceVeryLow, 1.0)
	}

	switch t.Type {
	case probe.TypeHTTP, probe.TypeHTTPS:
		return classifyHTTP(obs, t)
	case probe.TypeTCP:
		return classifyStream(obs, t)
	case probe.TypeUDP:
		return classifyUDP(obs, t)
	case probe.TypeDNS:
		return classifyDNS(obs)
	case probe.TypeSMTP:
		return classifySMTP(obs)
	case probe.TypeSSL:
		return classifySSL(obs)
	case probe.TypePING:
		return classifyPing(obs)
	default:
		return downC(obs, ConfidenceVeryLow, 1.0)
	}
}

// classifyHTTP applies the status-code rules in order. The probe's tentative
// state is ignored except for transport-level failures that never produced a
// status code.
func classifyHTTP(obs probe.Observation, t probe.Target) Classification {
	elapsed := time.Duration(obs.ResponseTime) * time.Millisecond

	// Rule 1: nothing came back, or it came back too late to matter.
	if obs.StatusCode == 0 || elapsed > t.Timeout {
		if obs.ErrorType != "" && obs.ErrorType != probe.ErrHTTPTimeout {
			// Transport failure with its own taxonomy entry (refused, TLS,
			// redirect loop). Keep it.
			return downC(obs, ConfidenceHigh, 1.0)
		}
		c := downC(obs, ConfidenceHigh, 1.0)
		c.ErrorType = probe.ErrHTTPTimeout
		if c.Reason == "" {
			c.Reason = "no response before timeout"
		}
		return c
	}

	code := obs.StatusCode
	switch {
	case code < 200:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceLow,
			Severity:   0.6,
			ErrorType:  probe.ErrHTTPInformational,
			Reason:     fmt.Sprintf("informational response %d", code),
		}

	case code < 300:
		if elapsed > t.DegradedThreshold {
			return Classification{
				State:      probe.StateDegraded,
				Confidence: ConfidenceGood,
				Severity:   latencySeverity(elapsed, t.DegradedThreshold),
				ErrorType:  probe.ErrHighLatency,
				Reason:     fmt.Sprintf("responded %d in %dms, threshold %dms", code, obs.ResponseTime, t.DegradedThreshold.Milliseconds()),
			}
		}
		// Certificate downgrades ride along on an otherwise healthy 2xx.
		if obs.State == probe.StateDegraded && obs.ErrorType != "" {
			return Classification{
				State:      probe.StateDegraded,
				Confidence: ConfidenceGood,
				Severity:   0.5,
				ErrorType:  obs.ErrorType,
				Reason:     obs.ErrorMessage,
			}
		}
		return upC(code)

	case code < 400:
		// The transport already followed redirects; a 3xx final status means
		// the chain was cut short. The chain starts with the original URL,
		// so hops = len-1. Over the cap it is a loop.
		if len(obs.Redirects)-1 > probe.MaxRedirects {
			c := downC(obs, ConfidenceHigh, 1.0)
			c.ErrorType = probe.ErrRedirectLoop
			return c
		}
		return upC(code)

	case code == 429:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   0.6,
			ErrorType:  probe.ErrHTTPRateLimit,
			Reason:     "rate limited (429)",
		}

	case code < 500:
		severity := 0.9
		if code == 404 {
			severity = 1.0
		}
		return Classification{
			State:      probe.StateDown,
			Confidence: ConfidenceHigh,
			Severity:   severity,
			ErrorType:  probe.ErrHTTPClientError,
			Reason:     fmt.Sprintf("client error %d", code),
		}

	default:
		return Classification{
			State:      probe.StateDown,
			Confidence: ConfidenceHigh,
			Severity:   1.0,
			ErrorType:  probe.ErrHTTPServerError,
			Reason:     fmt.Sprintf("server error %d", code),
		}
	}
}

func classifyStream(obs probe.Observation, t probe.Target) Classification {
	if !obs.IsUp {
		conf := ConfidenceHigh
		if obs.ErrorType == probe.ErrConnectionTimeout {
			conf = ConfidenceGood
		}
		return downC(obs, conf, 1.0)
	}
	if obs.ErrorType == probe.ErrHighLatency {
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   latencySeverity(time.Duration(obs.ResponseTime)*time.Millisecond, t.DegradedThreshold),
			ErrorType:  probe.ErrHighLatency,
			Reason:     fmt.Sprintf("connected in %dms", obs.ResponseTime),
		}
	}
	return upC(0)
}

// classifyUDP keeps the probe's lenient/strict verdict but pins the
// confidence: silence is weak evidence in either direction.
func classifyUDP(obs probe.Observation, t probe.Target) Classification {
	switch obs.ErrorType {
	case probe.ErrUDPNoResponse:
		state := probe.StateUp
		if t.StrictMode {
			state = probe.StateDown
		}
		return Classification{
			State:      state,
			Confidence: ConfidenceLow,
			Severity:   udpSilenceSeverity(t.StrictMode),
			ErrorType:  probe.ErrUDPNoResponse,
			Reason:     "no datagram reply within timeout",
		}
	case probe.ErrUDPPortUnreachable:
		return downC(obs, ConfidenceHigh, 0.9)
	case probe.ErrHighLatency:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   latencySeverity(time.Duration(obs.ResponseTime)*time.Millisecond, t.DegradedThreshold),
			ErrorType:  probe.ErrHighLatency,
			Reason:     fmt.Sprintf("replied in %dms", obs.ResponseTime),
		}
	}
	if !obs.IsUp {
		return downC(obs, ConfidenceGood, 1.0)
	}
	return upC(0)
}

func classifyDNS(obs probe.Observation) Classification {
	switch obs.ErrorType {
	case "":
		return upC(0)
	case probe.ErrDNSSlow:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   0.4,
			ErrorType:  probe.ErrDNSSlow,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrDNSTimeout:
		return downC(obs, ConfidenceGood, 1.0)
	default:
		return downC(obs, ConfidenceHigh, 1.0)
	}
}

func classifySMTP(obs probe.Observation) Classification {
	switch obs.ErrorType {
	case "":
		return upC(0)
	case probe.ErrSMTPTempFailure:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   0.5,
			ErrorType:  probe.ErrSMTPTempFailure,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrSMTPConnectFailed:
		// Interception: the transport works but the real server is not the
		// one answering.
		return downC(obs, ConfidenceGood, 0.9)
	default:
		return downC(obs, ConfidenceHigh, 1.0)
	}
}

func classifySSL(obs probe.Observation) Classification {
	switch obs.ErrorType {
	case "":
		return upC(0)
	case probe.ErrCertExpiringSoon:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceHigh,
			Severity:   expirySeverity(obs.SSL),
			ErrorType:  probe.ErrCertExpiringSoon,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrSelfSignedCert:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceHigh,
			Severity:   0.6,
			ErrorType:  probe.ErrSelfSignedCert,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrWeakSignature:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceHigh,
			Severity:   0.5,
			ErrorType:  probe.ErrWeakSignature,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrCertChainError:
		if obs.IsUp {
			// Content served through a misconfigured chain.
			return Classification{
				State:      probe.StateDegraded,
				Confidence: ConfidenceGood,
				Severity:   0.7,
				ErrorType:  probe.ErrCertChainError,
				Reason:     obs.ErrorMessage,
			}
		}
		return downC(obs, ConfidenceHigh, 1.0)
	case probe.ErrCertHostnameMismatch:
		return downC(obs, ConfidenceHigh, 0.9)
	default:
		return downC(obs, ConfidenceHigh, 1.0)
	}
}

func classifyPing(obs probe.Observation) Classification {
	switch obs.ErrorType {
	case "":
		return upC(0)
	case probe.ErrPacketLoss:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   clamp(obs.PacketLoss/100*0.8, 0, 0.8),
			ErrorType:  probe.ErrPacketLoss,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrHighPingLatency:
		return Classification{
			State:      probe.StateDegraded,
			Confidence: ConfidenceGood,
			Severity:   0.4,
			ErrorType:  probe.ErrHighPingLatency,
			Reason:     obs.ErrorMessage,
		}
	case probe.ErrHostUnreachablePing:
		return downC(obs, ConfidenceHigh, 1.0)
	default:
		return downC(obs, ConfidenceGood, 1.0)
	}
}

// IncidentSeverity folds a classification into the incident severity class.
func IncidentSeverity(c Classification) string {
	switch {
	case c.State == probe.StateDown:
		return SeverityCritical
	case c.State == probe.StateDegraded && c.Severity >= 0.6:
		return SeverityWarning
	default:
		return SeverityMinor
	}
}

// latencySeverity scales how far past the threshold the response landed:
// clamp((latency-T)/T * 0.6, 0, 0.9).
func latencySeverity(latency, threshold time.Duration) float64 {
	if threshold <= 0 {
		return 0
	}
	over := float64(latency-threshold) / float64(threshold)
	return clamp(over*0.6, 0, 0.9)
}

func expirySeverity(info *probe.SSLInfo) float64 {
	if info == nil {
		return 0.5
	}
	// 14 days out is mild, same-day expiry is nearly critical.
	days := float64(info.DaysRemaining)
	return clamp(0.9-days*0.05, 0.3, 0.9)
}

func udpSilenceSeverity(strict bool) float64 {
	if strict {
		return 0.7
	}
	return 0.2
}

func upC(statusCode int) Classification {
	c := Classification{State: probe.StateUp, Confidence: ConfidenceHigh}
	if statusCode != 0 {
		c.Reason = fmt.Sprintf("responded %d", statusCode)
	}
	return c
}

func downC(obs probe.Observation, confidence, severity float64) Classification {
	return Classification{
		State:      probe.StateDown,
		Confidence: confidence,
		Severity:   severity,
		ErrorType:  obs.ErrorType,
		Reason:     obs.ErrorMessage,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
