// Package probe performs single network observations against monitor
// targets. Every probe honors the monitor timeout, pre-validates the target,
// resolves through the SSRF-checked resolver and renders expected failures
// into the shared error taxonomy instead of returning Go errors.
package probe

import (
	"context"
)

// Run validates the target and dispatches to the protocol probe. It never
// returns an error: everything a probe can encounter is an Observation.
func Run(ctx context.Context, t Target, r *Resolver) Observation {
	t.Normalize()

	normalized, vErr := ValidateTarget(t.URL, t.Type)
	if vErr != nil {
		return down(vErr.Type, vErr.Message, 0)
	}
	t.URL = normalized

	switch t.Type {
	case TypeHTTP, TypeHTTPS:
		return probeHTTP(ctx, t, r)
	case TypeTCP:
		return probeTCP(ctx, t, r)
	case TypeUDP:
		return probeUDP(ctx, t, r)
	case TypeDNS:
		return probeDNS(ctx, t, r)
	case TypeSMTP:
		return probeSMTP(ctx, t, r)
	case TypeSSL:
		return probeSSL(ctx, t, r)
	case TypePING:
		return probePing(ctx, t, r)
	default:
		return down(ErrInvalidInput, "unsupported monitor type: "+t.Type, 0)
	}
}
