package probe

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

const defaultPingCount = 4

// execCommand is swapped in ping tests.
var execCommand = exec.CommandContext

// probePing shells out to the platform ping binary. ResponseTime reports the
// parsed RTT average, not command wall-time: the subprocess takes count
// seconds regardless of how fast the host answers.
func probePing(ctx context.Context, t Target, r *Resolver) Observation {
	host := hostnameOf(t.URL, t.Type)
	clean := sanitizePingHost(host)
	if clean == "" || clean != host {
		return down(ErrInvalidInput, "hostname contains characters not allowed for ping", 0)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	// The private-IP policy applies before anything executes. The subprocess
	// pings the vetted address, not the name, so it cannot re-resolve
	// somewhere the policy would have rejected.
	ip, err := r.Resolve(ctx, clean)
	if err != nil {
		errType, msg := mapNetError(err)
		return down(errType, msg, 0)
	}

	cmd := execCommand(ctx, "ping", pingArgs(ip.String(), defaultPingCount, t.Timeout)...)
	out, err := cmd.CombinedOutput()
	text := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		return down(ErrConnectionTimeout, fmt.Sprintf("ping did not finish within %s", t.Timeout), 0)
	}

	stats, parseErr := parsePingOutput(text)
	if parseErr != nil {
		if err != nil {
			// Exec failure with nothing parseable: binary missing,
			// permission denied, etc.
			return down(ErrHostUnreachablePing, "ping failed: "+err.Error(), 0)
		}
		return down(ErrUnknown, "could not parse ping output", 0)
	}

	obs := Observation{
		ResponseTime: int64(math.Round(stats.AvgMs)),
		PacketLoss:   stats.LossPercent,
	}
	obs.meta("transmitted", strconv.Itoa(stats.Transmitted))
	obs.meta("received", strconv.Itoa(stats.Received))

	switch {
	case stats.LossPercent >= 100:
		obs.IsUp = false
		obs.State = StateDown
		obs.ErrorType = ErrHostUnreachablePing
		obs.ErrorMessage = "100% packet loss"
	case stats.LossPercent > 0:
		obs.IsUp = true
		obs.State = StateDegraded
		obs.ErrorType = ErrPacketLoss
		obs.ErrorMessage = fmt.Sprintf("%.0f%% packet loss", stats.LossPercent)
	case time.Duration(stats.AvgMs)*time.Millisecond > t.DegradedThreshold:
		obs.IsUp = true
		obs.State = StateDegraded
		obs.ErrorType = ErrHighPingLatency
		obs.ErrorMessage = fmt.Sprintf("average RTT %.1fms above threshold", stats.AvgMs)
	default:
		obs.IsUp = true
		obs.State = StateUp
	}

	return obs
}

func pingArgs(host string, count int, timeout time.Duration) []string {
	c := strconv.Itoa(count)
	switch runtime.GOOS {
	case "windows":
		return []string{"-n", c, host}
	case "darwin":
		return []string{"-c", c, host}
	default: // linux and friends
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", c, "-W", strconv.Itoa(secs), host}
	}
}
