package probe

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// PingStats is the parsed summary of one ping run.
type PingStats struct {
	Transmitted int
	Received    int
	LossPercent float64
	MinMs       float64
	AvgMs       float64
	MaxMs       float64
}

var errPingUnparseable = errors.New("unrecognized ping output")

var (
	// Linux: "4 packets transmitted, 4 received, 0% packet loss, time 3004ms"
	// macOS: "4 packets transmitted, 4 packets received, 0.0% packet loss"
	unixLossRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+)(?: packets)? received.*?([\d.]+)% packet loss`)

	// Linux: "rtt min/avg/max/mdev = 9.735/10.021/10.293/0.198 ms"
	// macOS: "round-trip min/avg/max/stddev = 9.735/10.021/10.293/0.198 ms"
	unixRttRe = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max/(?:mdev|stddev) = ([\d.]+)/([\d.]+)/([\d.]+)/[\d.]+ ms`)

	// Windows: "Packets: Sent = 4, Received = 4, Lost = 0 (0% loss),"
	winLossRe = regexp.MustCompile(`Sent = (\d+), Received = (\d+), Lost = \d+ \((\d+)% loss\)`)

	// Windows: "Minimum = 9ms, Maximum = 11ms, Average = 10ms"
	winRttRe = regexp.MustCompile(`Minimum = (\d+)ms, Maximum = (\d+)ms, Average = (\d+)ms`)
)

// parsePingOutput extracts loss and RTT figures from the platform ping
// summary. RTT lines are absent at 100% loss; that is not an error.
func parsePingOutput(out string) (PingStats, error) {
	var stats PingStats

	if m := unixLossRe.FindStringSubmatch(out); m != nil {
		stats.Transmitted, _ = strconv.Atoi(m[1])
		stats.Received, _ = strconv.Atoi(m[2])
		stats.LossPercent, _ = strconv.ParseFloat(m[3], 64)
	} else if m := winLossRe.FindStringSubmatch(out); m != nil {
		stats.Transmitted, _ = strconv.Atoi(m[1])
		stats.Received, _ = strconv.Atoi(m[2])
		stats.LossPercent, _ = strconv.ParseFloat(m[3], 64)
	} else {
		return stats, errPingUnparseable
	}

	if m := unixRttRe.FindStringSubmatch(out); m != nil {
		stats.MinMs, _ = strconv.ParseFloat(m[1], 64)
		stats.AvgMs, _ = strconv.ParseFloat(m[2], 64)
		stats.MaxMs, _ = strconv.ParseFloat(m[3], 64)
	} else if m := winRttRe.FindStringSubmatch(out); m != nil {
		stats.MinMs, _ = strconv.ParseFloat(m[1], 64)
		stats.MaxMs, _ = strconv.ParseFloat(m[2], 64)
		stats.AvgMs, _ = strconv.ParseFloat(m[3], 64)
	}

	return stats, nil
}

// sanitizePingHost strips every character that is not [A-Za-z0-9.-]. The
// caller must reject the target if the sanitized form differs: a stripped
// character means someone tried to smuggle shell syntax into exec argv.
func sanitizePingHost(host string) string {
	var b strings.Builder
	for _, c := range host {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '-' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
