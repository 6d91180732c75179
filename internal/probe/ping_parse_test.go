package probe

import (
	"testing"
)

const linuxPingOutput = `PING example.com (93.184.216.34) 56(84) bytes of data.
64 bytes from 93.184.216.34: icmp_seq=1 ttl=56 time=9.73 ms
64 bytes from 93.184.216.34: icmp_seq=2 ttl=56 time=10.2 ms
64 bytes from 93.184.216.34: icmp_seq=3 ttl=56 time=10.1 ms
64 bytes from 93.184.216.34: icmp_seq=4 ttl=56 time=10.0 ms

--- example.com ping statistics ---
4 packets transmitted, 4 received, 0% packet loss, time 3004ms
rtt min/avg/max/mdev = 9.735/10.021/10.293/0.198 ms
`

const macOSPingOutput = `PING example.com (93.184.216.34): 56 data bytes
64 bytes from 93.184.216.34: icmp_seq=0 ttl=56 time=9.735 ms
64 bytes from 93.184.216.34: icmp_seq=1 ttl=56 time=10.293 ms

--- example.com ping statistics ---
4 packets transmitted, 3 packets received, 25.0% packet loss
round-trip min/avg/max/stddev = 9.735/10.021/10.293/0.198 ms
`

const windowsPingOutput = `Pinging example.com [93.184.216.34] with 32 bytes of data:
Reply from 93.184.216.34: bytes=32 time=10ms TTL=56
Reply from 93.184.216.34: bytes=32 time=9ms TTL=56

Ping statistics for 93.184.216.34:
    Packets: Sent = 4, Received = 4, Lost = 0 (0% loss),
Approximate round trip times in milli-seconds:
    Minimum = 9ms, Maximum = 11ms, Average = 10ms
`

const linuxTotalLossOutput = `PING 203.0.113.9 (203.0.113.9) 56(84) bytes of data.

--- 203.0.113.9 ping statistics ---
4 packets transmitted, 0 received, 100% packet loss, time 3071ms
`

func TestParsePingOutputLinux(t *testing.T) {
	stats, err := parsePingOutput(linuxPingOutput)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stats.Transmitted != 4 || stats.Received != 4 {
		t.Errorf("Expected 4/4, got %d/%d", stats.Transmitted, stats.Received)
	}
	if stats.LossPercent != 0 {
		t.Errorf("Expected 0%% loss, got %.1f", stats.LossPercent)
	}
	if stats.AvgMs != 10.021 {
		t.Errorf("Expected avg 10.021, got %.3f", stats.AvgMs)
	}
}

func TestParsePingOutputMacOS(t *testing.T) {
	stats, err := parsePingOutput(macOSPingOutput)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stats.LossPercent != 25.0 {
		t.Errorf("Expected 25%% loss, got %.1f", stats.LossPercent)
	}
	if stats.AvgMs != 10.021 {
		t.Errorf("Expected avg 10.021, got %.3f", stats.AvgMs)
	}
}

func TestParsePingOutputWindows(t *testing.T) {
	stats, err := parsePingOutput(windowsPingOutput)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stats.Transmitted != 4 || stats.Received != 4 {
		t.Errorf("Expected 4/4, got %d/%d", stats.Transmitted, stats.Received)
	}
	if stats.AvgMs != 10 {
		t.Errorf("Expected avg 10, got %.1f", stats.AvgMs)
	}
	if stats.MinMs != 9 || stats.MaxMs != 11 {
		t.Errorf("Expected min/max 9/11, got %.1f/%.1f", stats.MinMs, stats.MaxMs)
	}
}

func TestParsePingOutputTotalLoss(t *testing.T) {
	// RTT line is absent at 100% loss; that must not be treated as a
	// parse failure.
	stats, err := parsePingOutput(linuxTotalLossOutput)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if stats.LossPercent != 100 {
		t.Errorf("Expected 100%% loss, got %.1f", stats.LossPercent)
	}
	if stats.AvgMs != 0 {
		t.Errorf("Expected zero avg at total loss, got %.1f", stats.AvgMs)
	}
}

func TestParsePingOutputGarbage(t *testing.T) {
	if _, err := parsePingOutput("ping: unknown host nosuchhost.invalid"); err == nil {
		t.Error("Expected parse error for unrecognized output")
	}
}

func TestSanitizePingHost(t *testing.T) {
	cases := []struct{ in, want string }{
		{"example.com", "example.com"},
		{"sub-1.example.com", "sub-1.example.com"},
		{"203.0.113.9", "203.0.113.9"},
		{"host;rm -rf /", "hostrm-rf"},
		{"$(whoami).example.com", "whoami.example.com"},
		{"host`id`", "hostid"},
	}
	for _, tc := range cases {
		if got := sanitizePingHost(tc.in); got != tc.want {
			t.Errorf("sanitizePingHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
