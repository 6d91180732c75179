package probe

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"
)

func udpEchoServer(t *testing.T) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteToUDP(buf[:n], peer)
		}
	}()
	return conn
}

func TestProbeUDPEchoReply(t *testing.T) {
	srv := udpEchoServer(t)
	defer func() { _ = srv.Close() }()

	target := Target{URL: srv.LocalAddr().String(), Type: TypeUDP, Timeout: 3 * time.Second, Payload: "hello"}
	target.Normalize()

	obs := probeUDP(context.Background(), target, localResolver())
	if !obs.IsUp {
		t.Fatalf("Expected up, got %s: %s", obs.ErrorType, obs.ErrorMessage)
	}
	if obs.State != StateUp {
		t.Errorf("Expected state up, got %s", obs.State)
	}
	if obs.Meta["replyBytes"] != "5" {
		t.Errorf("Expected 5 echoed bytes, got %q", obs.Meta["replyBytes"])
	}
}

func TestProbeUDPSilenceLenient(t *testing.T) {
	// Bound socket that never replies: the lenient default treats silence
	// as up because firewalls routinely swallow UDP.
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = conn.Close() }()

	target := Target{URL: conn.LocalAddr().String(), Type: TypeUDP, Timeout: 500 * time.Millisecond}
	target.Normalize()
	target.Timeout = 500 * time.Millisecond

	obs := probeUDP(context.Background(), target, localResolver())
	if !obs.IsUp {
		t.Fatalf("Lenient mode should report up on silence, got %s", obs.ErrorType)
	}
	if obs.ErrorType != ErrUDPNoResponse {
		t.Errorf("Expected UDP_NO_RESPONSE annotation, got %s", obs.ErrorType)
	}
}

func TestProbeUDPSilenceStrict(t *testing.T) {
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = conn.Close() }()

	target := Target{URL: conn.LocalAddr().String(), Type: TypeUDP, Timeout: 500 * time.Millisecond, StrictMode: true}
	target.Normalize()
	target.Timeout = 500 * time.Millisecond

	obs := probeUDP(context.Background(), target, localResolver())
	if obs.IsUp {
		t.Fatal("Strict mode should report down on silence")
	}
	if obs.ErrorType != ErrUDPNoResponse {
		t.Errorf("Expected UDP_NO_RESPONSE, got %s", obs.ErrorType)
	}
	if obs.State != StateDown {
		t.Errorf("Expected state down, got %s", obs.State)
	}
}

func TestProbeUDPPortUnreachable(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ICMP port-unreachable delivery is only reliable on linux loopback")
	}

	// Grab a port with nothing bound to it.
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	target := Target{URL: conn.LocalAddr().String(), Type: TypeUDP, Timeout: 2 * time.Second}
	target.Normalize()
	_ = conn.Close()

	obs := probeUDP(context.Background(), target, localResolver())
	if obs.IsUp {
		t.Fatal("Expected down on ICMP port unreachable")
	}
	if obs.ErrorType != ErrUDPPortUnreachable {
		t.Errorf("Expected UDP_PORT_UNREACHABLE, got %s", obs.ErrorType)
	}
}

func TestUDPPayloadSelection(t *testing.T) {
	// Port 53 always gets a real DNS query regardless of configured payload.
	wire := udpPayload(Target{Payload: "ignored"}, 53)
	if len(wire) < 12 {
		t.Fatalf("DNS query too short: %d bytes", len(wire))
	}

	if got := string(udpPayload(Target{Payload: "custom"}, 9000)); got != "custom" {
		t.Errorf("Expected configured payload, got %q", got)
	}
	if got := string(udpPayload(Target{}, 9000)); got != "PING" {
		t.Errorf("Expected PING default, got %q", got)
	}
}
