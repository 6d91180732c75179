package probe

import (
	"context"
	"net"
	"os/exec"
	"testing"
	"time"
)

func pingTarget(host string) Target {
	tgt := Target{URL: host, Type: TypePING, Timeout: 2 * time.Second}
	tgt.Normalize()
	return tgt
}

func TestProbePingBlocksPrivateTarget(t *testing.T) {
	orig := execCommand
	t.Cleanup(func() { execCommand = orig })
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		t.Error("ping must not execute for a policy-blocked target")
		return exec.CommandContext(ctx, "false")
	}

	obs := probePing(context.Background(), pingTarget("10.0.0.8"), NewResolver())
	if obs.IsUp {
		t.Fatal("Expected down for a private target")
	}
	if obs.ErrorType != ErrSSRFProtection {
		t.Errorf("Expected SSRF_PROTECTION, got %s", obs.ErrorType)
	}
}

func TestProbePingBlocksPrivateResolution(t *testing.T) {
	orig := execCommand
	t.Cleanup(func() { execCommand = orig })
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		t.Error("ping must not execute for a policy-blocked target")
		return exec.CommandContext(ctx, "false")
	}

	r := &Resolver{lookup: func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("192.168.1.50")}, nil
	}}
	obs := probePing(context.Background(), pingTarget("internal.example.com"), r)
	if obs.IsUp || obs.ErrorType != ErrSSRFProtection {
		t.Errorf("Expected SSRF_PROTECTION, got up=%v %s", obs.IsUp, obs.ErrorType)
	}
}

func TestProbePingRunsAgainstResolvedAddress(t *testing.T) {
	orig := execCommand
	t.Cleanup(func() { execCommand = orig })
	var gotArgs []string
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgs = args
		return exec.CommandContext(ctx, "false")
	}

	r := &Resolver{lookup: func(ctx context.Context, host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("203.0.113.9")}, nil
	}}
	probePing(context.Background(), pingTarget("example.com"), r)

	if len(gotArgs) == 0 || gotArgs[len(gotArgs)-1] != "203.0.113.9" {
		t.Errorf("Expected ping against the resolved address, got args %v", gotArgs)
	}
}
