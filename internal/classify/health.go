package classify

import (
	"github.com/pulseguard/pulseguard/internal/probe"
)

// HistoryWindow is how many recent checks the evaluator inspects.
const HistoryWindow = 10

// flapThresholdPercent is the transition rate over the window at which the
// monitor is considered oscillating. Stopping uses 80% of this value so the
// flap flag does not itself flap.
const flapThresholdPercent = 50

// Evaluation is the evaluator's refinement of a raw classification.
type Evaluation struct {
	State             probe.HealthState
	Confidence        float64
	PreventedFlapping bool
	// NeedsVerification asks the runner for a one-shot immediate re-probe
	// whose result supersedes this one on the same check record.
	NeedsVerification bool
}

// Evaluate applies hysteresis to the raw classification. recent holds the raw
// classified states of prior checks, oldest first; alertThreshold comes from
// the monitor.
//
// A transition to a worse state needs the previous check to agree when the
// monitor is configured with alertThreshold >= 2: a single bad probe holds
// the prior state and requests verification instead of transitioning.
func Evaluate(curr Classification, recent []probe.HealthState, alertThreshold int) Evaluation {
	if len(recent) > HistoryWindow {
		recent = recent[len(recent)-HistoryWindow:]
	}

	ev := Evaluation{State: curr.State, Confidence: curr.Confidence}

	bad := curr.State == probe.StateDown || curr.State == probe.StateDegraded
	if bad {
		ev.NeedsVerification = true
	}

	if len(recent) == 0 {
		return ev
	}
	prev := recent[len(recent)-1]
	if curr.State == prev {
		ev.NeedsVerification = false // already in this state, nothing to confirm
		return ev
	}

	if bad && worseThan(curr.State, prev) && alertThreshold >= 2 {
		// First disagreeing observation: hold the previous state.
		ev.State = prev
		ev.PreventedFlapping = true
		if ev.Confidence > ConfidenceLow {
			ev.Confidence = ConfidenceLow
		}
		return ev
	}

	if isFlapping(append(append([]probe.HealthState{}, recent...), curr.State)) {
		ev.PreventedFlapping = true
		if ev.Confidence > ConfidenceVeryLow {
			ev.Confidence = ConfidenceVeryLow
		}
	}
	return ev
}

// worseThan orders health states by badness: down > degraded > unknown > up.
func worseThan(a, b probe.HealthState) bool {
	return stateRank(a) > stateRank(b)
}

func stateRank(s probe.HealthState) int {
	switch s {
	case probe.StateDown:
		return 3
	case probe.StateDegraded:
		return 2
	case probe.StateUnknown:
		return 1
	default:
		return 0
	}
}

// isFlapping counts state transitions across the window, the same rate test
// used for notification damping.
func isFlapping(states []probe.HealthState) bool {
	if len(states) < 4 {
		return false
	}
	transitions := 0
	for i := 1; i < len(states); i++ {
		if states[i] != states[i-1] {
			transitions++
		}
	}
	possible := len(states) - 1
	return transitions*100/possible >= flapThresholdPercent
}
