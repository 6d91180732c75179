// Package runner executes one check end to end: probe, classify, evaluate,
// persist, reduce incidents, emit events and re-arm the next run.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pulseguard/pulseguard/internal/classify"
	"github.com/pulseguard/pulseguard/internal/db"
	"github.com/pulseguard/pulseguard/internal/events"
	"github.com/pulseguard/pulseguard/internal/logging"
	"github.com/pulseguard/pulseguard/internal/metrics"
	"github.com/pulseguard/pulseguard/internal/probe"
)

// Rescheduler re-arms the next periodic check for a monitor. The scheduler
// implements it; tests substitute a recorder.
type Rescheduler interface {
	ScheduleAfter(monitorID string, delay time.Duration) error
}

const rescheduleAttempts = 3

type Runner struct {
	store    *db.Store
	resolver *probe.Resolver
	emitter  *events.Emitter
	sched    Rescheduler
	log      *log.Logger

	// retryBackoff is the base of the linear reschedule backoff. Tests
	// shorten it.
	retryBackoff time.Duration

	// probeFn is the probe entry point, swappable in tests.
	probeFn func(context.Context, probe.Target, *probe.Resolver) probe.Observation

	verifications sync.WaitGroup
}

func New(store *db.Store, resolver *probe.Resolver, emitter *events.Emitter, sched Rescheduler) *Runner {
	return &Runner{
		store:        store,
		resolver:     resolver,
		emitter:      emitter,
		sched:        sched,
		log:          logging.New("runner"),
		retryBackoff: time.Second,
		probeFn:      probe.Run,
	}
}

// Run performs one check for the monitor. It always re-arms the next run
// unless the monitor was deleted or deactivated, and it never lets a probe
// failure escape: the worst case is a down check with UNKNOWN_ERROR.
func (r *Runner) Run(ctx context.Context, monitorID string) error {
	m, err := r.store.GetMonitor(monitorID)
	if err == db.ErrMonitorNotFound {
		// Deleted since it was enqueued. Let the job die quietly.
		return nil
	}
	if err != nil {
		// Store unreachable: re-arm anyway so the monitor is not stranded.
		r.rescheduleAfter(monitorID, time.Minute)
		return err
	}
	if !m.Active {
		return nil
	}
	if m.Maintenance {
		// No check during a maintenance window, but the schedule stays
		// armed so checks resume when the window ends.
		r.rescheduleAfter(m.ID, time.Duration(m.Interval)*time.Second)
		return nil
	}

	reschedule := true
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Printf("panic running check for %s: %v", monitorID, rec)
		}
		if reschedule {
			r.rescheduleAfter(monitorID, time.Duration(m.Interval)*time.Second)
		}
	}()

	prev := probe.HealthState(m.Status)
	target := targetFor(m)

	rawStates, err := r.store.RecentStates(m.ID, classify.HistoryWindow)
	if err != nil {
		r.log.Printf("history load for %s: %v", m.ID, err)
	}
	recent := make([]probe.HealthState, len(rawStates))
	for i, s := range rawStates {
		recent[i] = probe.HealthState(s)
	}

	started := time.Now()
	obs := r.observe(ctx, m.ID, target)
	metrics.ProbeDuration.WithLabelValues(m.Type).Observe(time.Since(started).Seconds())

	cls := classify.Classify(obs, target)
	eval := classify.Evaluate(cls, recent, m.AlertThreshold)

	// Post-fetch cancellation: a probe in flight cannot be interrupted, but
	// its result is discarded if the monitor vanished or was deactivated.
	fresh, err := r.store.GetMonitor(m.ID)
	if err == db.ErrMonitorNotFound || (err == nil && !fresh.Active) {
		reschedule = false
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now()
	// The check keeps the raw classified state so the evaluator's history
	// reflects what was observed, not what hysteresis decided. The monitor
	// itself carries the evaluated state.
	check := db.Check{
		MonitorID:         m.ID,
		Status:            string(cls.State),
		ResponseTime:      obs.ResponseTime,
		StatusCode:        obs.StatusCode,
		ErrorType:         cls.ErrorType,
		ErrorMessage:      cls.Reason,
		Confidence:        eval.Confidence,
		Severity:          cls.Severity,
		PreventedFlapping: eval.PreventedFlapping,
		SSLInfo:           sslJSON(obs.SSL),
		CheckedAt:         now,
	}
	checkID, err := r.store.InsertCheck(check)
	if err != nil {
		return fmt.Errorf("insert check for %s: %w", m.ID, err)
	}
	metrics.ChecksTotal.WithLabelValues(string(eval.State)).Inc()

	updated, err := r.store.ApplyCheckResult(m.ID, string(eval.State), string(cls.State), now, obs.ResponseTime)
	if err != nil {
		return fmt.Errorf("apply check result for %s: %w", m.ID, err)
	}

	// Accountant failure is non-fatal.
	if _, _, err := r.store.UpdateUptime(m.ID); err != nil {
		r.log.Printf("uptime update for %s: %v", m.ID, err)
	}

	// Global maintenance keeps checks flowing into history but opens no
	// incidents and raises no alerts.
	quiet := r.store.GlobalMaintenance()

	var opened *db.Incident
	var created bool
	if !quiet {
		opened, created, err = r.reduce(updated, prev, eval.State, cls, obs.StatusCode, now)
		if err != nil {
			r.log.Printf("incident reduction for %s: %v", m.ID, err)
		}
		if n, err := r.store.CountOngoingIncidents(); err == nil {
			metrics.IncidentsOpen.Set(float64(n))
		}
	}

	r.emit(updated, prev, eval, cls, obs, opened, created, quiet, now)

	if eval.NeedsVerification {
		r.verifications.Add(1)
		go func() {
			defer r.verifications.Done()
			r.verify(m.ID, checkID, target)
		}()
	}
	return nil
}

// Wait blocks until in-flight verification probes finish. Called on shutdown.
func (r *Runner) Wait() {
	r.verifications.Wait()
}

// observe contains the probe call so a panicking probe renders as an
// observation instead of killing the worker.
func (r *Runner) observe(ctx context.Context, monitorID string, t probe.Target) (obs probe.Observation) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Printf("probe panic for %s: %v", monitorID, rec)
			obs = probe.Observation{
				IsUp:         false,
				State:        probe.StateDown,
				ErrorType:    probe.ErrUnknown,
				ErrorMessage: fmt.Sprintf("probe panic: %v", rec),
			}
		}
	}()
	return r.probeFn(ctx, t, r.resolver)
}

// reduce drives the per-monitor incident state machine. Transitions are keyed
// on (prev, curr); the consecutive counters gate opening so one bad check
// under threshold never raises an incident. Returns the ongoing incident
// after reduction and whether this call created it.
func (r *Runner) reduce(m *db.Monitor, prev, curr probe.HealthState, cls classify.Classification, statusCode int, now time.Time) (*db.Incident, bool, error) {
	switch curr {
	case probe.StateUp:
		if prev == probe.StateDown || prev == probe.StateDegraded {
			_, err := r.store.CloseOngoingIncident(m.ID, now)
			return nil, false, err
		}
		return nil, false, nil

	case probe.StateDown:
		if prev == probe.StateDegraded {
			// The degraded class recovered; the critical one begins.
			if _, err := r.store.CloseOngoingIncident(m.ID, now); err != nil {
				return nil, false, err
			}
			return r.open(m, cls, statusCode, now)
		}
		if m.ConsecutiveFailures >= m.AlertThreshold {
			return r.open(m, cls, statusCode, now)
		}
		return nil, false, nil

	case probe.StateDegraded:
		if prev == probe.StateDown {
			if _, err := r.store.CloseOngoingIncident(m.ID, now); err != nil {
				return nil, false, err
			}
			return r.open(m, cls, statusCode, now)
		}
		if m.ConsecutiveDegraded >= m.AlertThreshold {
			return r.open(m, cls, statusCode, now)
		}
		return nil, false, nil
	}
	return nil, false, nil
}

// open is idempotent: replaying a transition updates the ongoing incident's
// reasons instead of duplicating it.
func (r *Runner) open(m *db.Monitor, cls classify.Classification, statusCode int, now time.Time) (*db.Incident, bool, error) {
	existing, err := r.store.OngoingIncident(m.ID)
	if err != nil {
		return nil, false, err
	}
	inc, err := r.store.OpenIncident(m.ID, classify.IncidentSeverity(cls), cls.ErrorType, cls.Reason, statusCode, now)
	if err != nil {
		return nil, false, err
	}
	created := existing == nil
	return inc, created, nil
}

func (r *Runner) emit(m *db.Monitor, prev probe.HealthState, eval classify.Evaluation, cls classify.Classification, obs probe.Observation, opened *db.Incident, created bool, quiet bool, now time.Time) {
	r.emitter.Emit(events.Event{
		Type:      events.EventMonitorUpdate,
		MonitorID: m.ID,
		Timestamp: now,
		Payload: map[string]any{
			"status":       string(eval.State),
			"responseTime": obs.ResponseTime,
			"statusCode":   obs.StatusCode,
			"errorType":    cls.ErrorType,
			"confidence":   eval.Confidence,
			"uptime24h":    m.Uptime24h,
		},
	})
	if quiet {
		return
	}

	if eval.State != prev {
		r.emitter.Emit(events.Event{
			Type:      events.EventMonitorStatusChange,
			MonitorID: m.ID,
			Timestamp: now,
			Payload:   events.StatusChangePayload(string(prev), string(eval.State)),
		})
		if t, ok := transitionEvent(eval.State); ok {
			r.emitter.Emit(events.Event{
				Type:      t,
				MonitorID: m.ID,
				Timestamp: now,
				Payload: map[string]any{
					"errorType":    cls.ErrorType,
					"errorMessage": cls.Reason,
				},
			})
		}
	}

	if created && opened != nil {
		r.emitter.Emit(events.Event{
			Type:      events.EventIncidentCreated,
			MonitorID: m.ID,
			Timestamp: now,
			Payload: map[string]any{
				"incidentId": opened.ID,
				"severity":   opened.Severity,
				"errorType":  opened.ErrorType,
			},
		})
	}
}

func transitionEvent(s probe.HealthState) (events.EventType, bool) {
	switch s {
	case probe.StateDown:
		return events.EventMonitorDown, true
	case probe.StateDegraded:
		return events.EventMonitorDegraded, true
	case probe.StateUnknown:
		return events.EventMonitorUnknown, true
	default:
		return "", false
	}
}

// verify re-probes once and supersedes the tentative result on the same
// check record. It deliberately skips the evaluator and reducer: the next
// scheduled check settles the state machine.
func (r *Runner) verify(monitorID string, checkID int64, target probe.Target) {
	ctx, cancel := context.WithTimeout(context.Background(), target.Timeout+5*time.Second)
	defer cancel()

	obs := r.observe(ctx, monitorID, target)
	cls := classify.Classify(obs, target)
	err := r.store.OverwriteCheck(checkID, db.Check{
		Status:       string(cls.State),
		ResponseTime: obs.ResponseTime,
		StatusCode:   obs.StatusCode,
		ErrorType:    cls.ErrorType,
		ErrorMessage: cls.Reason,
		Confidence:   cls.Confidence,
		Severity:     cls.Severity,
		SSLInfo:      sslJSON(obs.SSL),
	})
	if err != nil {
		r.log.Printf("verification overwrite for check %d: %v", checkID, err)
	}
}

// rescheduleAfter retries because a missed reschedule strands the monitor
// until the sentinel sweep notices.
func (r *Runner) rescheduleAfter(monitorID string, delay time.Duration) {
	var err error
	for attempt := 1; attempt <= rescheduleAttempts; attempt++ {
		if err = r.sched.ScheduleAfter(monitorID, delay); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * r.retryBackoff)
	}
	metrics.ReschedulesFailed.Inc()
	r.log.Printf("failed to reschedule %s after %d attempts: %v", monitorID, rescheduleAttempts, err)
}

// sslJSON flattens certificate metadata for the check record.
func sslJSON(info *probe.SSLInfo) json.RawMessage {
	if info == nil {
		return nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return nil
	}
	return b
}

func targetFor(m *db.Monitor) probe.Target {
	return probe.Target{
		URL:               m.URL,
		Type:              m.Type,
		Port:              m.Port,
		Timeout:           time.Duration(m.Timeout) * time.Second,
		DegradedThreshold: time.Duration(m.DegradedThresholdMs) * time.Millisecond,
		SSLExpiryDays:     m.SSLExpiryDays,
		AllowUnauthorized: m.AllowUnauthorized,
		StrictMode:        m.StrictMode,
		Payload:           m.Payload,
		CheckRevocation:   m.CheckRevocation,
	}
}
