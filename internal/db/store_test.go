package db

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

var testDBCounter atomic.Int64

// newTestStore opens a fresh shared-cache in-memory database. A unique name
// per call keeps the connection pool on one schema without cross-test leaks.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBCounter.Add(1))
	store, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMonitor(id string) Monitor {
	return Monitor{
		ID:       id,
		Name:     "Monitor " + id,
		URL:      "https://example.com",
		Type:     "http",
		Interval: 60,
		Active:   true,
	}
}

func TestCreateAndGetMonitor(t *testing.T) {
	s := newTestStore(t)

	m := testMonitor("m1")
	m.Interval = 120
	if err := s.CreateMonitor(m); err != nil {
		t.Fatalf("CreateMonitor failed: %v", err)
	}

	got, err := s.GetMonitor("m1")
	if err != nil {
		t.Fatalf("GetMonitor failed: %v", err)
	}
	if got.Interval != 120 {
		t.Errorf("Expected interval 120, got %d", got.Interval)
	}
	if got.Status != "unknown" {
		t.Errorf("New monitor should be unknown, got %s", got.Status)
	}
	if got.Timeout != 30 || got.DegradedThresholdMs != 2000 || got.AlertThreshold != 2 {
		t.Errorf("Defaults not applied: %+v", got)
	}
}

func TestGetMonitorNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetMonitor("missing"); err != ErrMonitorNotFound {
		t.Errorf("Expected ErrMonitorNotFound, got %v", err)
	}
}

func TestUpdateMonitorNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateMonitor(testMonitor("missing")); err != ErrMonitorNotFound {
		t.Errorf("Expected ErrMonitorNotFound, got %v", err)
	}
}

func TestGetActiveMonitorsExcludesMaintenance(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.CreateMonitor(testMonitor(id)); err != nil {
			t.Fatalf("CreateMonitor %s: %v", id, err)
		}
	}
	if err := s.SetMonitorActive("m2", false); err != nil {
		t.Fatalf("SetMonitorActive: %v", err)
	}
	if err := s.SetMonitorMaintenance("m3", true); err != nil {
		t.Fatalf("SetMonitorMaintenance: %v", err)
	}

	active, err := s.GetActiveMonitors()
	if err != nil {
		t.Fatalf("GetActiveMonitors: %v", err)
	}
	if len(active) != 1 || active[0].ID != "m1" {
		t.Errorf("Expected only m1 schedulable, got %+v", active)
	}
}

func TestApplyCheckResultCounters(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	now := time.Now()

	m, err := s.ApplyCheckResult("m1", "down", "down", now, 0)
	if err != nil {
		t.Fatalf("ApplyCheckResult: %v", err)
	}
	if m.ConsecutiveFailures != 1 || m.ConsecutiveDegraded != 0 {
		t.Errorf("down: expected failures=1 degraded=0, got %d/%d", m.ConsecutiveFailures, m.ConsecutiveDegraded)
	}
	if m.SuccessfulChecks != 0 || m.TotalChecks != 1 {
		t.Errorf("down: expected successful=0 total=1, got %d/%d", m.SuccessfulChecks, m.TotalChecks)
	}

	m, _ = s.ApplyCheckResult("m1", "down", "down", now, 0)
	if m.ConsecutiveFailures != 2 {
		t.Errorf("Second down: expected failures=2, got %d", m.ConsecutiveFailures)
	}

	// Degraded counts as successful and zeroes the failure streak.
	m, _ = s.ApplyCheckResult("m1", "degraded", "degraded", now, 3500)
	if m.ConsecutiveFailures != 0 || m.ConsecutiveDegraded != 1 {
		t.Errorf("degraded: expected failures=0 degraded=1, got %d/%d", m.ConsecutiveFailures, m.ConsecutiveDegraded)
	}
	if m.SuccessfulChecks != 1 {
		t.Errorf("degraded: expected successful=1, got %d", m.SuccessfulChecks)
	}

	m, _ = s.ApplyCheckResult("m1", "up", "up", now, 120)
	if m.ConsecutiveFailures != 0 || m.ConsecutiveDegraded != 0 {
		t.Errorf("up: expected both counters zero, got %d/%d", m.ConsecutiveFailures, m.ConsecutiveDegraded)
	}
	if m.SuccessfulChecks != 2 || m.TotalChecks != 4 {
		t.Errorf("up: expected successful=2 total=4, got %d/%d", m.SuccessfulChecks, m.TotalChecks)
	}
	if m.Status != "up" || m.LastResponseTime != 120 {
		t.Errorf("up: status/lastResponseTime not applied: %+v", m)
	}
	if m.LastChecked == nil {
		t.Error("lastChecked not set")
	}
}

// A hysteresis hold keeps the visible status while the counters follow what
// the check actually saw.
func TestApplyCheckResultHeldStatus(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	m, err := s.ApplyCheckResult("m1", "up", "down", time.Now(), 0)
	if err != nil {
		t.Fatalf("ApplyCheckResult: %v", err)
	}
	if m.Status != "up" {
		t.Errorf("Expected held status up, got %s", m.Status)
	}
	if m.ConsecutiveFailures != 1 {
		t.Errorf("Expected the failure streak to start, got %d", m.ConsecutiveFailures)
	}
	if m.SuccessfulChecks != 0 {
		t.Errorf("A failing check must not count as successful, got %d", m.SuccessfulChecks)
	}
}

func TestApplyCheckResultUnknownNotSuccessful(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	m, err := s.ApplyCheckResult("m1", "unknown", "unknown", time.Now(), 0)
	if err != nil {
		t.Fatalf("ApplyCheckResult: %v", err)
	}
	if m.SuccessfulChecks != 0 || m.TotalChecks != 1 {
		t.Errorf("unknown: expected successful=0 total=1, got %d/%d", m.SuccessfulChecks, m.TotalChecks)
	}
	if m.ConsecutiveFailures != 0 || m.ConsecutiveDegraded != 0 {
		t.Errorf("unknown: expected both streaks reset, got %d/%d", m.ConsecutiveFailures, m.ConsecutiveDegraded)
	}
}

func TestUpdateUptime(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	now := time.Now()
	for _, status := range []string{"up", "up", "up", "down"} {
		if _, err := s.ApplyCheckResult("m1", status, status, now, 100); err != nil {
			t.Fatalf("ApplyCheckResult: %v", err)
		}
		if _, err := s.InsertCheck(Check{MonitorID: "m1", Status: status, ResponseTime: 100, CheckedAt: now}); err != nil {
			t.Fatalf("InsertCheck: %v", err)
		}
	}

	lifetime, last24h, err := s.UpdateUptime("m1")
	if err != nil {
		t.Fatalf("UpdateUptime: %v", err)
	}
	if lifetime != 75.0 {
		t.Errorf("Expected 75%% lifetime uptime, got %.1f", lifetime)
	}
	if last24h != 75.0 {
		t.Errorf("Expected 75%% 24h uptime, got %.1f", last24h)
	}

	m, _ := s.GetMonitor("m1")
	if m.UptimePercentage != 75.0 || m.Uptime24h != 75.0 {
		t.Errorf("Uptime not persisted: %+v", m)
	}
}

// Unknown checks are inconclusive, not successful; neither figure may count
// them as up.
func TestUpdateUptimeExcludesUnknown(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	now := time.Now()
	for _, status := range []string{"up", "unknown", "unknown", "down"} {
		if _, err := s.ApplyCheckResult("m1", status, status, now, 100); err != nil {
			t.Fatalf("ApplyCheckResult: %v", err)
		}
		if _, err := s.InsertCheck(Check{MonitorID: "m1", Status: status, ResponseTime: 100, CheckedAt: now}); err != nil {
			t.Fatalf("InsertCheck: %v", err)
		}
	}

	lifetime, last24h, err := s.UpdateUptime("m1")
	if err != nil {
		t.Fatalf("UpdateUptime: %v", err)
	}
	if lifetime != 25.0 {
		t.Errorf("Expected 25%% lifetime uptime, got %.1f", lifetime)
	}
	if last24h != 25.0 {
		t.Errorf("Expected 25%% 24h uptime, got %.1f", last24h)
	}
}
