package db

import (
	"strings"
	"testing"
	"time"
)

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetSetting("missing"); err == nil {
		t.Error("Expected error for missing setting")
	}

	if err := s.SetSetting("foo", "bar"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	val, err := s.GetSetting("foo")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if val != "bar" {
		t.Errorf("Expected 'bar', got %q", val)
	}

	_ = s.SetSetting("foo", "baz")
	if val, _ = s.GetSetting("foo"); val != "baz" {
		t.Errorf("Expected 'baz', got %q", val)
	}
}

func TestSeededDefaults(t *testing.T) {
	s := newTestStore(t)

	if days := s.RetentionDays(); days != 90 {
		t.Errorf("Expected seeded retention 90, got %d", days)
	}
	if s.GlobalMaintenance() {
		t.Error("Global maintenance should default off")
	}

	_ = s.SetSetting("retention_days", "30")
	if days := s.RetentionDays(); days != 30 {
		t.Errorf("Expected 30, got %d", days)
	}

	_ = s.SetSetting("retention_days", "junk")
	if days := s.RetentionDays(); days != 90 {
		t.Errorf("Unparseable retention should fall back to 90, got %d", days)
	}

	_ = s.SetSetting("maintenance_global", "true")
	if !s.GlobalMaintenance() {
		t.Error("Expected global maintenance on")
	}
}

func TestSystemStats(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"m1", "m2"} {
		if err := s.CreateMonitor(testMonitor(id)); err != nil {
			t.Fatalf("CreateMonitor: %v", err)
		}
	}
	if _, err := s.ApplyCheckResult("m1", "down", "down", time.Now(), 0); err != nil {
		t.Fatalf("ApplyCheckResult: %v", err)
	}
	if _, err := s.OpenIncident("m1", "critical", "HTTP_TIMEOUT", "", 0, time.Now()); err != nil {
		t.Fatalf("OpenIncident: %v", err)
	}

	stats, err := s.GetSystemStats()
	if err != nil {
		t.Fatalf("GetSystemStats: %v", err)
	}
	if stats.TotalMonitors != 2 || stats.ActiveMonitors != 2 {
		t.Errorf("Monitor counts wrong: %+v", stats)
	}
	if stats.DownMonitors != 1 {
		t.Errorf("Expected 1 down monitor, got %d", stats.DownMonitors)
	}
	if stats.OngoingIncidents != 1 {
		t.Errorf("Expected 1 ongoing incident, got %d", stats.OngoingIncidents)
	}
	if stats.DailyChecks != 2880 { // two monitors at 60s
		t.Errorf("Expected 2880 daily checks, got %d", stats.DailyChecks)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)

	raw, err := s.CreateAPIKey("ci")
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, "pg_live_") {
		t.Errorf("Expected pg_live_ prefix, got %q", raw)
	}

	ok, err := s.ValidateAPIKey(raw)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if !ok {
		t.Error("Freshly minted key should validate")
	}

	if ok, _ := s.ValidateAPIKey("pg_live_bogus00000000"); ok {
		t.Error("Bogus key must not validate")
	}
	if ok, _ := s.ValidateAPIKey("short"); ok {
		t.Error("Short key must not validate")
	}

	keys, err := s.ListAPIKeys()
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "ci" {
		t.Errorf("Unexpected key list: %+v", keys)
	}

	if err := s.DeleteAPIKey(keys[0].ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if ok, _ := s.ValidateAPIKey(raw); ok {
		t.Error("Deleted key must not validate")
	}
}
