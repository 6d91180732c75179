package db

import (
	"testing"
	"time"
)

func TestOpenAndCloseIncident(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	start := time.Now().Add(-10 * time.Minute)
	inc, err := s.OpenIncident("m1", "critical", "HTTP_SERVER_ERROR", "server error 500", 500, start)
	if err != nil {
		t.Fatalf("OpenIncident: %v", err)
	}
	if inc.Status != "ongoing" || inc.Severity != "critical" {
		t.Errorf("Unexpected incident: %+v", inc)
	}

	ongoing, err := s.OngoingIncident("m1")
	if err != nil {
		t.Fatalf("OngoingIncident: %v", err)
	}
	if ongoing == nil || ongoing.ID != inc.ID {
		t.Fatalf("Expected the open incident back, got %+v", ongoing)
	}

	end := time.Now()
	closed, err := s.CloseOngoingIncident("m1", end)
	if err != nil {
		t.Fatalf("CloseOngoingIncident: %v", err)
	}
	if closed.Status != "resolved" || closed.EndTime == nil {
		t.Errorf("Close incomplete: %+v", closed)
	}
	if closed.DurationMs < 9*60*1000 {
		t.Errorf("Duration too small: %dms", closed.DurationMs)
	}

	if again, _ := s.OngoingIncident("m1"); again != nil {
		t.Errorf("Expected no ongoing incident after close, got %+v", again)
	}
}

func TestOpenIncidentIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	start := time.Now()
	first, err := s.OpenIncident("m1", "critical", "HTTP_SERVER_ERROR", "500", 500, start)
	if err != nil {
		t.Fatalf("First open: %v", err)
	}

	// Replaying the transition updates in place instead of duplicating.
	second, err := s.OpenIncident("m1", "warning", "HIGH_LATENCY", "slow", 200, start)
	if err != nil {
		t.Fatalf("Second open: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected same incident id, got %s and %s", first.ID, second.ID)
	}
	if second.Severity != "warning" || second.ErrorType != "HIGH_LATENCY" {
		t.Errorf("Reasons not updated: %+v", second)
	}

	incidents, _ := s.ListIncidents("m1", 10)
	if len(incidents) != 1 {
		t.Errorf("Expected exactly 1 incident, got %d", len(incidents))
	}

	n, _ := s.CountOngoingIncidents()
	if n != 1 {
		t.Errorf("Expected 1 ongoing incident, got %d", n)
	}
}

func TestCloseWithoutOngoingIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	closed, err := s.CloseOngoingIncident("m1", time.Now())
	if err != nil {
		t.Fatalf("CloseOngoingIncident: %v", err)
	}
	if closed != nil {
		t.Errorf("Expected nil on nothing to close, got %+v", closed)
	}
}

func TestListIncidentsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateMonitor(testMonitor("m1")); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * 10 * time.Minute)
		if _, err := s.OpenIncident("m1", "critical", "HTTP_TIMEOUT", "", 0, start); err != nil {
			t.Fatalf("OpenIncident %d: %v", i, err)
		}
		if _, err := s.CloseOngoingIncident("m1", start.Add(5*time.Minute)); err != nil {
			t.Fatalf("CloseOngoingIncident %d: %v", i, err)
		}
	}

	incidents, err := s.ListIncidents("m1", 2)
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(incidents) != 2 {
		t.Fatalf("Expected 2 incidents, got %d", len(incidents))
	}
	if !incidents[0].StartTime.After(incidents[1].StartTime) {
		t.Error("Expected newest first")
	}
}
