package db

import (
	"database/sql"
	"strconv"
)

// Settings are a flat key/value table with seeded defaults.

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(s.rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(s.rebind(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"),
		key, value)
	return err
}

// RetentionDays returns the check retention window, defaulting to 90 when
// unset or unparseable.
func (s *Store) RetentionDays() int {
	value, err := s.GetSetting("retention_days")
	if err != nil {
		return 90
	}
	days, err := strconv.Atoi(value)
	if err != nil || days < 1 {
		return 90
	}
	return days
}

// GlobalMaintenance reports whether incident opening and alert events are
// suppressed system-wide. Checks keep running and recording.
func (s *Store) GlobalMaintenance() bool {
	value, err := s.GetSetting("maintenance_global")
	if err == sql.ErrNoRows {
		return false
	}
	return err == nil && value == "true"
}

// SystemStats summarizes the fleet for the health endpoint.
type SystemStats struct {
	TotalMonitors    int `json:"totalMonitors"`
	ActiveMonitors   int `json:"activeMonitors"`
	DownMonitors     int `json:"downMonitors"`
	DegradedMonitors int `json:"degradedMonitors"`
	OngoingIncidents int `json:"ongoingIncidents"`
	DailyChecks      int `json:"dailyChecksEstimate"`
}

func (s *Store) GetSystemStats() (*SystemStats, error) {
	stats := &SystemStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM monitors").Scan(&stats.TotalMonitors); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM monitors WHERE active = TRUE").Scan(&stats.ActiveMonitors); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM monitors WHERE status = 'down'").Scan(&stats.DownMonitors); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM monitors WHERE status = 'degraded'").Scan(&stats.DegradedMonitors); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM incidents WHERE status = 'ongoing'").Scan(&stats.OngoingIncidents); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COALESCE(SUM(86400 / interval_seconds), 0) FROM monitors WHERE active = TRUE").Scan(&stats.DailyChecks); err != nil {
		return nil, err
	}

	return stats, nil
}
