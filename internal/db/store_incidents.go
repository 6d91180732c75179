package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Incident struct {
	ID           string     `json:"id"`
	MonitorID    string     `json:"monitorId"`
	Status       string     `json:"status"`   // ongoing | resolved
	Severity     string     `json:"severity"` // minor | warning | critical
	ErrorType    string     `json:"errorType,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StatusCode   int        `json:"statusCode,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	DurationMs   int64      `json:"durationMs,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

const incidentColumns = `id, monitor_id, status, severity, error_type, error_message,
	status_code, start_time, end_time, duration_ms, created_at`

// OngoingIncident returns the monitor's open incident, or nil when healthy.
func (s *Store) OngoingIncident(monitorID string) (*Incident, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+incidentColumns+
		" FROM incidents WHERE monitor_id = ? AND status = 'ongoing'"), monitorID)
	i, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

// OpenIncident creates an ongoing incident for the monitor. If one is already
// open it is updated in place rather than duplicated, which keeps the
// one-ongoing-per-monitor invariant under transition replays.
func (s *Store) OpenIncident(monitorID, severity, errorType, errorMessage string, statusCode int, startTime time.Time) (*Incident, error) {
	existing, err := s.OngoingIncident(monitorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_, err = s.db.Exec(s.rebind(`UPDATE incidents SET
			severity = ?, error_type = ?, error_message = ?, status_code = ?
			WHERE id = ?`),
			severity, errorType, errorMessage, statusCode, existing.ID)
		if err != nil {
			return nil, err
		}
		existing.Severity = severity
		existing.ErrorType = errorType
		existing.ErrorMessage = errorMessage
		existing.StatusCode = statusCode
		return existing, nil
	}

	i := Incident{
		ID:           uuid.NewString(),
		MonitorID:    monitorID,
		Status:       "ongoing",
		Severity:     severity,
		ErrorType:    errorType,
		ErrorMessage: errorMessage,
		StatusCode:   statusCode,
		StartTime:    startTime,
		CreatedAt:    time.Now(),
	}
	_, err = s.db.Exec(s.rebind(`INSERT INTO incidents
		(id, monitor_id, status, severity, error_type, error_message, status_code, start_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		i.ID, i.MonitorID, i.Status, i.Severity, i.ErrorType, i.ErrorMessage,
		i.StatusCode, i.StartTime, i.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// CloseOngoingIncident resolves the monitor's open incident, setting endTime
// and duration. Returns nil when there was nothing to close.
func (s *Store) CloseOngoingIncident(monitorID string, endTime time.Time) (*Incident, error) {
	existing, err := s.OngoingIncident(monitorID)
	if err != nil || existing == nil {
		return nil, err
	}

	duration := endTime.Sub(existing.StartTime).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	_, err = s.db.Exec(s.rebind(`UPDATE incidents SET
		status = 'resolved', end_time = ?, duration_ms = ?
		WHERE id = ?`), endTime, duration, existing.ID)
	if err != nil {
		return nil, err
	}
	existing.Status = "resolved"
	existing.EndTime = &endTime
	existing.DurationMs = duration
	return existing, nil
}

// ListIncidents returns the monitor's incidents, newest first.
func (s *Store) ListIncidents(monitorID string, limit int) ([]Incident, error) {
	rows, err := s.db.Query(s.rebind("SELECT "+incidentColumns+
		" FROM incidents WHERE monitor_id = ? ORDER BY start_time DESC LIMIT ?"),
		monitorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var incidents []Incident
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *i)
	}
	return incidents, rows.Err()
}

// CountOngoingIncidents returns how many incidents are currently open across
// all monitors.
func (s *Store) CountOngoingIncidents() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM incidents WHERE status = 'ongoing'").Scan(&n)
	return n, err
}

func scanIncident(row rowScanner) (*Incident, error) {
	var i Incident
	var endTime sql.NullTime
	err := row.Scan(&i.ID, &i.MonitorID, &i.Status, &i.Severity, &i.ErrorType,
		&i.ErrorMessage, &i.StatusCode, &i.StartTime, &endTime, &i.DurationMs, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		i.EndTime = &endTime.Time
	}
	return &i, nil
}
