package db

import (
	"encoding/json"
	"fmt"
	"time"
)

// Check is one persisted probe outcome after classification and evaluation.
// SSLInfo carries the certificate metadata collected by TLS-speaking probes
// as opaque JSON; nil for everything else.
type Check struct {
	ID                int64           `json:"id"`
	MonitorID         string          `json:"monitorId"`
	Status            string          `json:"status"`
	ResponseTime      int64           `json:"responseTime"`
	StatusCode        int             `json:"statusCode,omitempty"`
	ErrorType         string          `json:"errorType,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	Confidence        float64         `json:"confidence"`
	Severity          float64         `json:"severity"`
	PreventedFlapping bool            `json:"preventedFlapping,omitempty"`
	SSLInfo           json.RawMessage `json:"sslInfo,omitempty"`
	CheckedAt         time.Time       `json:"checkedAt"`
}

func (s *Store) InsertCheck(c Check) (int64, error) {
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now()
	}

	if s.IsPostgres() {
		var id int64
		err := s.db.QueryRow(s.rebind(`INSERT INTO checks
			(monitor_id, status, response_time, status_code, error_type, error_message,
			 confidence, severity, prevented_flapping, ssl_info, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			c.MonitorID, c.Status, c.ResponseTime, c.StatusCode, c.ErrorType, c.ErrorMessage,
			c.Confidence, c.Severity, c.PreventedFlapping, string(c.SSLInfo), c.CheckedAt).Scan(&id)
		return id, err
	}

	res, err := s.db.Exec(s.rebind(`INSERT INTO checks
		(monitor_id, status, response_time, status_code, error_type, error_message,
		 confidence, severity, prevented_flapping, ssl_info, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.MonitorID, c.Status, c.ResponseTime, c.StatusCode, c.ErrorType, c.ErrorMessage,
		c.Confidence, c.Severity, c.PreventedFlapping, string(c.SSLInfo), c.CheckedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// OverwriteCheck replaces the outcome fields of an existing check in place.
// Immediate verification re-probes and supersedes the tentative result on the
// same record instead of appending a second one.
func (s *Store) OverwriteCheck(id int64, c Check) error {
	_, err := s.db.Exec(s.rebind(`UPDATE checks SET
		status = ?, response_time = ?, status_code = ?, error_type = ?,
		error_message = ?, confidence = ?, severity = ?, prevented_flapping = ?,
		ssl_info = ?
		WHERE id = ?`),
		c.Status, c.ResponseTime, c.StatusCode, c.ErrorType,
		c.ErrorMessage, c.Confidence, c.Severity, c.PreventedFlapping,
		string(c.SSLInfo), id)
	return err
}

// RecentChecks returns up to limit checks for a monitor, newest first.
func (s *Store) RecentChecks(monitorID string, limit int) ([]Check, error) {
	rows, err := s.db.Query(s.rebind(`SELECT id, monitor_id, status, response_time,
		status_code, error_type, error_message, confidence, severity,
		prevented_flapping, COALESCE(ssl_info, ''), checked_at
		FROM checks WHERE monitor_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?`),
		monitorID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var checks []Check
	for rows.Next() {
		var c Check
		var ssl string
		if err := rows.Scan(&c.ID, &c.MonitorID, &c.Status, &c.ResponseTime,
			&c.StatusCode, &c.ErrorType, &c.ErrorMessage, &c.Confidence, &c.Severity,
			&c.PreventedFlapping, &ssl, &c.CheckedAt); err != nil {
			return nil, err
		}
		if ssl != "" {
			c.SSLInfo = json.RawMessage(ssl)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// RecentStates returns the status strings of the last limit checks, oldest
// first, ready for the health evaluator.
func (s *Store) RecentStates(monitorID string, limit int) ([]string, error) {
	checks, err := s.RecentChecks(monitorID, limit)
	if err != nil {
		return nil, err
	}
	states := make([]string, len(checks))
	for i, c := range checks {
		states[len(checks)-1-i] = c.Status
	}
	return states, nil
}

// PruneChecks deletes checks older than the retention window.
func (s *Store) PruneChecks(days int) (int64, error) {
	if days < 1 || days > 3650 {
		return 0, fmt.Errorf("invalid retention days %d: must be between 1 and 3650", days)
	}

	var res interface{ RowsAffected() (int64, error) }
	var err error
	if s.IsPostgres() {
		res, err = s.db.Exec("DELETE FROM checks WHERE checked_at < NOW() - MAKE_INTERVAL(days => $1)", days)
	} else {
		res, err = s.db.Exec("DELETE FROM checks WHERE checked_at < datetime('now', '-' || ? || ' days')", days)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
