package db

import (
	"database/sql"
	"errors"
	"time"
)

// ErrMonitorNotFound is returned when a monitor id matches nothing.
var ErrMonitorNotFound = errors.New("monitor not found")

type Monitor struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Type                string     `json:"type"`
	Port                int        `json:"port,omitempty"`
	Interval            int        `json:"interval"` // seconds
	Timeout             int        `json:"timeout"`  // seconds
	DegradedThresholdMs int        `json:"degradedThresholdMs"`
	SSLExpiryDays       int        `json:"sslExpiryDays"`
	AlertThreshold      int        `json:"alertThreshold"`
	AllowUnauthorized   bool       `json:"allowUnauthorized"`
	StrictMode          bool       `json:"strictMode"`
	CheckRevocation     bool       `json:"checkRevocation"`
	Payload             string     `json:"payload,omitempty"`
	Active              bool       `json:"active"`
	Maintenance         bool       `json:"maintenance"`
	Status              string     `json:"status"`
	LastChecked         *time.Time `json:"lastChecked,omitempty"`
	LastResponseTime    int64      `json:"lastResponseTime"`
	TotalChecks         int64      `json:"totalChecks"`
	SuccessfulChecks    int64      `json:"successfulChecks"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	ConsecutiveDegraded int        `json:"consecutiveDegraded"`
	UptimePercentage    float64    `json:"uptimePercentage"`
	Uptime24h           float64    `json:"uptime24h"`
	CreatedAt           time.Time  `json:"createdAt"`
}

const monitorColumns = `id, name, url, type, port, interval_seconds, timeout_seconds,
	degraded_threshold_ms, ssl_expiry_days, alert_threshold, allow_unauthorized,
	strict_mode, check_revocation, payload, active, maintenance, status,
	last_checked, last_response_time, total_checks, successful_checks,
	consecutive_failures, consecutive_degraded, uptime_percentage, uptime_24h, created_at`

func (s *Store) CreateMonitor(m Monitor) error {
	if m.Interval < 1 {
		m.Interval = 60
	}
	if m.Timeout < 1 {
		m.Timeout = 30
	}
	if m.DegradedThresholdMs < 1 {
		m.DegradedThresholdMs = 2000
	}
	if m.SSLExpiryDays < 1 {
		m.SSLExpiryDays = 14
	}
	if m.AlertThreshold < 1 {
		m.AlertThreshold = 2
	}
	if m.Status == "" {
		m.Status = "unknown"
	}
	_, err := s.db.Exec(s.rebind(`INSERT INTO monitors
		(id, name, url, type, port, interval_seconds, timeout_seconds, degraded_threshold_ms,
		 ssl_expiry_days, alert_threshold, allow_unauthorized, strict_mode, check_revocation,
		 payload, active, maintenance, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Name, m.URL, m.Type, m.Port, m.Interval, m.Timeout, m.DegradedThresholdMs,
		m.SSLExpiryDays, m.AlertThreshold, m.AllowUnauthorized, m.StrictMode, m.CheckRevocation,
		m.Payload, m.Active, m.Maintenance, m.Status, time.Now())
	return err
}

func (s *Store) UpdateMonitor(m Monitor) error {
	if m.Interval < 1 {
		m.Interval = 60
	}
	res, err := s.db.Exec(s.rebind(`UPDATE monitors SET
		name = ?, url = ?, type = ?, port = ?, interval_seconds = ?, timeout_seconds = ?,
		degraded_threshold_ms = ?, ssl_expiry_days = ?, alert_threshold = ?,
		allow_unauthorized = ?, strict_mode = ?, check_revocation = ?, payload = ?
		WHERE id = ?`),
		m.Name, m.URL, m.Type, m.Port, m.Interval, m.Timeout,
		m.DegradedThresholdMs, m.SSLExpiryDays, m.AlertThreshold,
		m.AllowUnauthorized, m.StrictMode, m.CheckRevocation, m.Payload, m.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

func (s *Store) DeleteMonitor(id string) error {
	_, err := s.db.Exec(s.rebind("DELETE FROM monitors WHERE id = ?"), id)
	return err
}

func (s *Store) SetMonitorActive(id string, active bool) error {
	res, err := s.db.Exec(s.rebind("UPDATE monitors SET active = ? WHERE id = ?"), active, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

func (s *Store) SetMonitorMaintenance(id string, maintenance bool) error {
	res, err := s.db.Exec(s.rebind("UPDATE monitors SET maintenance = ? WHERE id = ?"), maintenance, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

func (s *Store) GetMonitor(id string) (*Monitor, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+monitorColumns+" FROM monitors WHERE id = ?"), id)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetMonitors() ([]Monitor, error) {
	rows, err := s.db.Query("SELECT " + monitorColumns + " FROM monitors ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// GetActiveMonitors returns monitors eligible for scheduling: active and not
// under maintenance.
func (s *Store) GetActiveMonitors() ([]Monitor, error) {
	rows, err := s.db.Query("SELECT " + monitorColumns +
		" FROM monitors WHERE active = TRUE AND maintenance = FALSE ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row rowScanner) (*Monitor, error) {
	var m Monitor
	var lastChecked sql.NullTime
	err := row.Scan(&m.ID, &m.Name, &m.URL, &m.Type, &m.Port, &m.Interval, &m.Timeout,
		&m.DegradedThresholdMs, &m.SSLExpiryDays, &m.AlertThreshold, &m.AllowUnauthorized,
		&m.StrictMode, &m.CheckRevocation, &m.Payload, &m.Active, &m.Maintenance, &m.Status,
		&lastChecked, &m.LastResponseTime, &m.TotalChecks, &m.SuccessfulChecks,
		&m.ConsecutiveFailures, &m.ConsecutiveDegraded, &m.UptimePercentage, &m.Uptime24h, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		m.LastChecked = &lastChecked.Time
	}
	return &m, nil
}

// ApplyCheckResult performs the per-check monitor mutation as one statement:
// status, lastChecked, lastResponseTime, totalChecks, and the consecutive
// counters move together or not at all.
//
// The visible status column takes the evaluated (hysteresis-held) state;
// the counters always follow rawStatus, what the check actually saw. A held
// transition must not record a failing check as successful or delay the
// failure streak that opens the incident.
//
// raw down:     consecutiveFailures++, consecutiveDegraded = 0
// raw degraded: consecutiveDegraded++, consecutiveFailures = 0, successfulChecks++
// raw up:       both counters reset, successfulChecks++
// raw unknown:  both counters reset, successfulChecks unchanged
func (s *Store) ApplyCheckResult(id, status, rawStatus string, checkedAt time.Time, responseTime int64) (*Monitor, error) {
	res, err := s.db.Exec(s.rebind(`UPDATE monitors SET
		status = ?,
		last_checked = ?,
		last_response_time = ?,
		total_checks = total_checks + 1,
		successful_checks = successful_checks + CASE WHEN ? IN ('up', 'degraded') THEN 1 ELSE 0 END,
		consecutive_failures = CASE WHEN ? = 'down' THEN consecutive_failures + 1 ELSE 0 END,
		consecutive_degraded = CASE WHEN ? = 'degraded' THEN consecutive_degraded + 1 ELSE 0 END
		WHERE id = ?`),
		status, checkedAt, responseTime, rawStatus, rawStatus, rawStatus, id)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrMonitorNotFound
	}
	return s.GetMonitor(id)
}

// UpdateUptime recomputes and stores the lifetime and 24h uptime
// percentages. Lifetime comes from the running counters; the 24h figure is
// two indexed counts over the checks table.
func (s *Store) UpdateUptime(id string) (lifetime, last24h float64, err error) {
	var total, successful int64
	err = s.db.QueryRow(s.rebind(
		"SELECT total_checks, successful_checks FROM monitors WHERE id = ?"), id).
		Scan(&total, &successful)
	if err == sql.ErrNoRows {
		return 0, 0, ErrMonitorNotFound
	}
	if err != nil {
		return 0, 0, err
	}

	lifetime = 100.0
	if total > 0 {
		lifetime = float64(successful) / float64(total) * 100.0
	}

	var query string
	// Only up and degraded count as successful; unknown is inconclusive,
	// not a success.
	if s.IsPostgres() {
		query = `SELECT
			COUNT(*),
			COUNT(CASE WHEN status IN ('up', 'degraded') THEN 1 END)
			FROM checks WHERE monitor_id = $1 AND checked_at > NOW() - INTERVAL '1 day'`
	} else {
		query = `SELECT
			COUNT(*),
			COUNT(CASE WHEN status IN ('up', 'degraded') THEN 1 END)
			FROM checks WHERE monitor_id = ? AND checked_at > datetime('now', '-1 days')`
	}
	var t24, u24 int64
	if err = s.db.QueryRow(query, id).Scan(&t24, &u24); err != nil {
		return 0, 0, err
	}
	last24h = 100.0
	if t24 > 0 {
		last24h = float64(u24) / float64(t24) * 100.0
	}

	_, err = s.db.Exec(s.rebind(
		"UPDATE monitors SET uptime_percentage = ?, uptime_24h = ? WHERE id = ?"),
		lifetime, last24h, id)
	return lifetime, last24h, err
}
