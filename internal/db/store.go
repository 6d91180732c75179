// Package db is the persistence layer. One Store speaks both sqlite3 and
// postgres; queries are written with ? placeholders and rebound per driver.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db     *sql.DB
	driver string
}

// NewStore opens a sqlite3 database at path and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	return open("sqlite3", dbPath)
}

// NewPostgresStore connects to postgres with the given DSN and runs
// migrations.
func NewPostgresStore(dsn string) (*Store, error) {
	return open("postgres", dsn)
}

func open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, err
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity for readiness probes.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) IsPostgres() bool {
	return s.driver == "postgres"
}

// rebind converts ? placeholders to $1..$n for postgres. SQLite takes the
// query unchanged.
func (s *Store) rebind(query string) string {
	if !s.IsPostgres() {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	boolTrue, boolFalse := "TRUE", "FALSE"
	if s.IsPostgres() {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS monitors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'http',
		port INTEGER DEFAULT 0,
		interval_seconds INTEGER NOT NULL DEFAULT 60,
		timeout_seconds INTEGER NOT NULL DEFAULT 30,
		degraded_threshold_ms INTEGER NOT NULL DEFAULT 2000,
		ssl_expiry_days INTEGER NOT NULL DEFAULT 14,
		alert_threshold INTEGER NOT NULL DEFAULT 2,
		allow_unauthorized BOOLEAN DEFAULT %[2]s,
		strict_mode BOOLEAN DEFAULT %[2]s,
		check_revocation BOOLEAN DEFAULT %[2]s,
		payload TEXT DEFAULT '',
		active BOOLEAN DEFAULT %[1]s,
		maintenance BOOLEAN DEFAULT %[2]s,
		status TEXT NOT NULL DEFAULT 'unknown',
		last_checked TIMESTAMP,
		last_response_time INTEGER DEFAULT 0,
		total_checks INTEGER NOT NULL DEFAULT 0,
		successful_checks INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		consecutive_degraded INTEGER NOT NULL DEFAULT 0,
		uptime_percentage REAL NOT NULL DEFAULT 100,
		uptime_24h REAL NOT NULL DEFAULT 100,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS checks (
		id %[3]s,
		monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		response_time INTEGER NOT NULL DEFAULT 0,
		status_code INTEGER DEFAULT 0,
		error_type TEXT DEFAULT '',
		error_message TEXT DEFAULT '',
		confidence REAL DEFAULT 0,
		severity REAL DEFAULT 0,
		prevented_flapping BOOLEAN DEFAULT %[2]s,
		ssl_info TEXT DEFAULT '',
		checked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_checks_monitor_ts ON checks(monitor_id, checked_at DESC);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		error_type TEXT DEFAULT '',
		error_message TEXT DEFAULT '',
		status_code INTEGER DEFAULT 0,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		duration_ms INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_monitor_status ON incidents(monitor_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_ongoing ON incidents(monitor_id) WHERE status = 'ongoing';

	CREATE TABLE IF NOT EXISTS api_keys (
		id %[3]s,
		key_prefix TEXT NOT NULL,
		key_hash TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`, boolTrue, boolFalse, serial)

	if _, err := s.db.Exec(query); err != nil {
		return err
	}

	// Defaults seeded once; existing values win.
	seed := "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING"
	for key, value := range map[string]string{
		"retention_days":     "90",
		"alert_threshold":    "2",
		"maintenance_global": "false",
	} {
		if _, err := s.db.Exec(s.rebind(seed), key, value); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops and recreates every table. Test and dev tooling only.
func (s *Store) Reset() error {
	if !s.IsPostgres() {
		if _, err := s.db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
			return err
		}
	}

	suffix := ""
	if s.IsPostgres() {
		suffix = " CASCADE"
	}
	for _, table := range []string{"checks", "incidents", "api_keys", "settings", "monitors"} {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table + suffix); err != nil {
			return err
		}
	}

	if !s.IsPostgres() {
		if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return err
		}
	}
	return s.migrate()
}
