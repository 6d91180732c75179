package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type APIKey struct {
	ID        int64      `json:"id"`
	KeyPrefix string     `json:"keyPrefix"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
}

// CreateAPIKey mints a key, stores the bcrypt hash, and returns the raw key
// exactly once.
func (s *Store) CreateAPIKey(name string) (string, error) {
	keyBytes := make([]byte, 24)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", err
	}
	rawKey := "pg_live_" + hex.EncodeToString(keyBytes)
	prefix := rawKey[:12] // "pg_live_" plus the first 4 hex chars

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(s.rebind("INSERT INTO api_keys (key_prefix, key_hash, name) VALUES (?, ?, ?)"),
		prefix, string(hash), name)
	if err != nil {
		return "", err
	}

	return rawKey, nil
}

func (s *Store) ListAPIKeys() ([]APIKey, error) {
	rows, err := s.db.Query("SELECT id, key_prefix, name, created_at, last_used_at FROM api_keys ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.KeyPrefix, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsed = &lastUsed.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) DeleteAPIKey(id int64) error {
	_, err := s.db.Exec(s.rebind("DELETE FROM api_keys WHERE id = ?"), id)
	return err
}

// ValidateAPIKey checks a presented key against the stored hashes sharing its
// prefix.
func (s *Store) ValidateAPIKey(key string) (bool, error) {
	if len(key) < 12 {
		return false, nil
	}
	prefix := key[:12]

	rows, err := s.db.Query(s.rebind("SELECT id, key_hash FROM api_keys WHERE key_prefix = ?"), prefix)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			continue
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err == nil {
			// last_used_at is best-effort; sql.DB is safe for concurrent use.
			go func(keyID int64) {
				_, _ = s.db.Exec(s.rebind("UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?"), keyID)
			}(id)
			return true, nil
		}
	}

	return false, nil
}
