package config

import (
	"os"
	"runtime"
	"strconv"
)

type Config struct {
	ListenAddr string

	// Database: sqlite3 (DBPath) by default, postgres (DBURL) when set.
	DBDriver string
	DBPath   string
	DBURL    string

	// Redis backs the job queue, the master lock and the event topic.
	RedisURL string

	// WorkerConcurrency of 0 means auto: max(2, min(2*CPU, 20)).
	WorkerConcurrency int

	// ForceMaster skips the election and is honored only with DevMode.
	ForceMaster bool
	DevMode     bool
}

func Default() Config {
	return Config{
		ListenAddr: ":9310",
		DBDriver:   "sqlite3",
		DBPath:     "pulseguard.db",
		RedisURL:   "redis://localhost:6379/0",
	}
}

func Load() (*Config, error) {
	cfg := Default()

	if listen := os.Getenv("LISTEN_ADDR"); listen != "" {
		cfg.ListenAddr = listen
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if dbURL := os.Getenv("DB_URL"); dbURL != "" {
		cfg.DBURL = dbURL
		cfg.DBDriver = "postgres"
	}

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.DBDriver = driver
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.RedisURL = redisURL
	}

	if raw := os.Getenv("WORKER_CONCURRENCY"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.WorkerConcurrency = n
		}
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	cfg.ForceMaster = os.Getenv("FORCE_MASTER") == "true"

	return &cfg, nil
}

// Workers resolves the effective worker pool size.
func (c *Config) Workers() int {
	if c.WorkerConcurrency > 0 {
		return c.WorkerConcurrency
	}
	n := runtime.NumCPU() * 2
	if n > 20 {
		n = 20
	}
	if n < 2 {
		n = 2
	}
	return n
}
