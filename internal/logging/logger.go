package logging

import (
	"io"
	"log"
	"os"
)

var debugEnabled = os.Getenv("LOG_DEBUG") == "true"

// New returns a logger with a consistent component prefix to simplify traceability.
func New(component string) *log.Logger {
	prefix := component
	if prefix != "" {
		prefix = "[" + component + "] "
	}

	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Debug returns a logger for transient, high-volume conditions (Redis
// reconnects, claim retries). It writes nothing unless LOG_DEBUG=true.
func Debug(component string) *log.Logger {
	if !debugEnabled {
		return log.New(io.Discard, "", 0)
	}
	prefix := component
	if prefix != "" {
		prefix = "[" + component + ":debug] "
	}
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
}
