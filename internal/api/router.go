// Package api serves the JSON management surface: monitor CRUD, check and
// incident history, settings, API keys, health probes and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/pulseguard/pulseguard/internal/config"
	"github.com/pulseguard/pulseguard/internal/db"
)

// Control is the scheduler surface the API drives. Monitor mutations map to
// queue operations; the scheduler package implements this.
type Control interface {
	TriggerImmediate(ctx context.Context, monitorID string) (bool, error)
	RemoveMonitor(ctx context.Context, monitorID string) error
	ScheduleAfter(monitorID string, delay time.Duration) error
	IsMaster() bool
}

// SecurityHeaders adds the standard hardening headers to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the HTTP router.
func NewRouter(store *db.Store, sched Control, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	// High enough for dashboards polling aggressively, low enough to blunt
	// abuse.
	apiLimiter := NewIPRateLimiter(rate.Limit(100), 200)

	monitorsH := NewMonitorHandler(store, sched)
	systemH := NewSystemHandler(store, sched)

	// Probes and metrics: unauthenticated, unlimited.
	r.Get("/healthz", Healthz)
	r.Get("/readyz", Readyz(store))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(RateLimitMiddleware(apiLimiter))
		api.Use(APIKeyAuth(store))

		api.Get("/monitors", monitorsH.List)
		api.Post("/monitors", monitorsH.Create)
		api.Get("/monitors/{id}", monitorsH.Get)
		api.Put("/monitors/{id}", monitorsH.Update)
		api.Delete("/monitors/{id}", monitorsH.Delete)
		api.Post("/monitors/{id}/pause", monitorsH.Pause)
		api.Post("/monitors/{id}/resume", monitorsH.Resume)
		api.Post("/monitors/{id}/maintenance", monitorsH.Maintenance)
		api.Post("/monitors/{id}/check", monitorsH.TriggerCheck)
		api.Get("/monitors/{id}/checks", monitorsH.Checks)
		api.Get("/monitors/{id}/incidents", monitorsH.Incidents)

		api.Get("/stats", systemH.Stats)
		api.Get("/settings", systemH.GetSettings)
		api.Patch("/settings", systemH.UpdateSettings)

		api.Get("/api-keys", systemH.ListKeys)
		api.Post("/api-keys", systemH.CreateKey)
		api.Delete("/api-keys/{id}", systemH.DeleteKey)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
