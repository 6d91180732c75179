package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pulseguard/pulseguard/internal/db"
)

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness: the process serves traffic only when the store
// answers.
func Readyz(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type SystemHandler struct {
	store *db.Store
	sched Control
}

func NewSystemHandler(store *db.Store, sched Control) *SystemHandler {
	return &SystemHandler{store: store, sched: sched}
}

func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetSystemStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalMonitors":    stats.TotalMonitors,
		"activeMonitors":   stats.ActiveMonitors,
		"downMonitors":     stats.DownMonitors,
		"degradedMonitors": stats.DegradedMonitors,
		"ongoingIncidents": stats.OngoingIncidents,
		"dailyChecks":      stats.DailyChecks,
		"isMaster":         h.sched.IsMaster(),
	})
}

func (h *SystemHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"retentionDays":     h.store.RetentionDays(),
		"globalMaintenance": h.store.GlobalMaintenance(),
	})
}

func (h *SystemHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays     *int  `json:"retentionDays"`
		GlobalMaintenance *bool `json:"globalMaintenance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RetentionDays != nil {
		if *req.RetentionDays < 1 || *req.RetentionDays > 3650 {
			writeError(w, http.StatusBadRequest, "retentionDays must be between 1 and 3650")
			return
		}
		if err := h.store.SetSetting("retention_days", strconv.Itoa(*req.RetentionDays)); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}
	if req.GlobalMaintenance != nil {
		if err := h.store.SetSetting("maintenance_global", strconv.FormatBool(*req.GlobalMaintenance)); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}
	h.GetSettings(w, r)
}

func (h *SystemHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	if keys == nil {
		keys = []db.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *SystemHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	raw, err := h.store.CreateAPIKey(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create key")
		return
	}
	// The raw key is shown exactly once; only the hash is stored.
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name, "key": raw})
}

func (h *SystemHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := h.store.DeleteAPIKey(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
