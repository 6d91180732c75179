package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulseguard/pulseguard/internal/db"
	"github.com/pulseguard/pulseguard/internal/logging"
	"github.com/pulseguard/pulseguard/internal/probe"
)

type MonitorHandler struct {
	store *db.Store
	sched Control
	log   *log.Logger
}

func NewMonitorHandler(store *db.Store, sched Control) *MonitorHandler {
	return &MonitorHandler{store: store, sched: sched, log: logging.New("api")}
}

// monitorRequest is the mutable subset of a monitor.
type monitorRequest struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	Type                string `json:"type"`
	Port                int    `json:"port"`
	Interval            int    `json:"interval"`
	Timeout             int    `json:"timeout"`
	DegradedThresholdMs int    `json:"degradedThresholdMs"`
	SSLExpiryDays       int    `json:"sslExpiryDays"`
	AlertThreshold      int    `json:"alertThreshold"`
	AllowUnauthorized   bool   `json:"allowUnauthorized"`
	StrictMode          bool   `json:"strictMode"`
	CheckRevocation     bool   `json:"checkRevocation"`
	Payload             string `json:"payload"`
}

// validate normalizes the target and rejects monitors pointed at internal
// infrastructure before anything is persisted.
func (req *monitorRequest) validate() (string, *probe.ValidationError) {
	if req.Type == "" {
		req.Type = probe.TypeHTTP
	}
	return probe.ValidateNewMonitor(req.URL, req.Type)
}

func (h *MonitorHandler) List(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.store.GetMonitors()
	if err != nil {
		h.log.Printf("list monitors: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list monitors")
		return
	}
	if monitors == nil {
		monitors = []db.Monitor{}
	}
	writeJSON(w, http.StatusOK, monitors)
}

func (h *MonitorHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.GetMonitor(chi.URLParam(r, "id"))
	if err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load monitor")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MonitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	normalized, vErr := req.validate()
	if vErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":     vErr.Message,
			"errorType": vErr.Type,
		})
		return
	}

	m := db.Monitor{
		ID:                  uuid.NewString(),
		Name:                req.Name,
		URL:                 normalized,
		Type:                req.Type,
		Port:                req.Port,
		Interval:            req.Interval,
		Timeout:             req.Timeout,
		DegradedThresholdMs: req.DegradedThresholdMs,
		SSLExpiryDays:       req.SSLExpiryDays,
		AlertThreshold:      req.AlertThreshold,
		AllowUnauthorized:   req.AllowUnauthorized,
		StrictMode:          req.StrictMode,
		CheckRevocation:     req.CheckRevocation,
		Payload:             req.Payload,
		Active:              true,
	}
	if m.Name == "" {
		m.Name = normalized
	}
	if err := h.store.CreateMonitor(m); err != nil {
		h.log.Printf("create monitor: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create monitor")
		return
	}

	// A fresh monitor gets its first check right away.
	if _, err := h.sched.TriggerImmediate(r.Context(), m.ID); err != nil {
		h.log.Printf("initial check for %s: %v", m.ID, err)
	}

	created, err := h.store.GetMonitor(m.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load monitor")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *MonitorHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	normalized, vErr := req.validate()
	if vErr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":     vErr.Message,
			"errorType": vErr.Type,
		})
		return
	}

	m := db.Monitor{
		ID:                  id,
		Name:                req.Name,
		URL:                 normalized,
		Type:                req.Type,
		Port:                req.Port,
		Interval:            req.Interval,
		Timeout:             req.Timeout,
		DegradedThresholdMs: req.DegradedThresholdMs,
		SSLExpiryDays:       req.SSLExpiryDays,
		AlertThreshold:      req.AlertThreshold,
		AllowUnauthorized:   req.AllowUnauthorized,
		StrictMode:          req.StrictMode,
		CheckRevocation:     req.CheckRevocation,
		Payload:             req.Payload,
	}
	if err := h.store.UpdateMonitor(m); err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	} else if err != nil {
		h.log.Printf("update monitor %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to update monitor")
		return
	}

	// Changed settings restart the schedule: drop pending jobs and check
	// now with the new configuration.
	if err := h.sched.RemoveMonitor(r.Context(), id); err != nil {
		h.log.Printf("requeue %s: %v", id, err)
	}
	if _, err := h.sched.TriggerImmediate(r.Context(), id); err != nil {
		h.log.Printf("requeue %s: %v", id, err)
	}

	updated, err := h.store.GetMonitor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load monitor")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *MonitorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sched.RemoveMonitor(r.Context(), id); err != nil {
		h.log.Printf("dequeue %s: %v", id, err)
	}
	if err := h.store.DeleteMonitor(id); err != nil {
		h.log.Printf("delete monitor %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete monitor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MonitorHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetMonitorActive(id, false); err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pause monitor")
		return
	}
	if err := h.sched.RemoveMonitor(r.Context(), id); err != nil {
		h.log.Printf("dequeue %s: %v", id, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

func (h *MonitorHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.SetMonitorActive(id, true); err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume monitor")
		return
	}
	if _, err := h.sched.TriggerImmediate(r.Context(), id); err != nil {
		h.log.Printf("resume check for %s: %v", id, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (h *MonitorHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.SetMonitorMaintenance(id, req.Enabled); err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update maintenance")
		return
	}
	// Leaving maintenance re-arms the schedule; a master change during the
	// window may have dropped the monitor from the queue.
	if !req.Enabled {
		if _, err := h.sched.TriggerImmediate(r.Context(), id); err != nil {
			h.log.Printf("post-maintenance check for %s: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"maintenance": req.Enabled})
}

// TriggerCheck enqueues a high-priority check. 202 whether or not a pending
// immediate job de-bounced it.
func (h *MonitorHandler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetMonitor(id); err == db.ErrMonitorNotFound {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load monitor")
		return
	}

	queued, err := h.sched.TriggerImmediate(r.Context(), id)
	if err != nil {
		h.log.Printf("trigger check for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to queue check")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (h *MonitorHandler) Checks(w http.ResponseWriter, r *http.Request) {
	checks, err := h.store.RecentChecks(chi.URLParam(r, "id"), queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list checks")
		return
	}
	if checks == nil {
		checks = []db.Check{}
	}
	writeJSON(w, http.StatusOK, checks)
}

func (h *MonitorHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.store.ListIncidents(chi.URLParam(r, "id"), queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []db.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
