package api

import (
	"net/http"

	"field-sync-service/internal/auth"
	"field-sync-service/internal/gnss"
	"field-sync-service/internal/sync"
)

type statusResponse struct {
	Sync          sync.Status   `json:"sync"`
	GNSS          *gnss.Fix     `json:"gnss,omitempty"`
	Auth          auth.Snapshot `json:"auth"`
	Online        bool          `json:"online"`
	Collecting    bool          `json:"collecting"`
	ActiveProject int64         `json:"active_project,omitempty"`
}

// Status is the one-call overview the shell polls: sync state, live
// fix, session, connectivity.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Sync:          h.engine.Status(r.Context()),
		GNSS:          h.monitor.CurrentFix(),
		Auth:          h.session.Snapshot(),
		Online:        h.watcher.Online(),
		Collecting:    h.collector.Active(),
		ActiveProject: h.catalog.Current(),
	})
}

type skippedResponse struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// TriggerSync is the manual global sync. A closed gate is a skip, not
// an error; the shell shows the reason.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, ran := h.orchestrator.Attempt(r.Context(), sync.TriggerManual)
	if !ran {
		respondJSON(w, http.StatusOK, skippedResponse{Skipped: true, Reason: result.ErrorMessage})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// TriggerProjectSync syncs one project, still behind the gate.
func (h *Handler) TriggerProjectSync(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	if ok, reason := h.gate.CanSync(r.Context()); !ok {
		respondJSON(w, http.StatusOK, skippedResponse{Skipped: true, Reason: reason})
		return
	}

	respondJSON(w, http.StatusOK, h.engine.SyncProject(r.Context(), projectID))
}

// Foreground is the app-foreground lifecycle signal. The attempt runs
// in the background; the shell gets an immediate ack.
func (h *Handler) Foreground(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.Foreground()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
