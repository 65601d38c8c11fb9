package api

import (
	"net/http"
)

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type offlineRequest struct {
	Offline bool `json:"offline"`
}

// SetToken installs the bearer token the shell obtained at login.
func (h *Handler) SetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.session.SetToken(req.Token); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.session.Snapshot())
}

// Logout clears the session and removes the persisted token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SetToken(""); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) SetOffline(w http.ResponseWriter, r *http.Request) {
	var req offlineRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.session.SetOffline(req.Offline)
	respondJSON(w, http.StatusOK, h.session.Snapshot())
}
