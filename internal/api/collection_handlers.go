package api

import (
	"errors"
	"net/http"

	"field-sync-service/internal/collect"
)

type startCollectionRequest struct {
	ProjectID     int64    `json:"project_id" validate:"required,gt=0"`
	FeatureTypeID int64    `json:"feature_type_id" validate:"required,gt=0"`
	Latitude      *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type recordPointRequest struct {
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

type saveRequest struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Attributes    map[string]interface{} `json:"attributes"`
	CollectedBy   string                 `json:"collected_by"`
	ReservationID string                 `json:"reservation_id"`
}

type markerRequest struct {
	TentativeID string `json:"tentative_id" validate:"required"`
}

// collectStatus maps the state machine's sentinels onto HTTP codes:
// a busy session conflicts, validation fails the request, anything
// else is storage.
func collectStatus(err error) int {
	switch {
	case errors.Is(err, collect.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, collect.ErrNoSession),
		errors.Is(err, collect.ErrNoPosition),
		errors.Is(err, collect.ErrNoFeatureType),
		errors.Is(err, collect.ErrIncompleteFix),
		errors.Is(err, collect.ErrWrongGeometry),
		errors.Is(err, collect.ErrTooFewVertices):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func position(lat, lon *float64) *collect.Position {
	if lat == nil || lon == nil {
		return nil
	}
	return &collect.Position{Latitude: *lat, Longitude: *lon}
}

func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	s := h.collector.Current()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":  s != nil,
		"session": s,
	})
}

func (h *Handler) StartCollection(w http.ResponseWriter, r *http.Request) {
	var req startCollectionRequest
	if !h.decode(w, r, &req) {
		return
	}

	ft, err := h.store.FeatureType(r.Context(), req.ProjectID, req.FeatureTypeID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ft == nil {
		respondError(w, http.StatusBadRequest, "unknown feature type")
		return
	}

	session, err := h.collector.StartCollection(position(req.Latitude, req.Longitude), ft, req.ProjectID)
	if err != nil {
		respondError(w, collectStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) RecordPoint(w http.ResponseWriter, r *http.Request) {
	var req recordPointRequest
	if !h.decode(w, r, &req) {
		return
	}

	recorded := h.collector.RecordPoint(position(req.Latitude, req.Longitude))

	positions := 0
	if s := h.collector.Current(); s != nil {
		positions = len(s.Positions)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"recorded":  recorded,
		"positions": positions,
	})
}

func (h *Handler) SaveCurrentPoint(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.collector.SaveCurrentPoint(r.Context(), collect.SaveOptions{
		Name:          req.Name,
		Description:   req.Description,
		Attributes:    req.Attributes,
		CollectedBy:   req.CollectedBy,
		ReservationID: req.ReservationID,
	})
	if err != nil {
		respondError(w, collectStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) CompleteFeature(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !h.decode(w, r, &req) {
		return
	}

	f, err := h.collector.CompleteFeature(r.Context(), collect.SaveOptions{
		Name:          req.Name,
		Description:   req.Description,
		Attributes:    req.Attributes,
		CollectedBy:   req.CollectedBy,
		ReservationID: req.ReservationID,
	})
	if err != nil {
		respondError(w, collectStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (h *Handler) CancelCollection(w http.ResponseWriter, r *http.Request) {
	h.collector.StopCollection()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) ReserveMarker(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusCreated, map[string]string{"tentative_id": h.collector.Reserve()})
}

func (h *Handler) CommitMarker(w http.ResponseWriter, r *http.Request) {
	var req markerRequest
	if !h.decode(w, r, &req) {
		return
	}

	ids, err := h.collector.Commit(req.TentativeID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"client_ids": ids})
}

func (h *Handler) RollbackMarker(w http.ResponseWriter, r *http.Request) {
	var req markerRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.collector.Rollback(req.TentativeID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}
