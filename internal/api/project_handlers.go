package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"field-sync-service/internal/store"
)

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.remote.FetchProjects(r.Context())
	if err != nil {
		respondError(w, remoteStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, projects)
}

// ProjectFeatures renders everything collected locally for a project
// as one GeoJSON feature collection: composite features rebuilt from
// their member points, plus standalone points, all styled from the
// catalog.
func (h *Handler) ProjectFeatures(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	ctx := r.Context()

	types := make(map[int64]*store.FeatureType)
	if list, err := h.store.FeatureTypes(ctx, projectID); err == nil {
		for _, ft := range list {
			types[ft.ID] = ft
		}
	}

	fc := geojson.NewFeatureCollection()

	features, err := h.store.ListFeatures(ctx, projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, f := range features {
		pts, err := h.store.GetFeaturePoints(ctx, f.ClientID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if feat := store.FeatureGeoJSON(f, pts, types[f.FeatureTypeID]); feat != nil {
			fc.Append(feat)
		}
	}

	points, err := h.store.GetProjectPoints(ctx, projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, p := range points {
		if p.FeatureClientID != nil {
			continue // member vertices render through their feature
		}
		fc.Append(store.PointGeoJSON(p, types[p.FeatureTypeID]))
	}

	respondJSON(w, http.StatusOK, fc)
}

// ServerFeatures proxies the server's current features for the
// project, already normalized by the remote client.
func (h *Handler) ServerFeatures(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	features, err := h.remote.FetchActiveFeatures(r.Context(), projectID)
	if err != nil {
		respondError(w, remoteStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, features)
}

func (h *Handler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	types, err := h.catalog.Refresh(r.Context(), projectID)
	if err != nil {
		respondError(w, remoteStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, types)
}

func (h *Handler) ActivateProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	types, err := h.catalog.SwitchProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id":    projectID,
		"feature_types": types,
	})
}

func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r, "projectID")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	types, err := h.store.FeatureTypes(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, types)
}

func (h *Handler) GetPoint(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	p, err := h.store.GetPoint(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "point not found")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type updatePointRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Attributes  map[string]interface{} `json:"attributes"`
	UpdatedBy   string                 `json:"updated_by"`
}

// UpdatePoint is the edit-then-resync path: the stored point takes the
// new metadata and drops back into the unsynced queue.
func (h *Handler) UpdatePoint(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	var req updatePointRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.store.GetPoint(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "point not found")
		return
	}

	p.Name = req.Name
	p.Description = req.Description
	p.Attributes = req.Attributes
	p.UpdatedBy = req.UpdatedBy

	if err := h.store.UpdatePoint(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "point not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := h.store.GetPoint(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeactivateFeature(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	if err := h.store.DeactivateFeature(r.Context(), clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "feature not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
