package remote

import (
	"encoding/json"

	"field-sync-service/internal/store"
)

// Older server builds emit alias fields: title for name, image for
// image_url, type for geometry_type, and any of coords, coordinates,
// or latitude+longitude for position. The wire structs accept the
// union; normalize() collapses each into the one canonical shape.

type projectWire struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

type featureTypeWire struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Title        string  `json:"title"`
	Category     string  `json:"category"`
	Type         string  `json:"type"`
	GeometryType string  `json:"geometry_type"`
	Color        string  `json:"color"`
	LineWeight   float64 `json:"line_weight"`
	DashPattern  string  `json:"dash_pattern"`
	DrawLayer    string  `json:"draw_layer"`
	ZValue       int     `json:"z_value"`
	Image        string  `json:"image"`
	ImageURL     string  `json:"image_url"`
	SVG          string  `json:"svg"`
	IsActive     *bool   `json:"is_active"`
}

func (w featureTypeWire) normalize(projectID int64) *store.FeatureType {
	active := true
	if w.IsActive != nil {
		active = *w.IsActive
	}
	return &store.FeatureType{
		ID:           w.ID,
		ProjectID:    projectID,
		Name:         firstNonEmpty(w.Name, w.Title),
		Category:     w.Category,
		GeometryType: firstNonEmpty(w.GeometryType, w.Type),
		Color:        w.Color,
		LineWeight:   w.LineWeight,
		DashPattern:  w.DashPattern,
		DrawLayer:    w.DrawLayer,
		ZValue:       w.ZValue,
		ImageURL:     firstNonEmpty(w.ImageURL, w.Image),
		SVG:          w.SVG,
		IsActive:     active,
	}
}

type serverFeatureWire struct {
	ID            int64                  `json:"id"`
	ClientID      string                 `json:"client_id"`
	Name          string                 `json:"name"`
	Title         string                 `json:"title"`
	Category      int64                  `json:"category"`
	FeatureTypeID int64                  `json:"feature_type_id"`
	Type          string                 `json:"type"`
	GeometryType  string                 `json:"geometry_type"`
	Coords        json.RawMessage        `json:"coords"`
	Coordinates   json.RawMessage        `json:"coordinates"`
	Latitude      *float64               `json:"latitude"`
	Longitude     *float64               `json:"longitude"`
	Attributes    map[string]interface{} `json:"attributes"`
}

func (w serverFeatureWire) normalize() (*ServerFeature, bool) {
	coords, ok := decodeCoords(w.Coords)
	if !ok {
		coords, ok = decodeCoords(w.Coordinates)
	}
	if !ok && w.Latitude != nil && w.Longitude != nil {
		coords = [][2]float64{{*w.Longitude, *w.Latitude}}
		ok = true
	}
	if !ok || len(coords) == 0 {
		return nil, false
	}

	ftID := w.FeatureTypeID
	if ftID == 0 {
		ftID = w.Category
	}

	geometry := firstNonEmpty(w.GeometryType, w.Type)
	if geometry == "" {
		if len(coords) == 1 {
			geometry = store.GeometryPoint
		} else {
			geometry = store.GeometryLine
		}
	}

	return &ServerFeature{
		ID:            w.ID,
		ClientID:      w.ClientID,
		Name:          firstNonEmpty(w.Name, w.Title),
		FeatureTypeID: ftID,
		GeometryType:  geometry,
		Coordinates:   coords,
		Attributes:    w.Attributes,
	}, true
}

// decodeCoords accepts either one [lon, lat] pair or a list of them.
func decodeCoords(raw json.RawMessage) ([][2]float64, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var pairs [][2]float64
	if err := json.Unmarshal(raw, &pairs); err == nil {
		if len(pairs) == 0 {
			return nil, false
		}
		return pairs, true
	}

	var pair [2]float64
	if err := json.Unmarshal(raw, &pair); err == nil {
		return [][2]float64{pair}, true
	}
	return nil, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
