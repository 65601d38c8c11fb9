package store

import (
	"time"

	"field-sync-service/internal/nmea"
)

// Geometry kinds a feature type can describe.
const (
	GeometryPoint   = "Point"
	GeometryLine    = "Line"
	GeometryPolygon = "Polygon"
)

// NMEASnapshot freezes the fix the receiver reported at the instant a
// point was captured. The RMS values are computed once, here, and
// persisted; they are never rederived from later receiver state.
type NMEASnapshot struct {
	GGA           *nmea.GGAData `json:"gga,omitempty"`
	GST           *nmea.GSTData `json:"gst,omitempty"`
	HorizontalRMS float64       `json:"horizontal_rms"`
	VerticalRMS   float64       `json:"vertical_rms"`
}

// PointCollected is one captured vertex or standalone point. ClientID
// is assigned locally before any network call and is the only identity
// used for deduplication; ServerID is write-once, set from a sync
// acknowledgement.
type PointCollected struct {
	ClientID        string                 `db:"client_id" json:"client_id"`
	ServerID        *int64                 `db:"server_id" json:"server_id,omitempty"`
	ProjectID       int64                  `db:"project_id" json:"project_id"`
	FeatureTypeID   int64                  `db:"feature_type_id" json:"feature_type_id"`
	FeatureClientID *string                `db:"feature_client_id" json:"feature_client_id,omitempty"`
	PointIndex      int                    `db:"point_index" json:"point_index"`
	Longitude       float64                `db:"longitude" json:"longitude"`
	Latitude        float64                `db:"latitude" json:"latitude"`
	Name            string                 `db:"name" json:"name,omitempty"`
	Description     string                 `db:"description" json:"description,omitempty"`
	Attributes      map[string]interface{} `db:"attributes" json:"attributes,omitempty"`
	NMEA            *NMEASnapshot          `db:"nmea_data" json:"nmea_data,omitempty"`
	CreatedBy       string                 `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedBy       string                 `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
	IsSynced        bool                   `db:"is_synced" json:"is_synced"`
	IsActive        bool                   `db:"is_active" json:"is_active"`
}

// CollectedFeature groups the ordered points of one line or polygon.
// Member points carry PointIndex; geometry reconstruction re-sorts by
// that index, never by storage order.
type CollectedFeature struct {
	ClientID      string                 `db:"client_id" json:"client_id"`
	ServerID      *int64                 `db:"server_id" json:"server_id,omitempty"`
	ProjectID     int64                  `db:"project_id" json:"project_id"`
	FeatureTypeID int64                  `db:"feature_type_id" json:"feature_type_id"`
	GeometryType  string                 `db:"geometry_type" json:"geometry_type"`
	Name          string                 `db:"name" json:"name,omitempty"`
	Description   string                 `db:"description" json:"description,omitempty"`
	Attributes    map[string]interface{} `db:"attributes" json:"attributes,omitempty"`
	CreatedBy     string                 `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedBy     string                 `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
	IsSynced      bool                   `db:"is_synced" json:"is_synced"`
	IsActive      bool                   `db:"is_active" json:"is_active"`
}

// FeatureType is a catalog entry. The catalog is a disposable cache
// keyed by project: replaced wholesale on re-fetch, cleared on project
// switch.
type FeatureType struct {
	ID           int64   `db:"id" json:"id"`
	ProjectID    int64   `db:"project_id" json:"project_id"`
	Name         string  `db:"name" json:"name"`
	Category     string  `db:"category" json:"category,omitempty"`
	GeometryType string  `db:"geometry_type" json:"geometry_type"`
	Color        string  `db:"color" json:"color,omitempty"`
	LineWeight   float64 `db:"line_weight" json:"line_weight,omitempty"`
	DashPattern  string  `db:"dash_pattern" json:"dash_pattern,omitempty"`
	DrawLayer    string  `db:"draw_layer" json:"draw_layer,omitempty"`
	ZValue       int     `db:"z_value" json:"z_value,omitempty"`
	ImageURL     string  `db:"image_url" json:"image_url,omitempty"`
	SVG          string  `db:"svg" json:"svg,omitempty"`
	IsActive     bool    `db:"is_active" json:"is_active"`
}

// SyncedPoint is one server acknowledgement: the client id the server
// accepted plus, when the server assigned one, the canonical id.
type SyncedPoint struct {
	ClientID string
	ServerID *int64
}
