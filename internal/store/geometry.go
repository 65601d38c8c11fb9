package store

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// SortPointsByIndex orders member points by their capture index.
// Storage order is never trusted for geometry.
func SortPointsByIndex(pts []*PointCollected) {
	sort.SliceStable(pts, func(i, j int) bool {
		return pts[i].PointIndex < pts[j].PointIndex
	})
}

// ReconstructGeometry rebuilds the orb geometry for a feature from its
// member points, re-sorting by point index first. Polygons get their
// ring closed when the capture left it open. Returns nil when there are
// no points or the geometry type is unknown.
func ReconstructGeometry(geometryType string, pts []*PointCollected) orb.Geometry {
	if len(pts) == 0 {
		return nil
	}
	SortPointsByIndex(pts)

	switch geometryType {
	case GeometryPoint:
		return orb.Point{pts[0].Longitude, pts[0].Latitude}

	case GeometryLine:
		ls := make(orb.LineString, 0, len(pts))
		for _, p := range pts {
			ls = append(ls, orb.Point{p.Longitude, p.Latitude})
		}
		return ls

	case GeometryPolygon:
		ring := make(orb.Ring, 0, len(pts)+1)
		for _, p := range pts {
			ring = append(ring, orb.Point{p.Longitude, p.Latitude})
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		return orb.Polygon{ring}
	}
	return nil
}

// GeometryLengthMeters is the geodesic length of a line, or perimeter
// of a polygon, in meters. Points have no length.
func GeometryLengthMeters(g orb.Geometry) float64 {
	switch geom := g.(type) {
	case orb.LineString:
		return geo.Length(geom)
	case orb.Polygon:
		var total float64
		for _, ring := range geom {
			total += geo.Length(orb.LineString(ring))
		}
		return total
	}
	return 0
}

// FeatureGeoJSON renders a collected feature with its catalog styling
// for the map layer. Returns nil when the geometry cannot be rebuilt.
func FeatureGeoJSON(f *CollectedFeature, pts []*PointCollected, ft *FeatureType) *geojson.Feature {
	geom := ReconstructGeometry(f.GeometryType, pts)
	if geom == nil {
		return nil
	}

	feat := geojson.NewFeature(geom)
	feat.ID = f.ClientID
	feat.Properties["client_id"] = f.ClientID
	feat.Properties["feature_type_id"] = f.FeatureTypeID
	feat.Properties["is_synced"] = f.IsSynced
	if f.Name != "" {
		feat.Properties["name"] = f.Name
	}
	if f.Description != "" {
		feat.Properties["description"] = f.Description
	}
	for k, v := range f.Attributes {
		feat.Properties[k] = v
	}
	applyStyle(feat, ft)
	return feat
}

// PointGeoJSON renders a standalone collected point.
func PointGeoJSON(p *PointCollected, ft *FeatureType) *geojson.Feature {
	feat := geojson.NewFeature(orb.Point{p.Longitude, p.Latitude})
	feat.ID = p.ClientID
	feat.Properties["client_id"] = p.ClientID
	feat.Properties["feature_type_id"] = p.FeatureTypeID
	feat.Properties["is_synced"] = p.IsSynced
	if p.Name != "" {
		feat.Properties["name"] = p.Name
	}
	if p.Description != "" {
		feat.Properties["description"] = p.Description
	}
	for k, v := range p.Attributes {
		feat.Properties[k] = v
	}
	if p.NMEA != nil {
		feat.Properties["horizontal_rms"] = p.NMEA.HorizontalRMS
		feat.Properties["vertical_rms"] = p.NMEA.VerticalRMS
		if p.NMEA.GGA != nil {
			feat.Properties["fix_quality"] = p.NMEA.GGA.Quality.String()
		}
	}
	applyStyle(feat, ft)
	return feat
}

func applyStyle(feat *geojson.Feature, ft *FeatureType) {
	if ft == nil {
		return
	}
	if ft.Color != "" {
		feat.Properties["color"] = ft.Color
	}
	if ft.LineWeight != 0 {
		feat.Properties["line_weight"] = ft.LineWeight
	}
	if ft.DashPattern != "" {
		feat.Properties["dash_pattern"] = ft.DashPattern
	}
	if ft.DrawLayer != "" {
		feat.Properties["draw_layer"] = ft.DrawLayer
	}
	if ft.ZValue != 0 {
		feat.Properties["z_value"] = ft.ZValue
	}
	if ft.SVG != "" {
		feat.Properties["svg"] = ft.SVG
	}
}
