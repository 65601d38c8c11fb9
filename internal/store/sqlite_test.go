package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-sync-service/internal/config"
	"field-sync-service/internal/nmea"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(config.StorageConfig{FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPoint(clientID string, projectID int64) *PointCollected {
	now := time.Now().UTC()
	return &PointCollected{
		ClientID:      clientID,
		ProjectID:     projectID,
		FeatureTypeID: 7,
		Longitude:     11.5167,
		Latitude:      48.1173,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsActive:      true,
	}
}

func TestSavePointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testPoint("pt-1", 3)
	p.Name = "hydrant 12"
	p.Description = "north valve box"
	p.CreatedBy = "tech-41"
	p.Attributes = map[string]interface{}{"depth_m": 1.2, "material": "PVC"}
	p.NMEA = &NMEASnapshot{
		GGA:           &nmea.GGAData{Latitude: 48.1173, Longitude: 11.5167, Quality: nmea.FixRTKFixed, Satellites: 14, HDOP: 0.7},
		GST:           &nmea.GSTData{RMS: 0.02, LatError: 0.01, LonError: 0.01, HeightError: 0.03},
		HorizontalRMS: 0.014,
		VerticalRMS:   0.03,
	}

	require.NoError(t, s.SavePoint(ctx, p))

	got, err := s.GetPoint(ctx, "pt-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "pt-1", got.ClientID)
	assert.Nil(t, got.ServerID)
	assert.Equal(t, int64(3), got.ProjectID)
	assert.Equal(t, "hydrant 12", got.Name)
	assert.Equal(t, "north valve box", got.Description)
	assert.Equal(t, "tech-41", got.CreatedBy)
	assert.False(t, got.IsSynced)
	assert.True(t, got.IsActive)
	assert.Equal(t, "PVC", got.Attributes["material"])
	require.NotNil(t, got.NMEA)
	assert.Equal(t, nmea.FixRTKFixed, got.NMEA.GGA.Quality)
	assert.InDelta(t, 0.014, got.NMEA.HorizontalRMS, 1e-9)
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Second)
}

func TestGetPointMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetPoint(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkPointsSyncedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePoint(ctx, testPoint("pt-1", 1)))

	first := int64(42)
	require.NoError(t, s.MarkPointsSynced(ctx, []SyncedPoint{{ClientID: "pt-1", ServerID: &first}}))

	got, err := s.GetPoint(ctx, "pt-1")
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	require.NotNil(t, got.ServerID)
	assert.Equal(t, int64(42), *got.ServerID)

	// A second acknowledgement must not flip the flag back, duplicate
	// the record, or reassign the server id.
	second := int64(99)
	require.NoError(t, s.MarkPointsSynced(ctx, []SyncedPoint{{ClientID: "pt-1", ServerID: &second}}))

	got, err = s.GetPoint(ctx, "pt-1")
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.Equal(t, int64(42), *got.ServerID)

	all, err := s.GetProjectPoints(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUnsyncedQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePoint(ctx, testPoint("a", 1)))
	require.NoError(t, s.SavePoint(ctx, testPoint("b", 1)))
	require.NoError(t, s.SavePoint(ctx, testPoint("c", 2)))

	n, err := s.CountUnsynced(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountUnsyncedAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	projects, err := s.UnsyncedProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, projects)

	require.NoError(t, s.MarkPointsSynced(ctx, []SyncedPoint{{ClientID: "a"}, {ClientID: "b"}}))

	unsynced, err := s.GetUnsyncedPoints(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	all, err := s.GetAllUnsyncedPoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c", all[0].ClientID)
}

func TestUpdatePointClearsSyncedFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePoint(ctx, testPoint("pt-1", 1)))
	sid := int64(7)
	require.NoError(t, s.MarkPointsSynced(ctx, []SyncedPoint{{ClientID: "pt-1", ServerID: &sid}}))

	p, err := s.GetPoint(ctx, "pt-1")
	require.NoError(t, err)
	p.Description = "relabeled after visit"
	p.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdatePoint(ctx, p))

	got, err := s.GetPoint(ctx, "pt-1")
	require.NoError(t, err)
	assert.False(t, got.IsSynced, "edit must re-enqueue the point")
	require.NotNil(t, got.ServerID)
	assert.Equal(t, int64(7), *got.ServerID, "server id is write-once")
	assert.Equal(t, "relabeled after visit", got.Description)
}

func TestUpdatePointMissing(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdatePoint(context.Background(), testPoint("ghost", 1))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveFeatureWithPoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fid := "feat-1"
	f := &CollectedFeature{
		ClientID:      fid,
		ProjectID:     1,
		FeatureTypeID: 9,
		GeometryType:  GeometryLine,
		Name:          "service lateral",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
		IsActive:      true,
	}

	// Insert out of index order on purpose; reads must come back in
	// index order regardless.
	var pts []*PointCollected
	for i, idx := range []int{2, 0, 1} {
		p := testPoint(string(rune('x'+i)), 1)
		p.FeatureClientID = &fid
		p.PointIndex = idx
		p.Longitude = float64(idx)
		pts = append(pts, p)
	}
	require.NoError(t, s.SaveFeature(ctx, f, pts))

	got, err := s.GetFeature(ctx, fid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, GeometryLine, got.GeometryType)

	members, err := s.GetFeaturePoints(ctx, fid)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for i, p := range members {
		assert.Equal(t, i, p.PointIndex)
		assert.Equal(t, float64(i), p.Longitude)
	}

	features, err := s.ListFeatures(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, features, 1)

	n, err := s.CountUnsynced(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFeatureSyncedRollup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fid := "feat-1"
	f := &CollectedFeature{
		ClientID: fid, ProjectID: 1, FeatureTypeID: 9, GeometryType: GeometryLine,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(), IsActive: true,
	}
	p1 := testPoint("v0", 1)
	p1.FeatureClientID = &fid
	p2 := testPoint("v1", 1)
	p2.FeatureClientID = &fid
	p2.PointIndex = 1
	require.NoError(t, s.SaveFeature(ctx, f, []*PointCollected{p1, p2}))

	require.NoError(t, s.MarkPointsSynced(ctx, []SyncedPoint{{ClientID: "v0"}}))
	got, err := s.GetFeature(ctx, fid)
	require.NoError(t, err)
	assert.False(t, got.IsSynced, "one vertex still unsynced")

	require.NoError(t, s.MarkPointsSynced(ctx, []SyncedPoint{{ClientID: "v1"}}))
	got, err = s.GetFeature(ctx, fid)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
}

func TestDeactivateFeature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fid := "feat-1"
	f := &CollectedFeature{
		ClientID: fid, ProjectID: 1, FeatureTypeID: 9, GeometryType: GeometryLine,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(), IsActive: true,
	}
	p := testPoint("v0", 1)
	p.FeatureClientID = &fid
	require.NoError(t, s.SaveFeature(ctx, f, []*PointCollected{p}))

	require.NoError(t, s.DeactivateFeature(ctx, fid))

	features, err := s.ListFeatures(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, features)

	members, err := s.GetFeaturePoints(ctx, fid)
	require.NoError(t, err)
	assert.Empty(t, members)

	// Deactivated captures never upload.
	n, err := s.CountUnsynced(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, errors.Is(s.DeactivateFeature(ctx, "ghost"), ErrNotFound))
}

func TestFeatureTypeCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []*FeatureType{
		{ID: 1, Name: "Hydrant", GeometryType: GeometryPoint, Color: "#ff0000", IsActive: true},
		{ID: 2, Name: "Main", GeometryType: GeometryLine, Color: "#0000ff", LineWeight: 2, IsActive: true},
	}
	require.NoError(t, s.ReplaceFeatureTypes(ctx, 1, first))

	types, err := s.FeatureTypes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "Hydrant", types[0].Name)
	assert.Equal(t, int64(1), types[0].ProjectID)

	// Wholesale replacement drops entries missing from the new fetch.
	second := []*FeatureType{
		{ID: 3, Name: "Valve", GeometryType: GeometryPoint, IsActive: true},
	}
	require.NoError(t, s.ReplaceFeatureTypes(ctx, 1, second))

	types, err = s.FeatureTypes(ctx, 1)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "Valve", types[0].Name)

	ft, err := s.FeatureType(ctx, 1, 3)
	require.NoError(t, err)
	require.NotNil(t, ft)
	assert.Equal(t, "Valve", ft.Name)

	ft, err = s.FeatureType(ctx, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, ft)

	require.NoError(t, s.ClearFeatureTypes(ctx, 1))
	types, err = s.FeatureTypes(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestLastSyncTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LastSyncTime(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "never-synced project has no timestamp")

	at := time.Now().UTC()
	require.NoError(t, s.SetLastSyncTime(ctx, 1, at))
	require.NoError(t, s.SetLastSyncTime(ctx, 1, at.Add(time.Minute)))

	got, err = s.LastSyncTime(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.WithinDuration(t, at.Add(time.Minute), *got, time.Second)
}
