package collect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"field-sync-service/internal/config"
	"field-sync-service/internal/gnss"
	"field-sync-service/internal/nmea"
	"field-sync-service/internal/store"
)

type fakeFixes struct {
	fix *gnss.Fix
}

func (f *fakeFixes) CurrentFix() *gnss.Fix { return f.fix }

func completeFix() *gnss.Fix {
	return &gnss.Fix{
		GGA: &nmea.GGAData{
			Latitude:   48.1173,
			Longitude:  11.5167,
			Quality:    nmea.FixGPS,
			Satellites: 8,
			HDOP:       0.9,
			Altitude:   545.4,
		},
		GST:           &nmea.GSTData{RMS: 1.2, LatError: 0.3, LonError: 0.4, HeightError: 0.5},
		HorizontalRMS: 0.5,
		VerticalRMS:   0.5,
		ReceivedAt:    time.Now(),
	}
}

func posAt(lat, lon float64) *Position {
	return &Position{
		Latitude:  lat,
		Longitude: lon,
		NMEA: &store.NMEASnapshot{
			GGA:           &nmea.GGAData{Latitude: lat, Longitude: lon, Quality: nmea.FixRTKFixed, Satellites: 12},
			GST:           &nmea.GSTData{RMS: 0.8, LatError: 0.01, LonError: 0.015, HeightError: 0.02},
			HorizontalRMS: 0.02,
			VerticalRMS:   0.02,
		},
	}
}

func pointType() *store.FeatureType {
	return &store.FeatureType{ID: 7, ProjectID: 3, Name: "Valve", GeometryType: store.GeometryPoint, IsActive: true}
}

func lineType() *store.FeatureType {
	return &store.FeatureType{ID: 8, ProjectID: 3, Name: "Main", GeometryType: store.GeometryLine, IsActive: true}
}

func polygonType() *store.FeatureType {
	return &store.FeatureType{ID: 9, ProjectID: 3, Name: "Easement", GeometryType: store.GeometryPolygon, IsActive: true}
}

func newTestCollector(t *testing.T, fixes FixSource) (*Collector, store.Store, *[]int64) {
	t.Helper()

	st, err := store.NewSQLiteStore(config.StorageConfig{FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var saved []int64
	c := NewCollector(st, fixes, func(projectID int64) { saved = append(saved, projectID) })
	return c, st, &saved
}

func TestStartCollectionMutualExclusion(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{fix: completeFix()})

	first, err := c.StartCollection(nil, pointType(), 3)
	require.NoError(t, err)
	require.True(t, first.Active)

	_, err = c.StartCollection(nil, pointType(), 3)
	require.ErrorIs(t, err, ErrSessionActive)

	c.StopCollection()

	_, err = c.StartCollection(nil, pointType(), 3)
	require.NoError(t, err)
}

func TestStartCollectionRequiresPosition(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(nil, pointType(), 3)
	require.ErrorIs(t, err, ErrNoPosition)
	require.False(t, c.Active())

	_, err = c.StartCollection(posAt(48.1, 11.5), nil, 3)
	require.ErrorIs(t, err, ErrNoFeatureType)
}

func TestStartCollectionSeedsFromLiveFix(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{fix: completeFix()})

	s, err := c.StartCollection(nil, pointType(), 3)
	require.NoError(t, err)
	require.Len(t, s.Positions, 1)
	require.InDelta(t, 48.1173, s.Positions[0].Latitude, 1e-9)
	require.NotNil(t, s.Positions[0].NMEA)
	require.Equal(t, 0.5, s.Positions[0].NMEA.HorizontalRMS)
}

func TestRecordPoint(t *testing.T) {
	fixes := &fakeFixes{fix: completeFix()}
	c, _, _ := newTestCollector(t, fixes)

	require.False(t, c.RecordPoint(posAt(48.1, 11.5)), "idle collector must refuse")

	_, err := c.StartCollection(nil, lineType(), 3)
	require.NoError(t, err)

	require.True(t, c.RecordPoint(posAt(48.2, 11.6)))
	require.True(t, c.RecordPoint(nil), "nil position falls back to live fix")

	fixes.fix = nil
	require.False(t, c.RecordPoint(nil), "no position anywhere is a no-op")

	s := c.Current()
	require.Len(t, s.Positions, 3, "failed record must not grow the sequence")
}

func TestStopCollectionAlwaysSafe(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})
	c.StopCollection()
	c.StopCollection()
	require.False(t, c.Active())
}

func TestSaveCurrentPointPersists(t *testing.T) {
	c, st, saved := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(posAt(48.1173, 11.5167), pointType(), 3)
	require.NoError(t, err)

	// Later vertices must not move a Point capture off its first fix.
	require.True(t, c.RecordPoint(posAt(48.9, 11.9)))

	p, err := c.SaveCurrentPoint(context.Background(), SaveOptions{
		Name:        "Hydrant 12",
		Description: "north side",
		Attributes:  map[string]interface{}{"diameter_mm": 150.0},
		CollectedBy: "tech-4",
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.ClientID)
	require.InDelta(t, 48.1173, p.Latitude, 1e-9)
	require.InDelta(t, 11.5167, p.Longitude, 1e-9)
	require.False(t, c.Active(), "save must stop the session")
	require.Equal(t, []int64{3}, *saved)

	got, err := st.GetPoint(context.Background(), p.ClientID)
	require.NoError(t, err)
	require.Equal(t, "Hydrant 12", got.Name)
	require.False(t, got.IsSynced)
	require.NotNil(t, got.NMEA)
	require.Equal(t, 0.02, got.NMEA.HorizontalRMS)

	n, err := st.CountUnsynced(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSaveCurrentPointValidation(t *testing.T) {
	c, st, saved := newTestCollector(t, &fakeFixes{})

	_, err := c.SaveCurrentPoint(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrNoSession)

	// Wrong geometry: a line session cannot finish as a single point.
	_, err = c.StartCollection(posAt(48.1, 11.5), lineType(), 3)
	require.NoError(t, err)
	_, err = c.SaveCurrentPoint(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrWrongGeometry)
	require.False(t, c.Active(), "validation failure must still stop the session")

	// Incomplete fix: position without receiver state, no live fix.
	_, err = c.StartCollection(&Position{Latitude: 48.1, Longitude: 11.5}, pointType(), 3)
	require.NoError(t, err)
	_, err = c.SaveCurrentPoint(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrIncompleteFix)
	require.False(t, c.Active())

	n, err := st.CountUnsynced(context.Background(), 3)
	require.NoError(t, err)
	require.Zero(t, n, "validation failures must not touch storage")
	require.Empty(t, *saved)
}

func TestSaveCurrentPointStorageFailureStopsSession(t *testing.T) {
	c, st, saved := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(posAt(48.1, 11.5), pointType(), 3)
	require.NoError(t, err)

	require.NoError(t, st.Close())

	_, err = c.SaveCurrentPoint(context.Background(), SaveOptions{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoSession)
	require.False(t, c.Active(), "save error must still stop the session")
	require.Empty(t, *saved)
}

func TestCompleteFeatureLine(t *testing.T) {
	c, st, saved := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(posAt(48.1000, 11.5000), lineType(), 3)
	require.NoError(t, err)
	require.True(t, c.RecordPoint(posAt(48.1010, 11.5000)))
	require.True(t, c.RecordPoint(posAt(48.1020, 11.5000)))

	f, err := c.CompleteFeature(context.Background(), SaveOptions{
		Name:        "Main line A",
		CollectedBy: "tech-4",
	})
	require.NoError(t, err)
	require.Equal(t, store.GeometryLine, f.GeometryType)
	require.False(t, c.Active())
	require.Equal(t, []int64{3}, *saved)

	length, ok := f.Attributes["total_length_m"].(float64)
	require.True(t, ok)
	require.InDelta(t, 222.4, length, 5.0)

	pts, err := st.GetFeaturePoints(context.Background(), f.ClientID)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	for i, p := range pts {
		require.Equal(t, i, p.PointIndex)
		require.NotNil(t, p.FeatureClientID)
		require.Equal(t, f.ClientID, *p.FeatureClientID)
		require.NotNil(t, p.NMEA)
	}
}

func TestCompleteFeaturePolygon(t *testing.T) {
	c, st, _ := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(posAt(48.10, 11.50), polygonType(), 3)
	require.NoError(t, err)
	require.True(t, c.RecordPoint(posAt(48.10, 11.51)))
	require.True(t, c.RecordPoint(posAt(48.11, 11.51)))

	f, err := c.CompleteFeature(context.Background(), SaveOptions{Name: "Easement 9"})
	require.NoError(t, err)
	require.Equal(t, store.GeometryPolygon, f.GeometryType)

	pts, err := st.GetFeaturePoints(context.Background(), f.ClientID)
	require.NoError(t, err)
	require.Len(t, pts, 3)
}

func TestCompleteFeatureValidation(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})

	_, err := c.CompleteFeature(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrNoSession)

	// A point session has no feature to complete.
	_, err = c.StartCollection(posAt(48.1, 11.5), pointType(), 3)
	require.NoError(t, err)
	_, err = c.CompleteFeature(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrWrongGeometry)

	// A single vertex is not a line.
	_, err = c.StartCollection(posAt(48.1, 11.5), lineType(), 3)
	require.NoError(t, err)
	_, err = c.CompleteFeature(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrTooFewVertices)

	// The closing vertex must carry a complete fix.
	_, err = c.StartCollection(posAt(48.1, 11.5), lineType(), 3)
	require.NoError(t, err)
	require.True(t, c.RecordPoint(&Position{Latitude: 48.2, Longitude: 11.6}))
	_, err = c.CompleteFeature(context.Background(), SaveOptions{})
	require.ErrorIs(t, err, ErrIncompleteFix)
	require.False(t, c.Active())
}

func TestReservationLifecycle(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})

	tentative := c.Reserve()
	require.NotEmpty(t, tentative)

	_, err := c.StartCollection(posAt(48.1, 11.5), pointType(), 3)
	require.NoError(t, err)

	p, err := c.SaveCurrentPoint(context.Background(), SaveOptions{ReservationID: tentative})
	require.NoError(t, err)

	ids, err := c.Commit(tentative)
	require.NoError(t, err)
	require.Equal(t, []string{p.ClientID}, ids)

	// A reservation resolves exactly once.
	_, err = c.Commit(tentative)
	require.ErrorIs(t, err, ErrUnknownReservation)
}

func TestReservationEmptyCommit(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})

	tentative := c.Reserve()
	ids, err := c.Commit(tentative)
	require.NoError(t, err)
	require.Empty(t, ids, "nothing saved under the reservation")
}

func TestReservationRollback(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})

	tentative := c.Reserve()
	c.Rollback(tentative)

	_, err := c.Commit(tentative)
	require.ErrorIs(t, err, ErrUnknownReservation)

	// Rolling back an unknown id is a no-op.
	c.Rollback("no-such-reservation")
}

func TestReservationExpiry(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFixes{})
	c.reservationTTL = time.Millisecond

	tentative := c.Reserve()
	time.Sleep(5 * time.Millisecond)

	_, err := c.Commit(tentative)
	require.ErrorIs(t, err, ErrUnknownReservation)
}

func TestSaveWithUnknownReservationStillPersists(t *testing.T) {
	c, st, _ := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(posAt(48.1, 11.5), pointType(), 3)
	require.NoError(t, err)

	p, err := c.SaveCurrentPoint(context.Background(), SaveOptions{ReservationID: "stale"})
	require.NoError(t, err)

	got, err := st.GetPoint(context.Background(), p.ClientID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestFeatureCompletionFeedsFeatureSync(t *testing.T) {
	c, st, _ := newTestCollector(t, &fakeFixes{})

	_, err := c.StartCollection(posAt(48.1000, 11.5000), lineType(), 3)
	require.NoError(t, err)
	require.True(t, c.RecordPoint(posAt(48.1010, 11.5000)))

	f, err := c.CompleteFeature(context.Background(), SaveOptions{})
	require.NoError(t, err)

	unsynced, err := st.GetUnsyncedPoints(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, unsynced, 2, "feature vertices enter the sync queue as points")
	for _, p := range unsynced {
		require.Equal(t, f.ClientID, *p.FeatureClientID)
	}
}

func TestPositionFromFix(t *testing.T) {
	require.Nil(t, PositionFromFix(nil))
	require.Nil(t, PositionFromFix(&gnss.Fix{}))
	require.Nil(t, PositionFromFix(&gnss.Fix{GGA: &nmea.GGAData{}}), "zero island is no position")

	p := PositionFromFix(completeFix())
	require.NotNil(t, p)
	require.True(t, p.hasCompleteFix())
	require.Equal(t, 0.5, p.NMEA.HorizontalRMS)
}
