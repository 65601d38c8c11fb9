// Package collect owns the capture state machine: at most one session
// at a time, seeded by a position, grown by recorded vertices, and
// finished by a save (Point) or a feature completion (Line/Polygon).
// Validation failures are sentinel errors and never touch storage.
package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"field-sync-service/internal/gnss"
	"field-sync-service/internal/logger"
	"field-sync-service/internal/store"
)

var (
	ErrSessionActive  = errors.New("a collection session is already active")
	ErrNoSession      = errors.New("no active collection session")
	ErrNoPosition     = errors.New("no position available")
	ErrNoFeatureType  = errors.New("no feature type selected")
	ErrIncompleteFix  = errors.New("gnss fix is incomplete")
	ErrWrongGeometry  = errors.New("operation does not match the session geometry")
	ErrTooFewVertices = errors.New("not enough vertices for the geometry")
)

// FixSource supplies the live fix used when a caller records a vertex
// without an explicit position. The GNSS monitor satisfies this.
type FixSource interface {
	CurrentFix() *gnss.Fix
}

// SaveObserver is called after a capture has committed to storage,
// with the project it landed in. The sync engine hangs its unsynced
// counter refresh off this.
type SaveObserver func(projectID int64)

// Position is one captured vertex plus the receiver state at the
// instant of capture. The snapshot is frozen here; nothing downstream
// rereads the receiver for it.
type Position struct {
	Longitude  float64             `json:"longitude"`
	Latitude   float64             `json:"latitude"`
	NMEA       *store.NMEASnapshot `json:"nmea_data,omitempty"`
	CapturedAt time.Time           `json:"captured_at"`
}

// PositionFromFix converts the live fix into a capture position.
// Returns nil when there is no usable position in the fix.
func PositionFromFix(fix *gnss.Fix) *Position {
	if fix == nil || fix.GGA == nil {
		return nil
	}
	if fix.GGA.Latitude == 0 && fix.GGA.Longitude == 0 {
		return nil
	}
	return &Position{
		Longitude: fix.GGA.Longitude,
		Latitude:  fix.GGA.Latitude,
		NMEA: &store.NMEASnapshot{
			GGA:           fix.GGA,
			GST:           fix.GST,
			HorizontalRMS: fix.HorizontalRMS,
			VerticalRMS:   fix.VerticalRMS,
		},
		CapturedAt: fix.ReceivedAt,
	}
}

// hasCompleteFix is the capture-quality bar: a real position plus a
// total horizontal error estimate.
func (p *Position) hasCompleteFix() bool {
	return p != nil && p.Latitude != 0 && p.Longitude != 0 &&
		p.NMEA != nil && p.NMEA.GGA != nil && p.NMEA.HorizontalRMS > 0
}

// Session is a caller-facing snapshot of the capture in progress.
type Session struct {
	ID          string             `json:"id"`
	ProjectID   int64              `json:"project_id"`
	FeatureType *store.FeatureType `json:"feature_type"`
	Positions   []Position         `json:"positions"`
	StartedAt   time.Time          `json:"started_at"`
	Active      bool               `json:"active"`
}

// SaveOptions carries the operator-supplied metadata for a capture.
type SaveOptions struct {
	Name          string
	Description   string
	Attributes    map[string]interface{}
	CollectedBy   string
	ReservationID string
}

type Collector struct {
	store   store.Store
	fixes   FixSource
	onSaved SaveObserver

	mu             sync.Mutex
	session        *Session
	reservations   map[string]*reservation
	reservationTTL time.Duration
}

func NewCollector(st store.Store, fixes FixSource, onSaved SaveObserver) *Collector {
	return &Collector{
		store:          st,
		fixes:          fixes,
		onSaved:        onSaved,
		reservations:   make(map[string]*reservation),
		reservationTTL: defaultReservationTTL,
	}
}

// StartCollection opens a session for one feature type. A second
// session is rejected while one is active; captures are mutually
// exclusive. With a nil position the live fix seeds the session.
func (c *Collector) StartCollection(pos *Position, ft *store.FeatureType, projectID int64) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		logger.Log.Warn("Rejected collection start, session already active",
			zap.String("session_id", c.session.ID))
		return nil, ErrSessionActive
	}
	if ft == nil {
		return nil, ErrNoFeatureType
	}

	p := c.positionOrLive(pos)
	if p == nil {
		return nil, ErrNoPosition
	}

	c.session = &Session{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		FeatureType: ft,
		Positions:   []Position{*p},
		StartedAt:   time.Now(),
		Active:      true,
	}

	logger.Log.Info("Started collection session",
		zap.String("session_id", c.session.ID),
		zap.Int64("project_id", projectID),
		zap.String("feature_type", ft.Name),
		zap.String("geometry", ft.GeometryType))

	return c.snapshotLocked(), nil
}

// RecordPoint appends a vertex to the active session, falling back to
// the live fix when no position is supplied. Returns false when idle
// or when no position is available; the recorded sequence is never
// corrupted by a missing fix.
func (c *Collector) RecordPoint(pos *Position) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return false
	}

	p := c.positionOrLive(pos)
	if p == nil {
		logger.Log.Debug("Dropped vertex record, no position available",
			zap.String("session_id", c.session.ID))
		return false
	}

	c.session.Positions = append(c.session.Positions, *p)
	return true
}

// StopCollection discards the in-memory session. Safe to call in any
// state; every capture exit path ends here so a stale session can
// never block the next capture.
func (c *Collector) StopCollection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Active reports whether a session is in progress.
func (c *Collector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Current returns a snapshot of the session in progress, nil when idle.
func (c *Collector) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SaveCurrentPoint persists the active Point capture. It validates the
// session, the feature type, and the capture fix before touching
// storage, and stops the session on every exit path past the session
// check.
func (c *Collector) SaveCurrentPoint(ctx context.Context, opts SaveOptions) (*store.PointCollected, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNoSession
	}
	defer c.stopLocked()

	ft := c.session.FeatureType
	if ft == nil {
		return nil, ErrNoFeatureType
	}
	if ft.GeometryType != store.GeometryPoint {
		return nil, ErrWrongGeometry
	}
	if len(c.session.Positions) == 0 {
		return nil, ErrNoPosition
	}

	// Point geometry is anchored at the first captured position.
	pos := c.session.Positions[0]
	if !pos.hasCompleteFix() {
		return nil, ErrIncompleteFix
	}

	now := time.Now().UTC()
	p := &store.PointCollected{
		ClientID:      uuid.NewString(),
		ProjectID:     c.session.ProjectID,
		FeatureTypeID: ft.ID,
		Longitude:     pos.Longitude,
		Latitude:      pos.Latitude,
		Name:          opts.Name,
		Description:   opts.Description,
		Attributes:    opts.Attributes,
		NMEA:          pos.NMEA,
		CreatedBy:     opts.CollectedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsActive:      true,
	}

	if err := c.store.SavePoint(ctx, p); err != nil {
		logger.Log.Error("Failed to save collected point",
			zap.String("client_id", p.ClientID), zap.Error(err))
		return nil, fmt.Errorf("save point: %w", err)
	}

	c.bindLocked(opts.ReservationID, p.ClientID)
	c.notifySaved(p.ProjectID)

	logger.Log.Info("Captured point",
		zap.String("client_id", p.ClientID),
		zap.Int64("project_id", p.ProjectID),
		zap.Float64("horizontal_rms", pos.NMEA.HorizontalRMS))

	return p, nil
}

// CompleteFeature persists the active Line/Polygon capture as one
// feature row plus one point row per vertex, all in one transaction,
// then stops the session. The last captured vertex must carry a
// complete fix; total length is computed here and stored with the
// feature's attributes.
func (c *Collector) CompleteFeature(ctx context.Context, opts SaveOptions) (*store.CollectedFeature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNoSession
	}
	defer c.stopLocked()

	ft := c.session.FeatureType
	if ft == nil {
		return nil, ErrNoFeatureType
	}

	switch ft.GeometryType {
	case store.GeometryLine:
		if len(c.session.Positions) < 2 {
			return nil, ErrTooFewVertices
		}
	case store.GeometryPolygon:
		if len(c.session.Positions) < 3 {
			return nil, ErrTooFewVertices
		}
	default:
		return nil, ErrWrongGeometry
	}

	last := c.session.Positions[len(c.session.Positions)-1]
	if !last.hasCompleteFix() {
		return nil, ErrIncompleteFix
	}

	now := time.Now().UTC()
	featureID := uuid.NewString()

	pts := make([]*store.PointCollected, 0, len(c.session.Positions))
	for i, pos := range c.session.Positions {
		fid := featureID
		pts = append(pts, &store.PointCollected{
			ClientID:        uuid.NewString(),
			ProjectID:       c.session.ProjectID,
			FeatureTypeID:   ft.ID,
			FeatureClientID: &fid,
			PointIndex:      i,
			Longitude:       pos.Longitude,
			Latitude:        pos.Latitude,
			NMEA:            pos.NMEA,
			CreatedBy:       opts.CollectedBy,
			CreatedAt:       now,
			UpdatedAt:       now,
			IsActive:        true,
		})
	}

	attrs := make(map[string]interface{}, len(opts.Attributes)+1)
	for k, v := range opts.Attributes {
		attrs[k] = v
	}
	geom := store.ReconstructGeometry(ft.GeometryType, pts)
	if length := store.GeometryLengthMeters(geom); length > 0 {
		attrs["total_length_m"] = length
	}

	f := &store.CollectedFeature{
		ClientID:      featureID,
		ProjectID:     c.session.ProjectID,
		FeatureTypeID: ft.ID,
		GeometryType:  ft.GeometryType,
		Name:          opts.Name,
		Description:   opts.Description,
		Attributes:    attrs,
		CreatedBy:     opts.CollectedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsActive:      true,
	}

	if err := c.store.SaveFeature(ctx, f, pts); err != nil {
		logger.Log.Error("Failed to save collected feature",
			zap.String("client_id", featureID), zap.Error(err))
		return nil, fmt.Errorf("save feature: %w", err)
	}

	ids := make([]string, 0, len(pts)+1)
	ids = append(ids, featureID)
	for _, p := range pts {
		ids = append(ids, p.ClientID)
	}
	c.bindLocked(opts.ReservationID, ids...)
	c.notifySaved(f.ProjectID)

	logger.Log.Info("Captured feature",
		zap.String("client_id", featureID),
		zap.Int64("project_id", f.ProjectID),
		zap.String("geometry", ft.GeometryType),
		zap.Int("vertices", len(pts)))

	return f, nil
}

func (c *Collector) stopLocked() {
	if c.session == nil {
		return
	}
	logger.Log.Info("Stopped collection session",
		zap.String("session_id", c.session.ID),
		zap.Int("positions", len(c.session.Positions)))
	c.session = nil
}

func (c *Collector) snapshotLocked() *Session {
	if c.session == nil {
		return nil
	}
	s := *c.session
	s.Positions = append([]Position(nil), c.session.Positions...)
	return &s
}

// positionOrLive resolves the position for a capture step: an explicit
// position (enriched with the live snapshot when it has none) or the
// live fix.
func (c *Collector) positionOrLive(pos *Position) *Position {
	if pos != nil {
		p := *pos
		if p.NMEA == nil {
			if live := c.liveFix(); live != nil {
				p.NMEA = live.NMEA
			}
		}
		if p.CapturedAt.IsZero() {
			p.CapturedAt = time.Now()
		}
		return &p
	}
	return c.liveFix()
}

func (c *Collector) liveFix() *Position {
	if c.fixes == nil {
		return nil
	}
	return PositionFromFix(c.fixes.CurrentFix())
}

func (c *Collector) notifySaved(projectID int64) {
	if c.onSaved != nil {
		c.onSaved(projectID)
	}
}
