package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"field-sync-service/internal/config"
	"field-sync-service/internal/database"
)

// ErrNotFound is returned by updates against records that do not exist.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS collected_points (
	client_id         TEXT PRIMARY KEY,
	server_id         INTEGER,
	project_id        INTEGER NOT NULL,
	feature_type_id   INTEGER NOT NULL,
	feature_client_id TEXT,
	point_index       INTEGER NOT NULL DEFAULT 0,
	longitude         REAL NOT NULL,
	latitude          REAL NOT NULL,
	name              TEXT,
	description       TEXT,
	attributes        TEXT,
	nmea_data         TEXT,
	created_by        TEXT,
	created_at        TIMESTAMP NOT NULL,
	updated_by        TEXT,
	updated_at        TIMESTAMP NOT NULL,
	is_synced         INTEGER NOT NULL DEFAULT 0,
	is_active         INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_points_unsynced ON collected_points(project_id, is_synced, is_active);
CREATE INDEX IF NOT EXISTS idx_points_feature ON collected_points(feature_client_id, point_index);

CREATE TABLE IF NOT EXISTS collected_features (
	client_id       TEXT PRIMARY KEY,
	server_id       INTEGER,
	project_id      INTEGER NOT NULL,
	feature_type_id INTEGER NOT NULL,
	geometry_type   TEXT NOT NULL,
	name            TEXT,
	description     TEXT,
	attributes      TEXT,
	created_by      TEXT,
	created_at      TIMESTAMP NOT NULL,
	updated_by      TEXT,
	updated_at      TIMESTAMP NOT NULL,
	is_synced       INTEGER NOT NULL DEFAULT 0,
	is_active       INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_features_project ON collected_features(project_id, is_active);

CREATE TABLE IF NOT EXISTS feature_types (
	project_id    INTEGER NOT NULL,
	id            INTEGER NOT NULL,
	name          TEXT NOT NULL,
	category      TEXT,
	geometry_type TEXT NOT NULL,
	color         TEXT,
	line_weight   REAL,
	dash_pattern  TEXT,
	draw_layer    TEXT,
	z_value       INTEGER,
	image_url     TEXT,
	svg           TEXT,
	is_active     INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (project_id, id)
);

CREATE TABLE IF NOT EXISTS sync_state (
	project_id     INTEGER PRIMARY KEY,
	last_sync_time TIMESTAMP
);
`

const pointColumns = `client_id, server_id, project_id, feature_type_id, feature_client_id, point_index,
	longitude, latitude, name, description, attributes, nmea_data,
	created_by, created_at, updated_by, updated_at, is_synced, is_active`

const featureColumns = `client_id, server_id, project_id, feature_type_id, geometry_type,
	name, description, attributes, created_by, created_at, updated_by, updated_at, is_synced, is_active`

type SQLiteStore struct {
	db *database.Database
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(cfg config.StorageConfig) (*SQLiteStore, error) {
	db, err := database.NewDatabase(cfg.FilePath)
	if err != nil {
		return nil, err
	}

	if _, err := db.DB.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePoint(ctx context.Context, p *PointCollected) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return insertPoint(ctx, tx, p)
	})
}

func (s *SQLiteStore) SavePoints(ctx context.Context, pts []*PointCollected) error {
	if len(pts) == 0 {
		return nil
	}
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, p := range pts {
			if err := insertPoint(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertPoint(ctx context.Context, tx *sql.Tx, p *PointCollected) error {
	attrs, err := attrsValue(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	snapshot, err := nmeaValue(p.NMEA)
	if err != nil {
		return fmt.Errorf("failed to encode nmea snapshot: %w", err)
	}

	query := `INSERT INTO collected_points (` + pointColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		p.ClientID,
		p.ServerID,
		p.ProjectID,
		p.FeatureTypeID,
		p.FeatureClientID,
		p.PointIndex,
		p.Longitude,
		p.Latitude,
		nullable(p.Name),
		nullable(p.Description),
		attrs,
		snapshot,
		nullable(p.CreatedBy),
		p.CreatedAt,
		nullable(p.UpdatedBy),
		p.UpdatedAt,
		p.IsSynced,
		p.IsActive,
	)
	return err
}

func (s *SQLiteStore) GetPoint(ctx context.Context, clientID string) (*PointCollected, error) {
	query := `SELECT ` + pointColumns + ` FROM collected_points WHERE client_id = ?`

	p, err := scanPoint(s.db.DB.QueryRowContext(ctx, query, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePoint replaces the mutable fields of a point by client id and
// clears its synced flag so the edit is re-enqueued for upload.
// ServerID and the created audit pair are never touched.
func (s *SQLiteStore) UpdatePoint(ctx context.Context, p *PointCollected) error {
	attrs, err := attrsValue(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	snapshot, err := nmeaValue(p.NMEA)
	if err != nil {
		return fmt.Errorf("failed to encode nmea snapshot: %w", err)
	}

	query := `UPDATE collected_points
			  SET feature_type_id = ?, feature_client_id = ?, point_index = ?,
				  longitude = ?, latitude = ?, name = ?, description = ?,
				  attributes = ?, nmea_data = ?, updated_by = ?, updated_at = ?,
				  is_synced = 0, is_active = ?
			  WHERE client_id = ?`

	res, err := s.db.DB.ExecContext(ctx, query,
		p.FeatureTypeID,
		p.FeatureClientID,
		p.PointIndex,
		p.Longitude,
		p.Latitude,
		nullable(p.Name),
		nullable(p.Description),
		attrs,
		snapshot,
		nullable(p.UpdatedBy),
		p.UpdatedAt,
		p.IsActive,
		p.ClientID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("point %s: %w", p.ClientID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetProjectPoints(ctx context.Context, projectID int64) ([]*PointCollected, error) {
	query := `SELECT ` + pointColumns + ` FROM collected_points
			  WHERE project_id = ? AND is_active = 1
			  ORDER BY created_at, point_index`
	return s.queryPoints(ctx, query, projectID)
}

func (s *SQLiteStore) GetUnsyncedPoints(ctx context.Context, projectID int64) ([]*PointCollected, error) {
	query := `SELECT ` + pointColumns + ` FROM collected_points
			  WHERE project_id = ? AND is_synced = 0 AND is_active = 1
			  ORDER BY created_at, point_index`
	return s.queryPoints(ctx, query, projectID)
}

func (s *SQLiteStore) GetAllUnsyncedPoints(ctx context.Context) ([]*PointCollected, error) {
	query := `SELECT ` + pointColumns + ` FROM collected_points
			  WHERE is_synced = 0 AND is_active = 1
			  ORDER BY project_id, created_at, point_index`
	return s.queryPoints(ctx, query)
}

func (s *SQLiteStore) queryPoints(ctx context.Context, query string, args ...interface{}) ([]*PointCollected, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*PointCollected
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// MarkPointsSynced applies server acknowledgements. Marking an
// already-synced id is a no-op and ServerID is only written when still
// unset. Features whose points are all synced afterwards are marked
// synced in the same transaction.
func (s *SQLiteStore) MarkPointsSynced(ctx context.Context, acks []SyncedPoint) error {
	if len(acks) == 0 {
		return nil
	}
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE collected_points
				  SET is_synced = 1, server_id = COALESCE(server_id, ?)
				  WHERE client_id = ?`
		for _, a := range acks {
			var serverID interface{}
			if a.ServerID != nil {
				serverID = *a.ServerID
			}
			if _, err := tx.ExecContext(ctx, query, serverID, a.ClientID); err != nil {
				return err
			}
		}

		featQuery := `UPDATE collected_features SET is_synced = 1
					  WHERE is_synced = 0 AND client_id NOT IN (
						  SELECT feature_client_id FROM collected_points
						  WHERE feature_client_id IS NOT NULL AND is_synced = 0)`
		_, err := tx.ExecContext(ctx, featQuery)
		return err
	})
}

func (s *SQLiteStore) CountUnsynced(ctx context.Context, projectID int64) (int, error) {
	query := `SELECT COUNT(*) FROM collected_points
			  WHERE project_id = ? AND is_synced = 0 AND is_active = 1`
	var n int
	err := s.db.DB.QueryRowContext(ctx, query, projectID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CountUnsyncedAll(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM collected_points WHERE is_synced = 0 AND is_active = 1`
	var n int
	err := s.db.DB.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (s *SQLiteStore) UnsyncedProjects(ctx context.Context) ([]int64, error) {
	query := `SELECT DISTINCT project_id FROM collected_points
			  WHERE is_synced = 0 AND is_active = 1
			  ORDER BY project_id`

	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		projects = append(projects, id)
	}
	return projects, rows.Err()
}

// SaveFeature persists a feature row and its member points atomically.
func (s *SQLiteStore) SaveFeature(ctx context.Context, f *CollectedFeature, pts []*PointCollected) error {
	attrs, err := attrsValue(f.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO collected_features (` + featureColumns + `)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := tx.ExecContext(ctx, query,
			f.ClientID,
			f.ServerID,
			f.ProjectID,
			f.FeatureTypeID,
			f.GeometryType,
			nullable(f.Name),
			nullable(f.Description),
			attrs,
			nullable(f.CreatedBy),
			f.CreatedAt,
			nullable(f.UpdatedBy),
			f.UpdatedAt,
			f.IsSynced,
			f.IsActive,
		)
		if err != nil {
			return err
		}

		for _, p := range pts {
			if err := insertPoint(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetFeature(ctx context.Context, clientID string) (*CollectedFeature, error) {
	query := `SELECT ` + featureColumns + ` FROM collected_features WHERE client_id = ?`

	f, err := scanFeature(s.db.DB.QueryRowContext(ctx, query, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) ListFeatures(ctx context.Context, projectID int64) ([]*CollectedFeature, error) {
	query := `SELECT ` + featureColumns + ` FROM collected_features
			  WHERE project_id = ? AND is_active = 1
			  ORDER BY created_at`

	rows, err := s.db.DB.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []*CollectedFeature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func (s *SQLiteStore) GetFeaturePoints(ctx context.Context, featureClientID string) ([]*PointCollected, error) {
	query := `SELECT ` + pointColumns + ` FROM collected_points
			  WHERE feature_client_id = ? AND is_active = 1
			  ORDER BY point_index`
	return s.queryPoints(ctx, query, featureClientID)
}

// DeactivateFeature soft-deletes a feature and its member points.
func (s *SQLiteStore) DeactivateFeature(ctx context.Context, clientID string) error {
	now := time.Now().UTC()
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE collected_features SET is_active = 0, updated_at = ? WHERE client_id = ?`,
			now, clientID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("feature %s: %w", clientID, ErrNotFound)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE collected_points SET is_active = 0, updated_at = ? WHERE feature_client_id = ?`,
			now, clientID)
		return err
	})
}

// ReplaceFeatureTypes swaps a project's whole catalog in one
// transaction. The catalog is never merged.
func (s *SQLiteStore) ReplaceFeatureTypes(ctx context.Context, projectID int64, types []*FeatureType) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM feature_types WHERE project_id = ?`, projectID); err != nil {
			return err
		}

		query := `INSERT INTO feature_types (project_id, id, name, category, geometry_type,
					color, line_weight, dash_pattern, draw_layer, z_value, image_url, svg, is_active)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		for _, ft := range types {
			_, err := tx.ExecContext(ctx, query,
				projectID,
				ft.ID,
				ft.Name,
				nullable(ft.Category),
				ft.GeometryType,
				nullable(ft.Color),
				ft.LineWeight,
				nullable(ft.DashPattern),
				nullable(ft.DrawLayer),
				ft.ZValue,
				nullable(ft.ImageURL),
				nullable(ft.SVG),
				ft.IsActive,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) FeatureTypes(ctx context.Context, projectID int64) ([]*FeatureType, error) {
	query := `SELECT project_id, id, name, category, geometry_type, color, line_weight,
				dash_pattern, draw_layer, z_value, image_url, svg, is_active
			  FROM feature_types WHERE project_id = ? ORDER BY id`

	rows, err := s.db.DB.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*FeatureType
	for rows.Next() {
		ft, err := scanFeatureType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, ft)
	}
	return types, rows.Err()
}

func (s *SQLiteStore) FeatureType(ctx context.Context, projectID, id int64) (*FeatureType, error) {
	query := `SELECT project_id, id, name, category, geometry_type, color, line_weight,
				dash_pattern, draw_layer, z_value, image_url, svg, is_active
			  FROM feature_types WHERE project_id = ? AND id = ?`

	ft, err := scanFeatureType(s.db.DB.QueryRowContext(ctx, query, projectID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ft, nil
}

func (s *SQLiteStore) ClearFeatureTypes(ctx context.Context, projectID int64) error {
	_, err := s.db.DB.ExecContext(ctx, `DELETE FROM feature_types WHERE project_id = ?`, projectID)
	return err
}

func (s *SQLiteStore) LastSyncTime(ctx context.Context, projectID int64) (*time.Time, error) {
	query := `SELECT last_sync_time FROM sync_state WHERE project_id = ?`

	var t sql.NullTime
	err := s.db.DB.QueryRowContext(ctx, query, projectID).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

func (s *SQLiteStore) SetLastSyncTime(ctx context.Context, projectID int64, at time.Time) error {
	query := `INSERT INTO sync_state (project_id, last_sync_time) VALUES (?, ?)
			  ON CONFLICT(project_id) DO UPDATE SET last_sync_time = excluded.last_sync_time`

	_, err := s.db.DB.ExecContext(ctx, query, projectID, at)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPoint(row rowScanner) (*PointCollected, error) {
	var (
		p          PointCollected
		serverID   sql.NullInt64
		featureCID sql.NullString
		name       sql.NullString
		desc       sql.NullString
		attrs      sql.NullString
		snapshot   sql.NullString
		createdBy  sql.NullString
		updatedBy  sql.NullString
	)

	err := row.Scan(
		&p.ClientID,
		&serverID,
		&p.ProjectID,
		&p.FeatureTypeID,
		&featureCID,
		&p.PointIndex,
		&p.Longitude,
		&p.Latitude,
		&name,
		&desc,
		&attrs,
		&snapshot,
		&createdBy,
		&p.CreatedAt,
		&updatedBy,
		&p.UpdatedAt,
		&p.IsSynced,
		&p.IsActive,
	)
	if err != nil {
		return nil, err
	}

	if serverID.Valid {
		p.ServerID = &serverID.Int64
	}
	if featureCID.Valid {
		p.FeatureClientID = &featureCID.String
	}
	p.Name = name.String
	p.Description = desc.String
	p.CreatedBy = createdBy.String
	p.UpdatedBy = updatedBy.String

	if p.Attributes, err = attrsFrom(attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for %s: %w", p.ClientID, err)
	}
	if p.NMEA, err = nmeaFrom(snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode nmea snapshot for %s: %w", p.ClientID, err)
	}
	return &p, nil
}

func scanFeature(row rowScanner) (*CollectedFeature, error) {
	var (
		f         CollectedFeature
		serverID  sql.NullInt64
		name      sql.NullString
		desc      sql.NullString
		attrs     sql.NullString
		createdBy sql.NullString
		updatedBy sql.NullString
	)

	err := row.Scan(
		&f.ClientID,
		&serverID,
		&f.ProjectID,
		&f.FeatureTypeID,
		&f.GeometryType,
		&name,
		&desc,
		&attrs,
		&createdBy,
		&f.CreatedAt,
		&updatedBy,
		&f.UpdatedAt,
		&f.IsSynced,
		&f.IsActive,
	)
	if err != nil {
		return nil, err
	}

	if serverID.Valid {
		f.ServerID = &serverID.Int64
	}
	f.Name = name.String
	f.Description = desc.String
	f.CreatedBy = createdBy.String
	f.UpdatedBy = updatedBy.String

	if f.Attributes, err = attrsFrom(attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes for %s: %w", f.ClientID, err)
	}
	return &f, nil
}

func scanFeatureType(row rowScanner) (*FeatureType, error) {
	var (
		ft          FeatureType
		category    sql.NullString
		color       sql.NullString
		dashPattern sql.NullString
		drawLayer   sql.NullString
		imageURL    sql.NullString
		svg         sql.NullString
	)

	err := row.Scan(
		&ft.ProjectID,
		&ft.ID,
		&ft.Name,
		&category,
		&ft.GeometryType,
		&color,
		&ft.LineWeight,
		&dashPattern,
		&drawLayer,
		&ft.ZValue,
		&imageURL,
		&svg,
		&ft.IsActive,
	)
	if err != nil {
		return nil, err
	}

	ft.Category = category.String
	ft.Color = color.String
	ft.DashPattern = dashPattern.String
	ft.DrawLayer = drawLayer.String
	ft.ImageURL = imageURL.String
	ft.SVG = svg.String
	return &ft, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func attrsValue(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func attrsFrom(ns sql.NullString) (map[string]interface{}, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nmeaValue(n *NMEASnapshot) (sql.NullString, error) {
	if n == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nmeaFrom(ns sql.NullString) (*NMEASnapshot, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var n NMEASnapshot
	if err := json.Unmarshal([]byte(ns.String), &n); err != nil {
		return nil, err
	}
	return &n, nil
}
