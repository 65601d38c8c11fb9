package store

import (
	"context"
	"time"
)

type Store interface {
	// Points
	SavePoint(ctx context.Context, p *PointCollected) error
	SavePoints(ctx context.Context, pts []*PointCollected) error
	GetPoint(ctx context.Context, clientID string) (*PointCollected, error)
	UpdatePoint(ctx context.Context, p *PointCollected) error
	GetProjectPoints(ctx context.Context, projectID int64) ([]*PointCollected, error)
	GetUnsyncedPoints(ctx context.Context, projectID int64) ([]*PointCollected, error)
	GetAllUnsyncedPoints(ctx context.Context) ([]*PointCollected, error)
	MarkPointsSynced(ctx context.Context, acks []SyncedPoint) error
	CountUnsynced(ctx context.Context, projectID int64) (int, error)
	CountUnsyncedAll(ctx context.Context) (int, error)
	UnsyncedProjects(ctx context.Context) ([]int64, error)

	// Features
	SaveFeature(ctx context.Context, f *CollectedFeature, pts []*PointCollected) error
	GetFeature(ctx context.Context, clientID string) (*CollectedFeature, error)
	ListFeatures(ctx context.Context, projectID int64) ([]*CollectedFeature, error)
	GetFeaturePoints(ctx context.Context, featureClientID string) ([]*PointCollected, error)
	DeactivateFeature(ctx context.Context, clientID string) error

	// Feature-type catalog
	ReplaceFeatureTypes(ctx context.Context, projectID int64, types []*FeatureType) error
	FeatureTypes(ctx context.Context, projectID int64) ([]*FeatureType, error)
	FeatureType(ctx context.Context, projectID, id int64) (*FeatureType, error)
	ClearFeatureTypes(ctx context.Context, projectID int64) error

	// Sync bookkeeping
	LastSyncTime(ctx context.Context, projectID int64) (*time.Time, error)
	SetLastSyncTime(ctx context.Context, projectID int64, t time.Time) error

	// General
	Close() error
}
