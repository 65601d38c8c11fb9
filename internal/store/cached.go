package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	countKeyPrefix = "unsynced:"
	typesKeyPrefix = "feature_types:"
	countAllKey    = "unsynced:all"
)

// CachedStore wraps a Store with a short-TTL read cache over the two
// queries the status surface hammers: unsynced counts and feature-type
// catalogs. Counts stay rescans of is_synced underneath; the cache only
// spaces the rescans out. Writes invalidate the affected keys.
type CachedStore struct {
	Store
	cache *gocache.Cache
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedStore) CountUnsynced(ctx context.Context, projectID int64) (int, error) {
	key := countKey(projectID)
	if v, ok := c.cache.Get(key); ok {
		return v.(int), nil
	}
	n, err := c.Store.CountUnsynced(ctx, projectID)
	if err != nil {
		return 0, err
	}
	c.cache.Set(key, n, gocache.DefaultExpiration)
	return n, nil
}

func (c *CachedStore) CountUnsyncedAll(ctx context.Context) (int, error) {
	if v, ok := c.cache.Get(countAllKey); ok {
		return v.(int), nil
	}
	n, err := c.Store.CountUnsyncedAll(ctx)
	if err != nil {
		return 0, err
	}
	c.cache.Set(countAllKey, n, gocache.DefaultExpiration)
	return n, nil
}

func (c *CachedStore) FeatureTypes(ctx context.Context, projectID int64) ([]*FeatureType, error) {
	key := typesKey(projectID)
	if v, ok := c.cache.Get(key); ok {
		return v.([]*FeatureType), nil
	}
	types, err := c.Store.FeatureTypes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, types, gocache.DefaultExpiration)
	return types, nil
}

func (c *CachedStore) FeatureType(ctx context.Context, projectID, id int64) (*FeatureType, error) {
	types, err := c.FeatureTypes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, ft := range types {
		if ft.ID == id {
			return ft, nil
		}
	}
	return nil, nil
}

func (c *CachedStore) SavePoint(ctx context.Context, p *PointCollected) error {
	if err := c.Store.SavePoint(ctx, p); err != nil {
		return err
	}
	c.invalidateCounts(p.ProjectID)
	return nil
}

func (c *CachedStore) SavePoints(ctx context.Context, pts []*PointCollected) error {
	if err := c.Store.SavePoints(ctx, pts); err != nil {
		return err
	}
	for _, p := range pts {
		c.invalidateCounts(p.ProjectID)
	}
	return nil
}

func (c *CachedStore) UpdatePoint(ctx context.Context, p *PointCollected) error {
	if err := c.Store.UpdatePoint(ctx, p); err != nil {
		return err
	}
	c.invalidateCounts(p.ProjectID)
	return nil
}

func (c *CachedStore) SaveFeature(ctx context.Context, f *CollectedFeature, pts []*PointCollected) error {
	if err := c.Store.SaveFeature(ctx, f, pts); err != nil {
		return err
	}
	c.invalidateCounts(f.ProjectID)
	return nil
}

func (c *CachedStore) MarkPointsSynced(ctx context.Context, acks []SyncedPoint) error {
	if err := c.Store.MarkPointsSynced(ctx, acks); err != nil {
		return err
	}
	c.invalidateAllCounts()
	return nil
}

func (c *CachedStore) DeactivateFeature(ctx context.Context, clientID string) error {
	if err := c.Store.DeactivateFeature(ctx, clientID); err != nil {
		return err
	}
	c.invalidateAllCounts()
	return nil
}

func (c *CachedStore) ReplaceFeatureTypes(ctx context.Context, projectID int64, types []*FeatureType) error {
	if err := c.Store.ReplaceFeatureTypes(ctx, projectID, types); err != nil {
		return err
	}
	c.cache.Delete(typesKey(projectID))
	return nil
}

func (c *CachedStore) ClearFeatureTypes(ctx context.Context, projectID int64) error {
	if err := c.Store.ClearFeatureTypes(ctx, projectID); err != nil {
		return err
	}
	c.cache.Delete(typesKey(projectID))
	return nil
}

func (c *CachedStore) invalidateCounts(projectID int64) {
	c.cache.Delete(countKey(projectID))
	c.cache.Delete(countAllKey)
}

// invalidateAllCounts drops every count key. Used where the affected
// projects are not known from the arguments alone.
func (c *CachedStore) invalidateAllCounts() {
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, countKeyPrefix) {
			c.cache.Delete(key)
		}
	}
}

func countKey(projectID int64) string {
	return fmt.Sprintf("%s%d", countKeyPrefix, projectID)
}

func typesKey(projectID int64) string {
	return fmt.Sprintf("%s%d", typesKeyPrefix, projectID)
}
