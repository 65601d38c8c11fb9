// Package catalog keeps the per-project feature-type catalog fresh.
// The catalog is a disposable cache of server state: replaced
// wholesale on every fetch, and cleared for the previous project
// before a new one loads so stale types never leak across projects.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"field-sync-service/internal/logger"
	"field-sync-service/internal/store"
)

// Source fetches a project's catalog from the server. The remote
// client satisfies this.
type Source interface {
	FetchFeatureTypes(ctx context.Context, projectID int64) ([]*store.FeatureType, error)
}

type Manager struct {
	store  store.Store
	client Source

	mu      sync.Mutex
	current int64
}

func NewManager(st store.Store, client Source) *Manager {
	return &Manager{store: st, client: client}
}

// Current is the project whose catalog is loaded, zero before the
// first switch.
func (m *Manager) Current() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Refresh re-fetches one project's catalog and replaces the stored
// copy wholesale.
func (m *Manager) Refresh(ctx context.Context, projectID int64) ([]*store.FeatureType, error) {
	types, err := m.client.FetchFeatureTypes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("fetch feature types: %w", err)
	}

	if err := m.store.ReplaceFeatureTypes(ctx, projectID, types); err != nil {
		return nil, fmt.Errorf("store feature types: %w", err)
	}

	logger.Log.Info("Refreshed feature-type catalog",
		zap.Int64("project_id", projectID), zap.Int("types", len(types)))
	return types, nil
}

// SwitchProject makes projectID the current project. The previous
// project's catalog is cleared before the new one loads. When the
// fetch fails (offline switch) the locally stored catalog for the
// target project is served instead.
func (m *Manager) SwitchProject(ctx context.Context, projectID int64) ([]*store.FeatureType, error) {
	m.mu.Lock()
	previous := m.current
	m.current = projectID
	m.mu.Unlock()

	if previous != 0 && previous != projectID {
		if err := m.store.ClearFeatureTypes(ctx, previous); err != nil {
			return nil, fmt.Errorf("clear previous catalog: %w", err)
		}
		logger.Log.Info("Cleared previous project catalog",
			zap.Int64("previous", previous), zap.Int64("current", projectID))
	}

	types, err := m.Refresh(ctx, projectID)
	if err != nil {
		logger.Log.Warn("Catalog fetch failed, serving stored catalog",
			zap.Int64("project_id", projectID), zap.Error(err))
		return m.store.FeatureTypes(ctx, projectID)
	}
	return types, nil
}
