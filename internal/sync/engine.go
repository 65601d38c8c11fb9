// Package sync moves unsynced captures to the authoritative server and
// reconciles identity. The engine owns the in-flight guard and the
// status object; the gate decides whether a trigger may run; the
// orchestrator wires the trigger sources to the gate.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"field-sync-service/internal/logger"
	"field-sync-service/internal/remote"
	"field-sync-service/internal/store"
)

// Project id 0 holds the global last-sync scalar.
const globalScope int64 = 0

// Uploader submits one batch of points. The remote client satisfies
// this; tests substitute it.
type Uploader interface {
	SyncPoints(ctx context.Context, projectID int64, pts []*store.PointCollected) (*remote.SyncResponse, error)
}

type Engine struct {
	store  store.Store
	client Uploader

	mu       sync.Mutex
	inFlight bool
}

func NewEngine(st store.Store, client Uploader) *Engine {
	return &Engine{store: st, client: client}
}

// Syncing reports whether a pass is in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// begin takes the non-reentrant guard. A trigger that loses declines;
// nothing queues behind a running pass.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return false
	}
	e.inFlight = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
}

func busyResult() SyncResult {
	return SyncResult{ErrorMessage: "sync already in progress"}
}

// SyncProject uploads one project's unsynced points as a single batch.
func (e *Engine) SyncProject(ctx context.Context, projectID int64) SyncResult {
	if !e.begin() {
		return busyResult()
	}
	defer e.end()
	return e.syncProject(ctx, projectID)
}

// SyncAllProjects runs the global catch-up: every project with
// unsynced points gets its own batch, and one project's failure never
// aborts the others.
func (e *Engine) SyncAllProjects(ctx context.Context) SyncResult {
	if !e.begin() {
		return busyResult()
	}
	defer e.end()

	projects, err := e.store.UnsyncedProjects(ctx)
	if err != nil {
		logger.Log.Error("Failed to enumerate unsynced projects", zap.Error(err))
		return SyncResult{ErrorMessage: err.Error()}
	}
	if len(projects) == 0 {
		return SyncResult{Success: true}
	}

	total := SyncResult{Success: true}
	for _, projectID := range projects {
		r := e.syncProject(ctx, projectID)
		total.SyncedCount += r.SyncedCount
		total.FailedCount += r.FailedCount
		if !r.Success {
			total.Success = false
			total.ErrorMessage = r.ErrorMessage
		}
	}

	logger.Log.Info("Finished sync pass",
		zap.Int("projects", len(projects)),
		zap.Int("synced", total.SyncedCount),
		zap.Int("failed", total.FailedCount),
		zap.Bool("success", total.Success))
	return total
}

// syncProject is the unguarded single-batch pass. Transport failures
// come back as failed results, never as panics or raw errors; this
// runs from timers with nobody watching.
func (e *Engine) syncProject(ctx context.Context, projectID int64) SyncResult {
	pts, err := e.store.GetUnsyncedPoints(ctx, projectID)
	if err != nil {
		logger.Log.Error("Failed to load unsynced points",
			zap.Int64("project_id", projectID), zap.Error(err))
		return SyncResult{ErrorMessage: err.Error()}
	}
	if len(pts) == 0 {
		return SyncResult{Success: true}
	}

	logger.Log.Info("Syncing project",
		zap.Int64("project_id", projectID), zap.Int("points", len(pts)))

	resp, err := e.client.SyncPoints(ctx, projectID, pts)
	if err != nil {
		logger.Log.Warn("Sync upload failed",
			zap.Int64("project_id", projectID), zap.Error(err))
		return SyncResult{FailedCount: len(pts), ErrorMessage: err.Error()}
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "server rejected the batch"
		}
		logger.Log.Warn("Server rejected sync batch",
			zap.Int64("project_id", projectID), zap.String("error", msg))
		return SyncResult{FailedCount: len(pts), ErrorMessage: msg}
	}

	acks := acknowledgedPoints(pts, resp)
	if len(acks) == 0 {
		return SyncResult{FailedCount: len(pts), ErrorMessage: "server accepted none of the batch"}
	}

	// Mark-synced strictly before the last-sync timestamp. A crash in
	// between re-sends points, which is safe; the reverse order could
	// record a sync that never landed locally.
	if err := e.store.MarkPointsSynced(ctx, acks); err != nil {
		logger.Log.Error("Failed to record sync acknowledgement",
			zap.Int64("project_id", projectID), zap.Error(err))
		return SyncResult{FailedCount: len(pts), ErrorMessage: err.Error()}
	}

	now := time.Now().UTC()
	if err := e.store.SetLastSyncTime(ctx, projectID, now); err != nil {
		logger.Log.Warn("Failed to update last sync time",
			zap.Int64("project_id", projectID), zap.Error(err))
	}
	if err := e.store.SetLastSyncTime(ctx, globalScope, now); err != nil {
		logger.Log.Warn("Failed to update global last sync time", zap.Error(err))
	}

	logger.Log.Info("Synced project",
		zap.Int64("project_id", projectID),
		zap.Int("synced", len(acks)),
		zap.Int("failed", len(pts)-len(acks)))

	return SyncResult{
		Success:     true,
		SyncedCount: len(acks),
		FailedCount: len(pts) - len(acks),
	}
}

// acknowledgedPoints resolves the server response into the submitted
// points it actually accepted. An explicit syncedIds list wins, then a
// created_ids list paired positionally with the batch; with no list at
// all, the whole batch. Ids outside the batch are ignored; a partial
// list never widens to the whole batch.
func acknowledgedPoints(pts []*store.PointCollected, resp *remote.SyncResponse) []store.SyncedPoint {
	serverIDs := make(map[string]*int64)
	if len(resp.CreatedIDs) == len(pts) {
		for i := range pts {
			id := resp.CreatedIDs[i]
			serverIDs[pts[i].ClientID] = &id
		}
	}

	if resp.SyncedIDs != nil {
		submitted := make(map[string]struct{}, len(pts))
		for _, p := range pts {
			submitted[p.ClientID] = struct{}{}
		}
		acks := make([]store.SyncedPoint, 0, len(resp.SyncedIDs))
		for _, id := range resp.SyncedIDs {
			if _, ok := submitted[id]; !ok {
				continue
			}
			acks = append(acks, store.SyncedPoint{ClientID: id, ServerID: serverIDs[id]})
		}
		return acks
	}

	if resp.CreatedIDs != nil {
		n := len(resp.CreatedIDs)
		if n > len(pts) {
			n = len(pts)
		}
		acks := make([]store.SyncedPoint, 0, n)
		for i := 0; i < n; i++ {
			id := resp.CreatedIDs[i]
			acks = append(acks, store.SyncedPoint{ClientID: pts[i].ClientID, ServerID: &id})
		}
		return acks
	}

	acks := make([]store.SyncedPoint, 0, len(pts))
	for _, p := range pts {
		acks = append(acks, store.SyncedPoint{ClientID: p.ClientID})
	}
	return acks
}

// Status is the global sync snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	st := Status{IsSyncing: e.Syncing()}

	if n, err := e.store.CountUnsyncedAll(ctx); err == nil {
		st.UnsyncedCount = n
	} else {
		logger.Log.Warn("Failed to count unsynced points", zap.Error(err))
	}
	if t, err := e.store.LastSyncTime(ctx, globalScope); err == nil {
		st.LastSyncTime = t
	}
	return st
}

// ProjectStatus is the per-project sync snapshot.
func (e *Engine) ProjectStatus(ctx context.Context, projectID int64) Status {
	st := Status{IsSyncing: e.Syncing()}

	if n, err := e.store.CountUnsynced(ctx, projectID); err == nil {
		st.UnsyncedCount = n
	} else {
		logger.Log.Warn("Failed to count unsynced points",
			zap.Int64("project_id", projectID), zap.Error(err))
	}
	if t, err := e.store.LastSyncTime(ctx, projectID); err == nil {
		st.LastSyncTime = t
	}
	return st
}

// NoteLocalSave re-warms the unsynced counter after a capture lands.
// The write already invalidated the cached count; reading it back here
// keeps status queries cheap and logs the queue depth.
func (e *Engine) NoteLocalSave(projectID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := e.store.CountUnsynced(ctx, projectID)
	if err != nil {
		logger.Log.Warn("Failed to refresh unsynced count",
			zap.Int64("project_id", projectID), zap.Error(err))
		return
	}
	logger.Log.Debug("Unsynced count refreshed",
		zap.Int64("project_id", projectID), zap.Int("count", n))
}
