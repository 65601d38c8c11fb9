package sync

import (
	"fmt"
	"time"
)

// Trigger names the source of a sync attempt. Every source passes
// through the same gate.
type Trigger string

const (
	TriggerStartup    Trigger = "startup"
	TriggerPeriodic   Trigger = "periodic"
	TriggerReconnect  Trigger = "reconnect"
	TriggerForeground Trigger = "foreground"
	TriggerManual     Trigger = "manual"
)

// SyncResult reports one sync pass. Success with SyncedCount zero
// means there was nothing to do, which is not a failure.
type SyncResult struct {
	Success      bool   `json:"success"`
	SyncedCount  int    `json:"synced_count"`
	FailedCount  int    `json:"failed_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r SyncResult) String() string {
	return fmt.Sprintf("success=%t synced=%d failed=%d", r.Success, r.SyncedCount, r.FailedCount)
}

// Status is the externally visible sync state, global or per project.
type Status struct {
	IsSyncing     bool       `json:"is_syncing"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
	UnsyncedCount int        `json:"unsynced_count"`
}
