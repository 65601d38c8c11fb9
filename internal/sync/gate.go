package sync

import (
	"context"

	"field-sync-service/internal/auth"
)

// SessionProvider is what the gate reads from the auth subsystem. The
// gate consumes snapshots; it never owns session state.
type SessionProvider interface {
	Snapshot() auth.Snapshot
}

// Gate is the single decision point every sync trigger passes through.
type Gate struct {
	engine  *Engine
	session SessionProvider
	store   counter
}

type counter interface {
	CountUnsyncedAll(ctx context.Context) (int, error)
}

func NewGate(engine *Engine, session SessionProvider, store counter) *Gate {
	return &Gate{engine: engine, session: session, store: store}
}

// CanSync runs the preconditions in order and names the first one that
// failed. The order matters: the in-flight check must come first so
// two triggers racing each other resolve before any state is read.
func (g *Gate) CanSync(ctx context.Context) (bool, string) {
	if g.engine.Syncing() {
		return false, "sync already in progress"
	}

	snap := g.session.Snapshot()
	if !snap.IsInitialized {
		return false, "session not initialized"
	}
	if snap.User == "" || !snap.Authenticated {
		return false, "not authenticated"
	}
	if snap.IsOffline {
		return false, "offline mode enabled"
	}

	n, err := g.store.CountUnsyncedAll(ctx)
	if err != nil {
		return false, "unsynced count unavailable"
	}
	if n == 0 {
		return false, "nothing to sync"
	}

	return true, ""
}
