package collect

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"field-sync-service/internal/logger"
)

// Optimistic UI artifacts (a marker placed before the save lands) get
// a uniform contract: Reserve before saving, pass the tentative id in
// SaveOptions, then Commit to learn the persisted client ids or
// Rollback to discard. Reservations the caller abandons expire.

const defaultReservationTTL = 5 * time.Minute

var ErrUnknownReservation = errors.New("unknown or expired reservation")

type reservation struct {
	createdAt time.Time
	clientIDs []string
}

// Reserve hands out a tentative id for an optimistic artifact.
func (c *Collector) Reserve() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(time.Now())

	id := uuid.NewString()
	c.reservations[id] = &reservation{createdAt: time.Now()}
	logger.Log.Debug("Reserved tentative id", zap.String("tentative_id", id))
	return id
}

// Commit resolves a reservation to the client ids persisted under it
// and retires it. An empty result means no capture landed under the
// reservation; the caller should treat its artifact as void.
func (c *Collector) Commit(tentativeID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(time.Now())

	r, ok := c.reservations[tentativeID]
	if !ok {
		return nil, ErrUnknownReservation
	}
	delete(c.reservations, tentativeID)

	logger.Log.Debug("Committed reservation",
		zap.String("tentative_id", tentativeID),
		zap.Int("client_ids", len(r.clientIDs)))
	return r.clientIDs, nil
}

// Rollback retires a reservation without resolving it. It only
// discards the tentative binding; a capture that already persisted
// stays persisted. Field data is never deleted on a UI retreat.
func (c *Collector) Rollback(tentativeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reservations[tentativeID]; ok {
		delete(c.reservations, tentativeID)
		logger.Log.Debug("Rolled back reservation", zap.String("tentative_id", tentativeID))
	}
	c.sweepLocked(time.Now())
}

// bindLocked attaches persisted client ids to a live reservation.
// Unknown or empty ids are ignored; binding never fails a save.
func (c *Collector) bindLocked(tentativeID string, ids ...string) {
	if tentativeID == "" {
		return
	}
	r, ok := c.reservations[tentativeID]
	if !ok {
		return
	}
	r.clientIDs = append(r.clientIDs, ids...)
}

func (c *Collector) sweepLocked(now time.Time) {
	for id, r := range c.reservations {
		if now.Sub(r.createdAt) > c.reservationTTL {
			delete(c.reservations, id)
			logger.Log.Debug("Expired reservation", zap.String("tentative_id", id))
		}
	}
}
