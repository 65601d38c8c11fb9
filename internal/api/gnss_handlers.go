package api

import (
	"net/http"

	"go.uber.org/zap"

	"field-sync-service/internal/logger"
)

type sentencesRequest struct {
	Sentences []string `json:"sentences" validate:"required,min=1"`
}

// IngestSentences is the push path for the Bluetooth bridge: raw NMEA
// lines in, queued for the monitor. Overflow drops the oldest queued
// sentence, never the caller.
func (h *Handler) IngestSentences(w http.ResponseWriter, r *http.Request) {
	var req sentencesRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, s := range req.Sentences {
		h.monitor.Ingest(s)
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": len(req.Sentences),
		"dropped":  h.monitor.Dropped(),
	})
}

func (h *Handler) CurrentFix(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"fix":     h.monitor.CurrentFix(),
		"queued":  h.monitor.Queued(),
		"dropped": h.monitor.Dropped(),
	})
}

// StreamFixes feeds the live fix over a websocket for the operator's
// accuracy display. The client sends nothing; its first read error is
// the disconnect.
func (h *Handler) StreamFixes(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	fixes, cancel := h.monitor.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if err := conn.WriteJSON(fix); err != nil {
				return
			}
		}
	}
}
