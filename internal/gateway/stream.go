package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/basket/wolfpack/internal/bus"
	"github.com/basket/wolfpack/internal/telemetry"
)

const defaultHeartbeat = 25 * time.Second

// handleEventStream implements GET /api/events/stream. It forwards the
// caller's activity events from the bus as server-sent events until the
// client goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if s.cfg.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "streaming not available: event bus not configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}

	sub := s.cfg.Bus.Subscribe(bus.TopicActivity)
	defer s.cfg.Bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := s.heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	logger := telemetry.FromContext(ctx, s.logger)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("sse: client disconnected", "dropped", sub.Dropped())
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event, ok := <-sub.Ch():
			if !ok {
				return
			}
			ev, isActivity := event.Payload.(bus.ActivityEvent)
			if !isActivity || ev.UserID != userID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("sse: marshal event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EventID, ev.Type, data); err != nil {
				logger.Debug("sse: write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
