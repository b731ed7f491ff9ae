package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hrdesk/pbac/internal/notify"
	"github.com/hrdesk/pbac/pkg/types"
)

const streamHeartbeat = 15 * time.Second

// streamHandler handles GET /v1/notifications/stream with Server-Sent
// Events. Decision events are only sent with ?decisions=true.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := types.IdentityFromContext(r.Context()); !ok {
		WriteError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	if s.hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "streaming disabled", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}
	withDecisions := r.URL.Query().Get("decisions") == "true"

	events, cancel := s.hub.Subscribe(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == notify.EventDecision && !withDecisions {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
