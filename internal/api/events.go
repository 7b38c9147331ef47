package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const eventsHeartbeat = 15 * time.Second

// handleEvents streams new alerts as Server-Sent Events until the client
// goes away.
func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		alerts, cancel := deps.Alerts.Subscribe(32)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(eventsHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case a, ok := <-alerts:
				if !ok {
					return
				}
				payload, err := json.Marshal(viewOf(a))
				if err != nil {
					slog.Error("failed to marshal alert event", "id", a.ID, "error", err)
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: alert\ndata: %s\n\n", a.ID, payload)
				flusher.Flush()
			}
		}
	}
}
