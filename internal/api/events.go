package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Sylteon/uzlarska-regata/internal/race"
)

// streamEvents is the scoreboard transport: a Server-Sent Events stream
// of board snapshots, one JSON frame per published snapshot. The page
// redraws from whole frames, so a dropped frame costs nothing.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, frames := s.engine.Subscribe()
	defer s.engine.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	// The subscription only carries frames published after it was made.
	// Send the current board first so a reconnecting page is never blank.
	if err := writeSnapshotFrame(w, s.engine.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case snap, ok := <-frames:
			if !ok {
				return
			}
			if err := writeSnapshotFrame(w, snap); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSnapshotFrame(w http.ResponseWriter, snap race.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
