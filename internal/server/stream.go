package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/server/api"
)

// streamInterval paces the MJPEG stream at about 15 FPS.
const streamInterval = 66 * time.Millisecond

// StreamHandler serves a run's retained frames as MJPEG on
// /api/runs/{id}/stream. Streaming drains the run's frame buffer.
type StreamHandler struct {
	pipeline api.Pipeline
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(p api.Pipeline) *StreamHandler {
	return &StreamHandler{pipeline: p}
}

// ServeHTTP streams MJPEG frames until the client goes away or the run
// is no longer tracked.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	id = strings.TrimSuffix(id, "/stream")

	if _, err := h.pipeline.Get(id); err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var buf bytes.Buffer
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		img, err := h.pipeline.Snapshot(id)
		if errors.Is(err, app.ErrNoFrame) {
			if info, err := h.pipeline.Get(id); err != nil || info.Status == app.StatusStopped {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		w.Write(buf.Bytes())
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
