package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ayusman/framewatch/internal/app"
)

// DefaultSnapshotWidth is the width snapshots are fitted to when the
// request does not ask for one.
const DefaultSnapshotWidth = 640

// RunsHandler handles HTTP requests for capture runs.
type RunsHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// NewRunsHandler creates a new RunsHandler.
func NewRunsHandler(p Pipeline, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{pipeline: p, logger: logger.With("component", "api")}
}

type listRunsResponse struct {
	Runs []app.RunInfo `json:"runs"`
}

type cancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ServeHTTP routes /api/runs, /api/runs/{id} and /api/runs/{id}/snapshot.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	switch {
	case sub == "snapshot" && r.Method == http.MethodGet:
		h.snapshot(w, r, id)
	case sub != "":
		http.NotFound(w, r)
	case r.Method == http.MethodGet:
		h.get(w, r, id)
	case r.Method == http.MethodDelete:
		h.cancel(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// list handles GET /api/runs.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.pipeline.List()
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []app.RunInfo{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

// get handles GET /api/runs/{id}.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	info, err := h.pipeline.Get(id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// cancel handles DELETE /api/runs/{id}. Cancellation is asynchronous.
func (h *RunsHandler) cancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.pipeline.Cancel(id); err != nil {
		h.writeLookupError(w, id, err)
		return
	}

	status := ""
	if info, err := h.pipeline.Get(id); err == nil {
		status = string(info.Status)
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{ID: id, Status: status})
}

// snapshot handles GET /api/runs/{id}/snapshot. The oldest retained frame
// is fitted to ?width= (default 640) and returned as JPEG.
func (h *RunsHandler) snapshot(w http.ResponseWriter, r *http.Request, id string) {
	width := DefaultSnapshotWidth
	if v := r.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "width must be a positive integer")
			return
		}
		width = n
	}

	img, err := h.pipeline.Snapshot(id)
	if err != nil {
		if errors.Is(err, app.ErrNoFrame) {
			writeError(w, http.StatusNotFound, "No frame available")
			return
		}
		h.writeLookupError(w, id, err)
		return
	}

	b := img.Bounds()
	if b.Dx() > width {
		img = imaging.Fit(img, width, b.Dy(), imaging.Lanczos)
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		h.logger.Warn("failed to encode snapshot", "run", id, "error", err)
	}
}

func (h *RunsHandler) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, app.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	h.logger.Error("run lookup failed", "run", id, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal error")
}
