// Package api provides HTTP API handlers for frame detection and capture runs.
package api

import (
	"encoding/json"
	"image"
	"net/http"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/detector"
)

// Pipeline is the detection backend the handlers drive. *app.Manager
// implements it.
type Pipeline interface {
	DetectImage(data []byte) ([]detector.Detection, error)
	StartVideo(address string) (app.RunInfo, error)
	Get(id string) (app.RunInfo, error)
	Cancel(id string) error
	List() ([]app.RunInfo, error)
	Snapshot(id string) (image.Image, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
