// Package server provides the HTTP server for frame detection and capture
// runs.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/framewatch/internal/server/api"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Pipeline  api.Pipeline
	Hub       *Hub
	Logger    *slog.Logger
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger.With("component", "http"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Pipeline != nil {
		detect := api.NewDetectHandler(s.config.Pipeline, s.logger)
		runs := api.NewRunsHandler(s.config.Pipeline, s.logger)
		stream := NewStreamHandler(s.config.Pipeline)

		s.mux.HandleFunc("/detect_image", detect.Image)
		s.mux.HandleFunc("/detect_video", detect.Video)

		// Route /api/runs/{id}/stream to the MJPEG handler, the rest to runs
		runRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/stream") {
				stream.ServeHTTP(w, r)
				return
			}
			runs.ServeHTTP(w, r)
		})

		s.mux.Handle("/api/runs", runRouter)
		s.mux.Handle("/api/runs/", runRouter)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/progress", s.config.Hub)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]any{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}
