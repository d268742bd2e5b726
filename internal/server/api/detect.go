package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/capture"
	"github.com/ayusman/framewatch/internal/detector"
)

// MaxImageSize bounds the request body accepted by /detect_image.
const MaxImageSize = 32 << 20

// DetectHandler serves /detect_image and /detect_video.
type DetectHandler struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// NewDetectHandler creates a new DetectHandler.
func NewDetectHandler(p Pipeline, logger *slog.Logger) *DetectHandler {
	return &DetectHandler{pipeline: p, logger: logger.With("component", "api")}
}

type detectImageResponse struct {
	Detections []detector.Detection `json:"detections"`
}

type detectVideoRequest struct {
	RTSPURL string `json:"rtsp_url"`
}

type detectVideoResponse struct {
	Message    string `json:"message"`
	StopSignal string `json:"stop_signal"`
}

// Image handles POST /detect_image. The image is either the raw request
// body or the multipart form field "file".
func (h *DetectHandler) Image(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := readImage(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image")
		return
	}

	dets, err := h.pipeline.DetectImage(data)
	if err != nil {
		if errors.Is(err, app.ErrInvalidImage) {
			writeError(w, http.StatusBadRequest, "Invalid image")
			return
		}
		h.logger.Error("image detection failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Detection failed")
		return
	}

	if dets == nil {
		dets = []detector.Detection{}
	}
	writeJSON(w, http.StatusOK, detectImageResponse{Detections: dets})
}

func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// Video handles POST /detect_video. The source address comes from the
// rtsp_url query parameter or a JSON body.
func (h *DetectHandler) Video(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	address := strings.TrimSpace(r.URL.Query().Get("rtsp_url"))
	if address == "" && r.Body != nil {
		var req detectVideoRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err == nil {
			address = strings.TrimSpace(req.RTSPURL)
		}
	}
	if address == "" {
		writeError(w, http.StatusBadRequest, "rtsp_url is required")
		return
	}

	info, err := h.pipeline.StartVideo(address)
	if err != nil {
		if errors.Is(err, capture.ErrSourceUnavailable) {
			h.logger.Warn("video source unavailable", "source", address, "error", err)
			writeError(w, http.StatusBadGateway, "Video source unavailable")
			return
		}
		h.logger.Error("failed to start video", "source", address, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start video processing")
		return
	}

	writeJSON(w, http.StatusAccepted, detectVideoResponse{
		Message:    "Video processing started",
		StopSignal: info.ID,
	})
}
