// Package capture provides video sources for the frame-ingestion pipeline.
package capture

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	// ErrSourceUnavailable is returned when a video source cannot be opened.
	ErrSourceUnavailable = errors.New("video source unavailable")

	// ErrSourceClosed is returned by Read once the source has been released
	// or the underlying stream has ended. It is not recoverable.
	ErrSourceClosed = errors.New("video source closed")

	// ErrReadFailed is returned by Read when a single frame could not be
	// read. The caller may retry.
	ErrReadFailed = errors.New("failed to read frame")
)

// VideoSource is a stream of frames.
//
// Read returns a Mat owned by the caller, who must Close it. Release must be
// idempotent: releasing an already released source returns nil.
type VideoSource interface {
	Open() error
	Read() (*gocv.Mat, error)
	Release() error
}

// ParseAddress converts a source address into the form accepted by OpenCV.
// Integer strings are device indices, anything else is a URL or file path.
func ParseAddress(addr string) any {
	addr = strings.TrimSpace(addr)
	if id, err := strconv.Atoi(addr); err == nil {
		return id
	}
	return addr
}

// IsDevicePath reports whether addr names a V4L2 device node.
func IsDevicePath(addr string) bool {
	return strings.HasPrefix(strings.TrimSpace(addr), "/dev/video")
}
