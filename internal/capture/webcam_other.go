//go:build !linux

package capture

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

type unsupportedWebcam struct {
	device string
}

// NewWebcamSource returns a source that fails to open; V4L2 devices are
// only available on Linux.
func NewWebcamSource(device string, width, height int) VideoSource {
	return unsupportedWebcam{device: device}
}

func (u unsupportedWebcam) Open() error {
	return errors.Wrapf(ErrSourceUnavailable, "%s: V4L2 is not supported on this platform", u.device)
}

func (u unsupportedWebcam) Read() (*gocv.Mat, error) { return nil, ErrSourceClosed }
func (u unsupportedWebcam) Release() error           { return nil }
