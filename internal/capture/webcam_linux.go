//go:build linux

package capture

import (
	"strings"
	"sync"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// frameWaitTimeout is the number of seconds Read waits for the driver.
const frameWaitTimeout = 2

// WebcamSource reads MJPEG frames straight from a V4L2 device node.
type WebcamSource struct {
	device   string
	width    uint32
	height   uint32
	cam      *webcam.Webcam
	mu       sync.Mutex
	released bool
}

// NewWebcamSource creates a WebcamSource for a device path such as
// /dev/video0. A zero size keeps the driver's current resolution.
func NewWebcamSource(device string, width, height int) VideoSource {
	return &WebcamSource{
		device: device,
		width:  uint32(max(width, 0)),
		height: uint32(max(height, 0)),
	}
}

func (w *WebcamSource) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cam != nil {
		return nil
	}

	cam, err := webcam.Open(w.device)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "open %s: %v", w.device, err)
	}

	format, ok := findMJPEG(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return errors.Wrapf(ErrSourceUnavailable, "%s does not support MJPEG", w.device)
	}

	if w.width > 0 && w.height > 0 {
		if _, _, _, err := cam.SetImageFormat(format, w.width, w.height); err != nil {
			cam.Close()
			return errors.Wrapf(ErrSourceUnavailable, "set format on %s: %v", w.device, err)
		}
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return errors.Wrapf(ErrSourceUnavailable, "start streaming %s: %v", w.device, err)
	}

	w.cam = cam
	w.released = false
	return nil
}

func (w *WebcamSource) Read() (*gocv.Mat, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cam == nil {
		return nil, ErrSourceClosed
	}

	err := w.cam.WaitForFrame(frameWaitTimeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, errors.Wrapf(ErrReadFailed, "%s: %v", w.device, err)
	default:
		return nil, errors.Wrapf(ErrSourceClosed, "wait for frame on %s: %v", w.device, err)
	}

	buf, err := w.cam.ReadFrame()
	if err != nil {
		return nil, errors.Wrapf(ErrSourceClosed, "read frame on %s: %v", w.device, err)
	}
	if len(buf) == 0 {
		return nil, errors.Wrapf(ErrReadFailed, "%s: empty frame", w.device)
	}

	mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrapf(ErrReadFailed, "%s: decode: %v", w.device, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, errors.Wrapf(ErrReadFailed, "%s: undecodable frame", w.device)
	}

	return &mat, nil
}

func (w *WebcamSource) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released || w.cam == nil {
		return nil
	}

	w.cam.StopStreaming()
	err := w.cam.Close()
	w.cam = nil
	w.released = true

	return errors.Wrapf(err, "close %s", w.device)
}

func findMJPEG(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	for format, name := range formats {
		name = strings.ToUpper(name)
		if strings.Contains(name, "MJPEG") || strings.Contains(name, "MOTION-JPEG") {
			return format, true
		}
	}
	return 0, false
}
