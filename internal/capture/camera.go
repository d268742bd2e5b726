package capture

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// CameraSource reads frames through OpenCV's VideoCapture. It accepts device
// indices, files and network URLs (RTSP, HTTP). Zero width, height or fps
// leave the stream's own settings alone.
type CameraSource struct {
	addr     any
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	opened   bool
	released bool
	width    int
	height   int
	fps      int
}

// NewCameraSource creates a CameraSource for the given address. See
// ParseAddress for the accepted forms.
func NewCameraSource(addr string) *CameraSource {
	return &CameraSource{addr: ParseAddress(addr)}
}

// SetResolution requests a frame size when the source is opened.
// Non-positive values are ignored.
func (c *CameraSource) SetResolution(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.width = width
	c.height = height
}

// SetFPS requests a frame rate. Values less than or equal to 0 are ignored.
func (c *CameraSource) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// Open opens the underlying stream. Opening an open source is a no-op.
func (c *CameraSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.addr)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "open %v: %v", c.addr, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return errors.Wrapf(ErrSourceUnavailable, "open %v", c.addr)
	}

	if c.width > 0 && c.height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}
	if c.fps > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	c.capture = capture
	c.opened = true
	c.released = false

	return nil
}

// Read reads a single frame. The caller is responsible for closing the
// returned Mat.
func (c *CameraSource) Read() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened || c.capture == nil {
		return nil, ErrSourceClosed
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if !c.capture.IsOpened() {
			return nil, errors.Wrapf(ErrSourceClosed, "read %v", c.addr)
		}
		if c.endOfStream() {
			return nil, errors.Wrapf(ErrSourceClosed, "read %v: end of stream", c.addr)
		}
		return nil, errors.Wrapf(ErrReadFailed, "read %v", c.addr)
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.Wrapf(ErrReadFailed, "read %v: empty frame", c.addr)
	}

	return &mat, nil
}

// endOfStream reports whether a finite source such as a file has been read
// to its last frame. Live streams report no frame count.
func (c *CameraSource) endOfStream() bool {
	count := c.capture.Get(gocv.VideoCaptureFrameCount)
	if count <= 0 {
		return false
	}
	return c.capture.Get(gocv.VideoCapturePosFrames) >= count
}

// Release closes the stream. Subsequent calls return nil.
func (c *CameraSource) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.capture == nil {
		c.opened = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.opened = false
	c.released = true

	return errors.Wrap(err, "release capture")
}

// IsOpen returns true if the source is open.
func (c *CameraSource) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.opened
}
