package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// Temporal smoothing defaults.
const (
	// DefaultBurstInterval is the inter-arrival time below which frames are
	// considered part of a capture burst (faster than ~60 fps).
	DefaultBurstInterval = 16 * time.Millisecond
	// DefaultWindowSize is the number of frames averaged during a burst.
	DefaultWindowSize = 3
)

// TemporalSmoother averages the most recent frames of a capture burst.
//
// It holds no lock of its own. Callers must serialize Apply together with
// their own timestamp bookkeeping; Detector does so under its state lock.
type TemporalSmoother struct {
	window []gocv.Mat
	size   int
	burst  time.Duration
}

// NewTemporalSmoother creates a smoother averaging up to size frames that
// arrive less than burst apart.
func NewTemporalSmoother(size int, burst time.Duration) *TemporalSmoother {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if burst <= 0 {
		burst = DefaultBurstInterval
	}
	return &TemporalSmoother{
		window: make([]gocv.Mat, 0, size),
		size:   size,
		burst:  burst,
	}
}

// Apply returns the frame to score given the time elapsed since the previous
// frame. During a burst a copy of frame joins the window, and once the window
// holds more than one frame the result is their per-pixel mean, rounded to
// the frame's pixel type. Otherwise the result is a copy of frame.
//
// The returned Mat is always new and owned by the caller.
func (s *TemporalSmoother) Apply(frame *gocv.Mat, elapsed time.Duration) (gocv.Mat, bool) {
	if elapsed >= s.burst {
		return frame.Clone(), false
	}

	s.push(frame)

	if len(s.window) < 2 {
		return frame.Clone(), false
	}

	out := gocv.NewMat()
	mean(s.window, &out)
	return out, true
}

// Len returns the number of frames in the window.
func (s *TemporalSmoother) Len() int {
	return len(s.window)
}

// Close releases the frames held in the window.
func (s *TemporalSmoother) Close() {
	for i := range s.window {
		s.window[i].Close()
	}
	s.window = s.window[:0]
}

func (s *TemporalSmoother) push(frame *gocv.Mat) {
	// Frames of another geometry cannot be averaged with the window.
	if len(s.window) > 0 && !sameShape(&s.window[0], frame) {
		s.Close()
	}

	if len(s.window) == s.size {
		s.window[0].Close()
		copy(s.window, s.window[1:])
		s.window = s.window[:s.size-1]
	}

	s.window = append(s.window, frame.Clone())
}

func sameShape(a, b *gocv.Mat) bool {
	return a.Rows() == b.Rows() && a.Cols() == b.Cols() && a.Type() == b.Type()
}

// mean writes the per-pixel arithmetic mean of frames into dst, accumulating
// in float64 and converting back with saturating round-to-nearest.
func mean(frames []gocv.Mat, dst *gocv.Mat) {
	acc := gocv.NewMat()
	defer acc.Close()
	next := gocv.NewMat()
	defer next.Close()

	frames[0].ConvertTo(&acc, gocv.MatTypeCV64F)
	for i := 1; i < len(frames); i++ {
		frames[i].ConvertTo(&next, gocv.MatTypeCV64F)
		gocv.Add(acc, next, &acc)
	}

	acc.ConvertToWithParams(dst, frames[0].Type(), float32(1.0/float64(len(frames))), 0)
}
