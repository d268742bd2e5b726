package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Scorer produces candidate detections for a frame. Implementations must not
// retain or modify frame. Candidates are filtered by the Detector.
type Scorer interface {
	Score(frame *gocv.Mat) ([]Detection, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(frame *gocv.Mat) ([]Detection, error)

// Score calls f(frame).
func (f ScorerFunc) Score(frame *gocv.Mat) ([]Detection, error) {
	return f(frame)
}

// brightSpotBlur is the Gaussian kernel applied before locating the peak.
const brightSpotBlur = 5

// BrightSpotScorer is a placeholder Scorer. It proposes a single box, half
// the frame's size, centred on the brightest point of the blurred grayscale
// image, with the peak intensity as confidence. It is deterministic.
type BrightSpotScorer struct{}

// NewBrightSpotScorer creates a BrightSpotScorer.
func NewBrightSpotScorer() *BrightSpotScorer {
	return &BrightSpotScorer{}
}

func (s *BrightSpotScorer) Score(frame *gocv.Mat) ([]Detection, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: brightSpotBlur, Y: brightSpotBlur}, 0, 0, gocv.BorderDefault)

	_, peak, _, loc := gocv.MinMaxLoc(blurred)
	if peak <= 0 {
		return nil, nil
	}

	width, height := frame.Cols(), frame.Rows()
	halfW, halfH := width/4, height/4

	confidence := float64(peak) / 255
	if confidence > 1 {
		confidence = 1
	}

	return []Detection{{
		XMin:       clamp(loc.X-halfW, 0, width),
		YMin:       clamp(loc.Y-halfH, 0, height),
		XMax:       clamp(loc.X+halfW, 0, width),
		YMax:       clamp(loc.Y+halfH, 0, height),
		Confidence: confidence,
	}}, nil
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// MockScorer is a test implementation of the Scorer interface.
// It allows tests to control the candidates returned.
type MockScorer struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
}

// NewMockScorer creates a new MockScorer instance.
func NewMockScorer() *MockScorer {
	return &MockScorer{}
}

// SetDetections sets the candidates that will be returned by Score.
func (m *MockScorer) SetDetections(detections []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = detections
}

// SetError sets the error that will be returned by Score.
func (m *MockScorer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Score has been called.
func (m *MockScorer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Score returns the pre-configured candidates or error.
func (m *MockScorer) Score(frame *gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Detection, len(m.detections))
	copy(out, m.detections)
	return out, nil
}
