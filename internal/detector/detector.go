// Package detector scores video frames and keeps the per-source state that
// gates scoring: temporal smoothing, frame retention and periodic maintenance.
package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// ErrInvalidFrame is returned by Predict when the frame is absent.
var ErrInvalidFrame = errors.New("invalid frame")

// Config holds configuration options for a Detector.
type Config struct {
	// Threshold is the minimum confidence a candidate needs (0.0-1.0).
	Threshold float64

	// BufferSize is the FrameBuffer capacity.
	BufferSize int

	// BurstInterval is the inter-arrival time below which frames are smoothed.
	BurstInterval time.Duration

	// WindowSize is the number of frames averaged during a burst.
	WindowSize int

	// MinDimension is the smallest frame height or width that is scored.
	MinDimension int

	// MaintenanceEvery runs maintenance after this many Predict calls.
	MaintenanceEvery uint64

	// MaintenanceBudget bounds how long maintenance may block Predict.
	MaintenanceBudget time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Threshold:         0.5,
		BufferSize:        DefaultBufferSize,
		BurstInterval:     DefaultBurstInterval,
		WindowSize:        DefaultWindowSize,
		MinDimension:      50,
		MaintenanceEvery:  100,
		MaintenanceBudget: 50 * time.Millisecond,
	}
}

// confidencePlaces is the decimal precision used when comparing confidence
// against the threshold.
const confidencePlaces = 10

// Detector scores frames for one video source.
//
// Predict is safe for concurrent use. The timestamp check, smoothing window
// update and timestamp store happen as one step under mu; scoring and
// threshold filtering run outside it.
type Detector struct {
	config Config
	scorer Scorer
	logger *slog.Logger
	buffer *FrameBuffer
	now    func() time.Time

	mu            sync.Mutex
	threshold     float64
	lastFrameTime time.Time
	smoother      *TemporalSmoother

	processed   atomic.Uint64
	maintaining atomic.Bool
}

// New creates a Detector. A nil scorer selects the BrightSpotScorer
// placeholder and a nil logger discards logs.
func New(config Config, scorer Scorer, logger *slog.Logger) *Detector {
	defaults := DefaultConfig()
	if config.Threshold <= 0 || config.Threshold > 1 {
		config.Threshold = defaults.Threshold
	}
	if config.MinDimension <= 0 {
		config.MinDimension = defaults.MinDimension
	}
	if config.MaintenanceEvery == 0 {
		config.MaintenanceEvery = defaults.MaintenanceEvery
	}
	if config.MaintenanceBudget <= 0 {
		config.MaintenanceBudget = defaults.MaintenanceBudget
	}
	if scorer == nil {
		scorer = NewBrightSpotScorer()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Detector{
		config:    config,
		scorer:    scorer,
		logger:    logger.With("component", "detector"),
		buffer:    NewFrameBuffer(config.BufferSize),
		now:       time.Now,
		threshold: config.Threshold,
		smoother:  NewTemporalSmoother(config.WindowSize, config.BurstInterval),
	}
}

// Predict returns the detections in frame whose confidence reaches the
// threshold. Frames smaller than MinDimension in either direction yield an
// empty result. A nil or empty frame fails with ErrInvalidFrame.
func (d *Detector) Predict(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrInvalidFrame
	}

	width, height := frame.Cols(), frame.Rows()
	if width < d.config.MinDimension || height < d.config.MinDimension {
		return []Detection{}, nil
	}

	work, smoothed, threshold := d.smooth(frame)
	defer work.Close()

	if smoothed {
		d.logger.Debug("burst smoothed", "window", d.config.WindowSize)
	}

	d.buffer.Add(&work)
	if n := d.processed.Add(1); n%d.config.MaintenanceEvery == 0 {
		d.maintain(n)
	}

	candidates, err := d.scorer.Score(&work)
	if err != nil {
		return nil, fmt.Errorf("score frame: %w", err)
	}

	detections := make([]Detection, 0, len(candidates))
	for _, c := range candidates {
		if !c.Valid(width, height) {
			d.logger.Debug("discarding invalid candidate", "candidate", c, "width", width, "height", height)
			continue
		}
		if roundTo(c.Confidence, confidencePlaces) >= threshold {
			detections = append(detections, c)
		}
	}

	return detections, nil
}

// smooth runs the elapsed check, window update and timestamp store as one
// step under the state lock.
func (d *Detector) smooth(frame *gocv.Mat) (gocv.Mat, bool, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	work, smoothed := d.smoother.Apply(frame, now.Sub(d.lastFrameTime))
	d.lastFrameTime = now
	return work, smoothed, d.threshold
}

// maintain compacts the frame buffer to its newest half within the
// maintenance budget and asks the runtime to return freed memory to the OS
// in the background.
func (d *Detector) maintain(n uint64) {
	start := time.Now()
	discarded := d.buffer.Compact(d.buffer.Cap()/2, start.Add(d.config.MaintenanceBudget))

	if d.maintaining.CompareAndSwap(false, true) {
		go func() {
			defer d.maintaining.Store(false)
			debug.FreeOSMemory()
		}()
	}

	d.logger.Debug("maintenance",
		"processed", n,
		"discarded", discarded,
		"retained", d.buffer.Len(),
		"took", time.Since(start),
	)
}

// Processed returns the number of frames that reached scoring.
func (d *Detector) Processed() uint64 {
	return d.processed.Load()
}

// Buffer returns the detector's frame buffer.
func (d *Detector) Buffer() *FrameBuffer {
	return d.buffer
}

// Threshold returns the confidence threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// SetThreshold sets the confidence threshold.
// Values outside (0, 1] are ignored.
func (d *Detector) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.threshold = threshold
}

// Close releases the retained frames and the smoothing window.
func (d *Detector) Close() error {
	d.mu.Lock()
	d.smoother.Close()
	d.mu.Unlock()

	d.buffer.Close()
	return nil
}
