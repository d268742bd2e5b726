package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/framewatch/internal/detector"
)

// Status is the lifecycle state of a capture loop.
type Status string

const (
	StatusOpening    Status = "opening"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
)

// Outcomes recorded once a loop reaches StatusStopped.
const (
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// RunInfo is a point-in-time view of a capture loop.
type RunInfo struct {
	ID             string               `json:"id"`
	Source         string               `json:"source"`
	Status         Status               `json:"status"`
	Outcome        string               `json:"outcome,omitempty"`
	Processed      uint64               `json:"processed"`
	ReadFailures   uint64               `json:"read_failures"`
	LastDetections []detector.Detection `json:"last_detections,omitempty"`
	Error          string               `json:"error,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	StoppedAt      *time.Time           `json:"stopped_at,omitempty"`
}

// Handle controls a running capture loop. Cancel may be called any number
// of times from any goroutine; only the first call has an effect.
type Handle struct {
	id        string
	source    string
	detector  *detector.Detector
	startedAt time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	mu        sync.RWMutex
	status    Status
	outcome   string
	err       error
	last      []detector.Detection
	stoppedAt time.Time

	processed    atomic.Uint64
	readFailures atomic.Uint64
}

func newHandle(id, source string, det *detector.Detector) *Handle {
	return &Handle{
		id:        id,
		source:    source,
		detector:  det,
		startedAt: time.Now().UTC(),
		cancelCh:  make(chan struct{}),
		done:      make(chan struct{}),
		status:    StatusOpening,
	}
}

// ID returns the run identifier.
func (h *Handle) ID() string {
	return h.id
}

// Source returns the address the loop reads from.
func (h *Handle) Source() string {
	return h.source
}

// Detector returns the detector the loop feeds.
func (h *Handle) Detector() *detector.Detector {
	return h.detector
}

// Cancel requests that the loop stop. It does not wait; use Done for that.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() {
		h.mu.Lock()
		if h.status == StatusOpening || h.status == StatusRunning {
			h.status = StatusCancelling
		}
		h.mu.Unlock()
		close(h.cancelCh)
	})
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.cancelCh:
		return true
	default:
		return false
	}
}

// Done is closed once the loop has released its source and stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Err returns the cause of failure, or nil if the loop was not failed.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Outcome returns OutcomeCancelled or OutcomeFailed once the loop has
// stopped and an empty string before.
func (h *Handle) Outcome() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome
}

// Processed returns the number of frames that were scored successfully.
func (h *Handle) Processed() uint64 {
	return h.processed.Load()
}

// ReadFailures returns the total number of failed reads.
func (h *Handle) ReadFailures() uint64 {
	return h.readFailures.Load()
}

// Info returns a snapshot of the loop state.
func (h *Handle) Info() RunInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := RunInfo{
		ID:             h.id,
		Source:         h.source,
		Status:         h.status,
		Outcome:        h.outcome,
		Processed:      h.processed.Load(),
		ReadFailures:   h.readFailures.Load(),
		LastDetections: h.last,
		StartedAt:      h.startedAt,
	}
	if h.err != nil {
		info.Error = h.err.Error()
	}
	if !h.stoppedAt.IsZero() {
		stopped := h.stoppedAt
		info.StoppedAt = &stopped
	}
	return info
}

func (h *Handle) setRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusOpening {
		h.status = StatusRunning
	}
}

func (h *Handle) setLast(dets []detector.Detection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = dets
}

// fail records err and moves a running loop to StatusFailed. A loop that is
// already cancelling or failed is left alone.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusOpening && h.status != StatusRunning {
		return
	}
	h.err = err
	h.status = StatusFailed
}

func (h *Handle) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusFailed {
		h.outcome = OutcomeFailed
	} else {
		h.outcome = OutcomeCancelled
	}
	h.status = StatusStopped
	h.stoppedAt = time.Now().UTC()
}
