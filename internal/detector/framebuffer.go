package detector

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultBufferSize is the number of frames a FrameBuffer retains.
const DefaultBufferSize = 30

// FrameBuffer retains copies of recently processed frames in a fixed-size
// ring. When full, Add drops the incoming frame and leaves the contents
// unchanged.
//
// The buffer is designed for one producer and at most one consumer. All
// access is serialized by a mutex, so several producers sharing a buffer do
// not corrupt it, but nothing coordinates which producer's frames survive.
type FrameBuffer struct {
	mu      sync.Mutex
	frames  []*gocv.Mat
	head    int
	size    int
	dropped uint64
}

// NewFrameBuffer creates a FrameBuffer holding up to capacity frames.
// A capacity less than or equal to 0 selects DefaultBufferSize.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &FrameBuffer{
		frames: make([]*gocv.Mat, capacity),
	}
}

// Add retains a copy of frame. It returns false, without error, when the
// buffer is full or the frame is empty.
func (b *FrameBuffer) Add(frame *gocv.Mat) bool {
	if frame == nil || frame.Empty() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.frames) {
		b.dropped++
		return false
	}

	clone := frame.Clone()
	b.frames[(b.head+b.size)%len(b.frames)] = &clone
	b.size++
	return true
}

// Get removes and returns the oldest retained frame. The caller owns the
// returned Mat and must Close it. The boolean is false when the buffer is
// empty.
func (b *FrameBuffer) Get() (*gocv.Mat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil, false
	}

	return b.popLocked(), true
}

// Len returns the number of retained frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *FrameBuffer) Cap() int {
	return len(b.frames)
}

// Dropped returns the number of frames rejected because the buffer was full.
func (b *FrameBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Compact discards the oldest frames until at most keep remain or the
// deadline passes. It returns the number of frames discarded.
func (b *FrameBuffer) Compact(keep int, deadline time.Time) int {
	if keep < 0 {
		keep = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for b.size > keep {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		b.popLocked().Close()
		n++
	}
	return n
}

// Close releases every retained frame. The buffer stays usable.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size > 0 {
		b.popLocked().Close()
	}
}

func (b *FrameBuffer) popLocked() *gocv.Mat {
	frame := b.frames[b.head]
	b.frames[b.head] = nil
	b.head = (b.head + 1) % len(b.frames)
	b.size--
	return frame
}
