package capture

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// MockSource plays back pre-recorded frames for testing. It counts calls so
// tests can assert on the capture loop's interaction with the source.
type MockSource struct {
	frames   []*gocv.Mat
	index    int
	loop     bool
	openErr  error
	readErrs []error
	gate     chan struct{}
	gateAt   int
	mu       sync.Mutex
	running  bool
	closed   bool
	opens    int
	reads    int
	releases int
	// releaseCalls counts every Release, including no-ops.
	releaseCalls int
}

// NewMockSource creates a MockSource. With loop set, playback restarts from
// the first frame; otherwise Read returns ErrSourceClosed once all frames
// have been consumed.
func NewMockSource(frames []*gocv.Mat, loop bool) *MockSource {
	return &MockSource{
		frames: frames,
		loop:   loop,
	}
}

// SetOpenError makes Open fail with err.
func (s *MockSource) SetOpenError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// QueueReadErrors makes the next reads fail with errs, in order, before
// playback resumes.
func (s *MockSource) QueueReadErrors(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErrs = append(s.readErrs, errs...)
}

// BlockAfter makes every read after the first n block until Unblock is
// called.
func (s *MockSource) BlockAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.gateAt = n
}

// Unblock releases reads held by BlockAfter.
func (s *MockSource) Unblock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *MockSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return errors.Wrap(ErrSourceUnavailable, s.openErr.Error())
	}
	s.running = true
	s.closed = false
	s.index = 0
	return nil
}

func (s *MockSource) Read() (*gocv.Mat, error) {
	s.mu.Lock()
	s.reads++
	if gate := s.gate; gate != nil && s.reads > s.gateAt {
		s.mu.Unlock()
		<-gate
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	if !s.running || s.closed {
		return nil, ErrSourceClosed
	}

	if len(s.readErrs) > 0 {
		err := s.readErrs[0]
		s.readErrs = s.readErrs[1:]
		return nil, err
	}

	if len(s.frames) == 0 {
		return nil, errors.Wrap(ErrReadFailed, "no frames available")
	}

	if s.index >= len(s.frames) {
		if !s.loop {
			return nil, errors.Wrap(ErrSourceClosed, "no more frames")
		}
		s.index = 0
	}

	// Clone the frame so the original isn't modified
	frame := s.frames[s.index].Clone()
	s.index++

	return &frame, nil
}

func (s *MockSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if !s.running {
		return nil
	}
	s.running = false
	s.releases++
	return nil
}

// Close simulates the stream being closed externally: later reads return
// ErrSourceClosed but the source still counts as unreleased.
func (s *MockSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Opens returns the number of Open calls.
func (s *MockSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Reads returns the number of Read calls.
func (s *MockSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Releases returns the number of effective Release calls.
func (s *MockSource) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// ReleaseCalls returns the number of Release calls, including calls on a
// source that was already released.
func (s *MockSource) ReleaseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseCalls
}

// IsOpen returns true between Open and Release.
func (s *MockSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
