package capture

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FaultConfig sets the per-read probabilities used by FaultSource.
type FaultConfig struct {
	// DropRate is the probability that a read fails with ErrReadFailed.
	DropRate float64
	// CorruptRate is the probability that a read succeeds with a nil frame.
	CorruptRate float64
	// CloseRate is the probability that the wrapped source is released
	// after a read, as if closed by another party.
	CloseRate float64
	// Seed makes the fault sequence reproducible.
	Seed int64
}

// FaultSource wraps a VideoSource and injects dropped frames, corrupt (nil)
// frames and external closures. It is a test harness; nothing in the
// production path constructs one.
type FaultSource struct {
	inner VideoSource
	cfg   FaultConfig
	rng   *rand.Rand
	mu    sync.Mutex

	dropped  int
	corrupt  int
	closures int
}

// NewFaultSource wraps inner with the given fault probabilities.
func NewFaultSource(inner VideoSource, cfg FaultConfig) *FaultSource {
	return &FaultSource{
		inner: inner,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (f *FaultSource) Open() error {
	return f.inner.Open()
}

func (f *FaultSource) Read() (*gocv.Mat, error) {
	f.mu.Lock()
	drop := f.rng.Float64() < f.cfg.DropRate
	corrupt := f.rng.Float64() < f.cfg.CorruptRate
	closeAfter := f.rng.Float64() < f.cfg.CloseRate
	f.mu.Unlock()

	if drop {
		f.count(&f.dropped)
		return nil, errors.Wrap(ErrReadFailed, "injected drop")
	}

	frame, err := f.inner.Read()
	if err != nil {
		return nil, err
	}

	if closeAfter {
		f.count(&f.closures)
		f.inner.Release()
	}

	if corrupt {
		f.count(&f.corrupt)
		frame.Close()
		return nil, nil
	}

	return frame, nil
}

func (f *FaultSource) Release() error {
	return f.inner.Release()
}

// Stats returns how many of each fault have been injected.
func (f *FaultSource) Stats() (dropped, corrupt, closures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped, f.corrupt, f.closures
}

func (f *FaultSource) count(n *int) {
	f.mu.Lock()
	*n++
	f.mu.Unlock()
}
