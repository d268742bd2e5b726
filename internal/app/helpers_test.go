package app

import (
	"testing"
	"time"

	"gocv.io/x/gocv"
)

// newFrames returns n solid frames that are closed when the test ends.
func newFrames(t *testing.T, n, rows, cols int, value float64) []*gocv.Mat {
	t.Helper()

	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
		m.SetTo(gocv.NewScalar(value, value, value, 0))
		frames[i] = &m
	}
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})
	return frames
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("loop %s did not stop (status %s)", h.ID(), h.Status())
	}
}

// fastOptions keeps retry delays short so failure paths finish quickly.
func fastOptions() LoopOptions {
	opts := DefaultLoopOptions()
	opts.RetryDelay = time.Millisecond
	opts.MaxRetryDelay = 5 * time.Millisecond
	return opts
}
