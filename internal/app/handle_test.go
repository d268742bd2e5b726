package app

import (
	"errors"
	"sync"
	"testing"
)

func TestHandle_Lifecycle(t *testing.T) {
	tests := []struct {
		name        string
		steps       func(h *Handle)
		wantOutcome string
		wantErr     bool
	}{
		{
			name:        "cancelled",
			steps:       func(h *Handle) { h.Cancel() },
			wantOutcome: OutcomeCancelled,
		},
		{
			name:        "failed",
			steps:       func(h *Handle) { h.fail(errors.New("boom")) },
			wantOutcome: OutcomeFailed,
			wantErr:     true,
		},
		{
			name: "failure after cancel keeps cancellation",
			steps: func(h *Handle) {
				h.Cancel()
				h.fail(errors.New("boom"))
			},
			wantOutcome: OutcomeCancelled,
		},
		{
			name: "cancel after failure keeps failure",
			steps: func(h *Handle) {
				h.fail(errors.New("boom"))
				h.Cancel()
			},
			wantOutcome: OutcomeFailed,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandle("id", "0", nil)
			if h.Status() != StatusOpening {
				t.Fatalf("initial status = %s, want opening", h.Status())
			}
			h.setRunning()
			if h.Status() != StatusRunning {
				t.Fatalf("status = %s, want running", h.Status())
			}

			tt.steps(h)
			h.stop()

			if h.Status() != StatusStopped {
				t.Errorf("status = %s, want stopped", h.Status())
			}
			if h.Outcome() != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", h.Outcome(), tt.wantOutcome)
			}
			if (h.Err() != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", h.Err(), tt.wantErr)
			}
			if info := h.Info(); info.StoppedAt == nil {
				t.Error("Info().StoppedAt should be set after stop")
			}
		})
	}
}

func TestHandle_CancelConcurrent(t *testing.T) {
	h := newHandle("id", "0", nil)
	h.setRunning()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Cancel()
		}()
	}
	wg.Wait()

	if !h.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
	if h.Status() != StatusCancelling {
		t.Errorf("status = %s, want cancelling", h.Status())
	}
}

func TestHandle_Info(t *testing.T) {
	h := newHandle("run-1", "rtsp://cam", nil)
	h.processed.Store(7)
	h.readFailures.Store(2)

	info := h.Info()
	if info.ID != "run-1" || info.Source != "rtsp://cam" {
		t.Errorf("Info() = %+v", info)
	}
	if info.Processed != 7 || info.ReadFailures != 2 {
		t.Errorf("counters = %d/%d, want 7/2", info.Processed, info.ReadFailures)
	}
	if info.StoppedAt != nil {
		t.Error("StoppedAt should be nil before stop")
	}
}
