package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockSource_Playback(t *testing.T) {
	// Create test frames
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	src := NewMockSource([]*gocv.Mat{&frame1, &frame2}, false)

	if err := src.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Release()

	// Read both frames
	f1, err := src.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	f1.Close()

	f2, err := src.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	f2.Close()

	// Third read reports the end of the stream
	_, err = src.Read()
	if !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Read() after last frame error = %v, want ErrSourceClosed", err)
	}
}

func TestMockSource_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	src := NewMockSource([]*gocv.Mat{&frame}, true)
	src.Open()
	defer src.Release()

	// Should loop indefinitely
	for i := 0; i < 5; i++ {
		f, err := src.Read()
		if err != nil {
			t.Fatalf("Read() iteration %d error = %v", i, err)
		}
		f.Close()
	}

	if got := src.Reads(); got != 5 {
		t.Errorf("Reads() = %d, want 5", got)
	}
}

func TestMockSource_OpenError(t *testing.T) {
	src := NewMockSource(nil, false)
	src.SetOpenError(errors.New("no such device"))

	err := src.Open()
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Open() error = %v, want ErrSourceUnavailable", err)
	}
	if src.IsOpen() {
		t.Error("source should not be open after a failed Open")
	}
}

func TestMockSource_QueuedReadErrors(t *testing.T) {
	frame := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer frame.Close()

	src := NewMockSource([]*gocv.Mat{&frame}, true)
	src.Open()
	defer src.Release()

	src.QueueReadErrors(ErrReadFailed, ErrReadFailed)

	for i := 0; i < 2; i++ {
		if _, err := src.Read(); !errors.Is(err, ErrReadFailed) {
			t.Fatalf("Read() %d error = %v, want ErrReadFailed", i, err)
		}
	}

	f, err := src.Read()
	if err != nil {
		t.Fatalf("Read() after queued errors error = %v", err)
	}
	f.Close()
}

func TestMockSource_Release(t *testing.T) {
	src := NewMockSource(nil, false)
	src.Open()

	for i := 0; i < 3; i++ {
		if err := src.Release(); err != nil {
			t.Fatalf("Release() %d error = %v", i, err)
		}
	}

	if got := src.Releases(); got != 1 {
		t.Errorf("Releases() = %d, want 1", got)
	}
	if got := src.ReleaseCalls(); got != 3 {
		t.Errorf("ReleaseCalls() = %d, want 3", got)
	}
	if got := src.Opens(); got != 1 {
		t.Errorf("Opens() = %d, want 1", got)
	}

	if _, err := src.Read(); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Read() after Release error = %v, want ErrSourceClosed", err)
	}
}

func TestMockSource_ExternalClose(t *testing.T) {
	frame := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer frame.Close()

	src := NewMockSource([]*gocv.Mat{&frame}, true)
	src.Open()
	src.Close()

	if _, err := src.Read(); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Read() after Close error = %v, want ErrSourceClosed", err)
	}

	// Still needs releasing by its owner
	src.Release()
	if got := src.Releases(); got != 1 {
		t.Errorf("Releases() = %d, want 1", got)
	}
}
