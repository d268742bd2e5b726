package api

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/capture"
	"github.com/ayusman/framewatch/internal/detector"
)

// fakePipeline is an in-memory Pipeline for handler tests.
type fakePipeline struct {
	mu        sync.Mutex
	runs      map[string]app.RunInfo
	images    map[string]image.Image
	lastImage []byte
	lastVideo string
	startErr  error
	listErr   error
	cancelled []string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		runs:   make(map[string]app.RunInfo),
		images: make(map[string]image.Image),
	}
}

func (f *fakePipeline) DetectImage(data []byte) ([]detector.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastImage = data
	if string(data) != "valid-image" {
		return nil, app.ErrInvalidImage
	}
	return []detector.Detection{{XMin: 1, YMin: 2, XMax: 30, YMax: 40, Confidence: 0.9}}, nil
}

func (f *fakePipeline) StartVideo(address string) (app.RunInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVideo = address
	if f.startErr != nil {
		return app.RunInfo{}, f.startErr
	}
	info := app.RunInfo{
		ID:        fmt.Sprintf("run-%d", len(f.runs)+1),
		Source:    address,
		Status:    app.StatusRunning,
		StartedAt: time.Now(),
	}
	f.runs[info.ID] = info
	return info, nil
}

func (f *fakePipeline) Get(id string) (app.RunInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.runs[id]
	if !ok {
		return app.RunInfo{}, app.ErrNotFound
	}
	return info, nil
}

func (f *fakePipeline) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.runs[id]
	if !ok {
		return app.ErrNotFound
	}
	info.Status = app.StatusCancelling
	f.runs[id] = info
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakePipeline) List() ([]app.RunInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []app.RunInfo
	for _, info := range f.runs {
		out = append(out, info)
	}
	return out, nil
}

func (f *fakePipeline) Snapshot(id string) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; !ok {
		return nil, app.ErrNotFound
	}
	img, ok := f.images[id]
	if !ok {
		return nil, app.ErrNoFrame
	}
	return img, nil
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	return img
}

var errUnavailable = fmt.Errorf("%w: connection refused", capture.ErrSourceUnavailable)
