package server

import (
	"image"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/detector"
)

// stubPipeline is a Pipeline with no runs.
type stubPipeline struct{}

func newStubPipeline() stubPipeline { return stubPipeline{} }

func (stubPipeline) DetectImage([]byte) ([]detector.Detection, error) {
	return nil, app.ErrInvalidImage
}

func (stubPipeline) StartVideo(string) (app.RunInfo, error) {
	return app.RunInfo{}, app.ErrNotFound
}

func (stubPipeline) Get(string) (app.RunInfo, error)       { return app.RunInfo{}, app.ErrNotFound }
func (stubPipeline) Cancel(string) error                   { return app.ErrNotFound }
func (stubPipeline) List() ([]app.RunInfo, error)          { return nil, nil }
func (stubPipeline) Snapshot(string) (image.Image, error) { return nil, app.ErrNotFound }
