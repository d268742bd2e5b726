// Package app runs capture loops: one goroutine per video source reading
// frames into a Detector, plus a Manager that tracks running loops, records
// their history and serves one-shot image detection.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/framewatch/internal/capture"
	"github.com/ayusman/framewatch/internal/config"
	"github.com/ayusman/framewatch/internal/detector"
	"github.com/ayusman/framewatch/internal/events"
	"github.com/ayusman/framewatch/internal/store"
)

var (
	// ErrNotFound is returned for an unknown run id.
	ErrNotFound = errors.New("run not found")
	// ErrInvalidImage is returned when uploaded bytes cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNoFrame is returned by Snapshot when no frame is retained.
	ErrNoFrame = errors.New("no frame available")
)

// Config holds configuration options for the Manager.
type Config struct {
	Detector detector.Config
	Loop     LoopOptions

	// Requested capture size and frame rate for new sources; zero keeps the
	// source default.
	Width  int
	Height int
	FPS    int

	// HistoryLimit is how many runs the store keeps. Older stopped runs are
	// deleted when a loop finishes.
	HistoryLimit int
}

// DefaultConfig returns a Config with default detector and loop settings.
func DefaultConfig() Config {
	return Config{
		Detector:     detector.DefaultConfig(),
		Loop:         DefaultLoopOptions(),
		HistoryLimit: 100,
	}
}

// ConfigFrom converts the file configuration into a Manager Config.
func ConfigFrom(c *config.Config) Config {
	mc := DefaultConfig()
	mc.Detector = detector.Config{
		Threshold:         c.Detector.Threshold,
		BufferSize:        c.Detector.BufferSize,
		BurstInterval:     c.Detector.BurstInterval,
		WindowSize:        c.Detector.WindowSize,
		MinDimension:      c.Detector.MinDimension,
		MaintenanceEvery:  c.Detector.MaintenanceEvery,
		MaintenanceBudget: c.Detector.MaintenanceBudget,
	}
	mc.Loop.ProgressEvery = c.Loop.ProgressEvery
	mc.Loop.RetryDelay = c.Loop.RetryDelay
	mc.Loop.MaxRetryDelay = c.Loop.MaxRetryDelay
	mc.Loop.MaxReadFailures = c.Loop.MaxReadFailures
	mc.Width = c.Capture.Width
	mc.Height = c.Capture.Height
	mc.FPS = c.Capture.FPS
	mc.HistoryLimit = c.Store.HistoryLimit
	return mc
}

// SourceFactory builds a VideoSource for an address.
type SourceFactory func(address string) capture.VideoSource

// Manager starts and tracks capture loops.
type Manager struct {
	config Config
	store  *store.Store
	sink   events.Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	handles   map[string]*Handle
	newSource SourceFactory
	scorer    detector.Scorer

	// imagesMu is held for reading while the image detector is in use, so
	// it is only closed once no DetectImage call holds it.
	imagesMu sync.RWMutex
	images   *detector.Detector
}

// NewManager creates a Manager. The store and sink may be nil.
func NewManager(config Config, st *store.Store, sink events.Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:  config,
		store:   st,
		sink:    sink,
		logger:  logger.With("component", "manager"),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
	m.newSource = m.defaultSource
	m.images = detector.New(config.Detector, nil, logger)

	return m
}

// SetSourceFactory replaces how sources are built for StartVideo.
func (m *Manager) SetSourceFactory(f SourceFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newSource = f
}

// SetScorer sets the scorer for image detection and for loops started
// afterwards. A nil scorer selects the placeholder.
func (m *Manager) SetScorer(s detector.Scorer) {
	m.mu.Lock()
	m.scorer = s
	m.mu.Unlock()

	m.imagesMu.Lock()
	defer m.imagesMu.Unlock()

	old := m.images
	m.images = detector.New(m.config.Detector, s, m.logger)
	old.Close()
}

func (m *Manager) defaultSource(address string) capture.VideoSource {
	if capture.IsDevicePath(address) {
		return capture.NewWebcamSource(address, m.config.Width, m.config.Height)
	}

	cam := capture.NewCameraSource(address)
	cam.SetResolution(m.config.Width, m.config.Height)
	cam.SetFPS(m.config.FPS)
	return cam
}

// StartVideo opens address and starts a capture loop for it. address is a
// device index, a /dev/video path, a file path or a stream URL.
func (m *Manager) StartVideo(address string) (RunInfo, error) {
	m.mu.Lock()
	m.pruneLocked()
	newSource, scorer := m.newSource, m.scorer
	m.mu.Unlock()

	opts := m.config.Loop
	opts.ID = ""
	opts = opts.withDefaults()
	opts.Source = address
	opts.Sink = m.sink
	opts.Logger = m.logger
	opts.OnExit = m.finish

	record := &store.Run{ID: opts.ID, Source: address, Status: string(StatusOpening)}
	if m.store != nil {
		if err := m.store.Runs().Create(record); err != nil {
			m.logger.Error("failed to record run", "run", opts.ID, "error", err)
		}
	}

	det := detector.New(m.config.Detector, scorer, m.logger)
	h, err := Start(m.ctx, newSource(address), det, opts)
	if err != nil {
		det.Close()
		m.logger.Warn("failed to open source", "source", address, "error", err)
		if m.store != nil {
			record.Status = string(StatusStopped)
			record.Outcome = OutcomeFailed
			record.LastError = err.Error()
			if ferr := m.store.Runs().Finish(record); ferr != nil {
				m.logger.Error("failed to record run", "run", opts.ID, "error", ferr)
			}
		}
		return RunInfo{}, err
	}

	m.mu.Lock()
	m.handles[h.ID()] = h
	m.mu.Unlock()

	return h.Info(), nil
}

// finish runs on the loop goroutine when a loop ends.
func (m *Manager) finish(h *Handle) {
	if m.store != nil {
		info := h.Info()
		run := &store.Run{
			ID:           info.ID,
			Source:       info.Source,
			Status:       string(info.Status),
			Outcome:      info.Outcome,
			Processed:    info.Processed,
			ReadFailures: info.ReadFailures,
			LastError:    info.Error,
			StoppedAt:    info.StoppedAt,
		}
		if err := m.store.Runs().Finish(run); err != nil {
			m.logger.Error("failed to record run", "run", info.ID, "error", err)
		}
		m.trimHistory()
	}

	if err := h.Detector().Close(); err != nil {
		m.logger.Warn("failed to close detector", "run", h.ID(), "error", err)
	}
}

// trimHistory deletes stopped runs beyond HistoryLimit, oldest first.
func (m *Manager) trimHistory() {
	if m.config.HistoryLimit <= 0 {
		return
	}

	runs, err := m.store.Runs().List(0)
	if err != nil {
		m.logger.Error("failed to list runs", "error", err)
		return
	}
	if len(runs) <= m.config.HistoryLimit {
		return
	}

	for _, r := range runs[m.config.HistoryLimit:] {
		if r.Status != string(StatusStopped) {
			continue
		}
		if err := m.store.Runs().Delete(r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("failed to delete run", "run", r.ID, "error", err)
			continue
		}
		m.logger.Debug("run expired from history", "run", r.ID)
	}
}

// pruneLocked forgets stopped loops whose history is in the store.
func (m *Manager) pruneLocked() {
	if m.store == nil {
		return
	}
	for id, h := range m.handles {
		select {
		case <-h.Done():
			delete(m.handles, id)
		default:
		}
	}
}

// Handle returns the live handle for id.
func (m *Manager) Handle(id string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	return h, ok
}

// Get returns the state of a run, live if it is tracked and from the store
// otherwise.
func (m *Manager) Get(id string) (RunInfo, error) {
	if h, ok := m.Handle(id); ok {
		return h.Info(), nil
	}

	if m.store != nil {
		run, err := m.store.Runs().Get(id)
		if err == nil {
			return infoFromRecord(run), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return RunInfo{}, fmt.Errorf("get run %s: %w", id, err)
		}
	}

	return RunInfo{}, ErrNotFound
}

// Cancel requests that the run stop. Cancelling a stopped run is a no-op.
func (m *Manager) Cancel(id string) error {
	if h, ok := m.Handle(id); ok {
		h.Cancel()
		return nil
	}

	if _, err := m.Get(id); err != nil {
		return err
	}
	return nil
}

// List returns live and recorded runs, newest first.
func (m *Manager) List() ([]RunInfo, error) {
	byID := make(map[string]RunInfo)

	if m.store != nil {
		runs, err := m.store.Runs().List(m.config.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		for _, r := range runs {
			byID[r.ID] = infoFromRecord(r)
		}
	}

	m.mu.RLock()
	for id, h := range m.handles {
		byID[id] = h.Info()
	}
	m.mu.RUnlock()

	out := make([]RunInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b RunInfo) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

// Snapshot removes the oldest retained frame of a run and returns it as an
// image.
func (m *Manager) Snapshot(id string) (image.Image, error) {
	h, ok := m.Handle(id)
	if !ok {
		return nil, ErrNotFound
	}

	frame, ok := h.Detector().Buffer().Get()
	if !ok {
		return nil, ErrNoFrame
	}
	defer frame.Close()

	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// DetectImage decodes an encoded image and runs detection on it.
func (m *Manager) DetectImage(data []byte) ([]detector.Detection, error) {
	if len(data) == 0 {
		return nil, ErrInvalidImage
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, ErrInvalidImage
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, ErrInvalidImage
	}

	m.imagesMu.RLock()
	defer m.imagesMu.RUnlock()

	return m.images.Predict(&mat)
}

// Shutdown cancels every loop and waits for them to stop or for ctx to
// expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		h.Cancel()
	}

	var err error
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			err = fmt.Errorf("shutdown: %w", ctx.Err())
		}
		if err != nil {
			break
		}
	}

	m.imagesMu.Lock()
	m.images.Close()
	m.imagesMu.Unlock()

	return err
}

func infoFromRecord(r *store.Run) RunInfo {
	return RunInfo{
		ID:           r.ID,
		Source:       r.Source,
		Status:       Status(r.Status),
		Outcome:      r.Outcome,
		Processed:    r.Processed,
		ReadFailures: r.ReadFailures,
		Error:        r.LastError,
		StartedAt:    r.StartedAt,
		StoppedAt:    r.StoppedAt,
	}
}
