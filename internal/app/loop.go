package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/framewatch/internal/capture"
	"github.com/ayusman/framewatch/internal/detector"
	"github.com/ayusman/framewatch/internal/events"
)

// LoopOptions configures a capture loop.
type LoopOptions struct {
	// ID identifies the run. A random UUID is used when empty.
	ID string
	// Source is the address reported in events and logs.
	Source string

	// ProgressEvery emits a progress event after this many scored frames.
	ProgressEvery uint64

	RetryDelay      time.Duration // Initial delay after a failed read
	MaxRetryDelay   time.Duration // Cap for the doubling retry delay
	MaxReadFailures int           // Consecutive failed reads before giving up

	Sink   events.Sink
	Logger *slog.Logger

	// OnExit runs on the loop goroutine after the source is released and
	// before Done is closed.
	OnExit func(h *Handle)
}

// DefaultLoopOptions returns LoopOptions with the default timings.
func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		ProgressEvery:   50,
		RetryDelay:      10 * time.Millisecond,
		MaxRetryDelay:   time.Second,
		MaxReadFailures: 100,
	}
}

func (o LoopOptions) withDefaults() LoopOptions {
	d := DefaultLoopOptions()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.ProgressEvery == 0 {
		o.ProgressEvery = d.ProgressEvery
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(d.MaxRetryDelay, o.RetryDelay)
	}
	if o.MaxReadFailures <= 0 {
		o.MaxReadFailures = d.MaxReadFailures
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Start opens src and runs a capture loop feeding det on a new goroutine.
// It returns once the source is open. If Open fails the error wraps
// capture.ErrSourceUnavailable and no goroutine is started.
//
// The loop stops when the handle is cancelled, ctx is done, the source
// reports capture.ErrSourceClosed, or MaxReadFailures consecutive reads
// fail. The source is released exactly once on the way out. The caller
// keeps ownership of det.
func Start(ctx context.Context, src capture.VideoSource, det *detector.Detector, opts LoopOptions) (*Handle, error) {
	opts = opts.withDefaults()
	h := newHandle(opts.ID, opts.Source, det)

	if err := src.Open(); err != nil {
		if !errors.Is(err, capture.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", capture.ErrSourceUnavailable, err)
		}
		return nil, err
	}
	h.setRunning()

	l := &loop{
		handle: h,
		src:    src,
		det:    det,
		opts:   opts,
		logger: opts.Logger.With("component", "capture", "run", h.id, "source", opts.Source),
	}

	l.logger.Info("capture started")
	go l.run(ctx)

	return h, nil
}

type loop struct {
	handle *Handle
	src    capture.VideoSource
	det    *detector.Detector
	opts   LoopOptions
	logger *slog.Logger
}

func (l *loop) run(ctx context.Context) {
	defer l.exit()

	failures := 0
	for {
		if l.stopping(ctx) {
			return
		}

		frame, err := l.src.Read()
		if err != nil {
			if errors.Is(err, capture.ErrSourceClosed) {
				l.logger.Warn("source closed", "error", err)
				l.handle.fail(err)
				return
			}

			failures++
			l.handle.readFailures.Add(1)
			if failures >= l.opts.MaxReadFailures {
				l.logger.Error("giving up after consecutive read failures", "failures", failures, "error", err)
				l.handle.fail(fmt.Errorf("%d consecutive read failures: %w", failures, err))
				return
			}

			delay := backoff(failures, l.opts.RetryDelay, l.opts.MaxRetryDelay)
			l.logger.Debug("read failed, retrying", "attempt", failures, "delay", delay, "error", err)
			if !l.wait(ctx, delay) {
				return
			}
			continue
		}
		failures = 0

		if l.stopping(ctx) {
			if frame != nil {
				frame.Close()
			}
			return
		}

		l.process(frame)
	}
}

// process scores one frame. Detection errors and panics are logged and the
// frame is skipped; they never stop the loop.
func (l *loop) process(frame *gocv.Mat) {
	if frame != nil {
		defer frame.Close()
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("detection panicked, skipping frame", "panic", r)
		}
	}()

	dets, err := l.det.Predict(frame)
	if err != nil {
		if errors.Is(err, detector.ErrInvalidFrame) {
			l.logger.Warn("skipping invalid frame")
		} else {
			l.logger.Error("detection failed, skipping frame", "error", err)
		}
		return
	}

	n := l.handle.processed.Add(1)
	l.handle.setLast(dets)

	if n%l.opts.ProgressEvery == 0 {
		l.publish(events.KindProgress, dets)
	}
}

// stopping reports whether the loop has been asked to stop. A done context
// is treated as a cancellation.
func (l *loop) stopping(ctx context.Context) bool {
	select {
	case <-l.handle.cancelCh:
		return true
	case <-ctx.Done():
		l.handle.Cancel()
		return true
	default:
		return false
	}
}

// wait sleeps for d and returns false if the loop was stopped meanwhile.
func (l *loop) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-l.handle.cancelCh:
		return false
	case <-ctx.Done():
		l.handle.Cancel()
		return false
	}
}

func (l *loop) exit() {
	if err := l.src.Release(); err != nil {
		l.logger.Warn("release source", "error", err)
	}

	h := l.handle
	h.stop()
	l.logger.Info("capture stopped",
		"outcome", h.Outcome(),
		"processed", h.Processed(),
		"read_failures", h.ReadFailures(),
	)
	l.publish(events.KindStopped, nil)

	if l.opts.OnExit != nil {
		l.opts.OnExit(h)
	}
	close(h.done)
}

func (l *loop) publish(kind events.Kind, dets []detector.Detection) {
	if l.opts.Sink == nil {
		return
	}

	info := l.handle.Info()
	if dets == nil {
		dets = info.LastDetections
	}
	l.opts.Sink.Publish(events.Event{
		RunID:      info.ID,
		Source:     info.Source,
		Kind:       kind,
		Status:     string(info.Status),
		Outcome:    info.Outcome,
		Processed:  info.Processed,
		Detections: dets,
		Error:      info.Error,
		Time:       time.Now().UTC(),
	})
}

// backoff returns the retry delay for the given attempt:
// base * 2^(attempt-1), capped at limit.
func backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return limit
	}

	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > limit || delay <= 0 {
		delay = limit
	}
	return delay
}
