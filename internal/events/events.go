// Package events delivers capture progress to logs, websockets and MQTT.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/framewatch/internal/detector"
)

// Kind identifies what an Event reports.
type Kind string

const (
	// KindProgress is emitted periodically while a capture loop runs.
	KindProgress Kind = "progress"
	// KindStopped is emitted once when a capture loop ends.
	KindStopped Kind = "stopped"
)

// Event describes the state of a capture loop.
type Event struct {
	RunID      string               `json:"run_id"`
	Source     string               `json:"source"`
	Kind       Kind                 `json:"kind"`
	Status     string               `json:"status"`
	Outcome    string               `json:"outcome,omitempty"`
	Processed  uint64               `json:"processed"`
	Detections []detector.Detection `json:"detections"`
	Error      string               `json:"error,omitempty"`
	Time       time.Time            `json:"time"`
}

// Sink receives events. Publish must not block the caller for long; it is
// called from the capture loop.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "progress")}
}

// Publish implements Sink.
func (s *LogSink) Publish(e Event) {
	attrs := []any{
		"run", e.RunID,
		"source", e.Source,
		"status", e.Status,
		"processed", e.Processed,
		"detections", e.Detections,
	}

	if e.Outcome != "" {
		attrs = append(attrs, "outcome", e.Outcome)
	}

	switch {
	case e.Kind == KindStopped && e.Error != "":
		s.logger.Warn("capture stopped", append(attrs, "error", e.Error)...)
	case e.Kind == KindStopped:
		s.logger.Info("capture stopped", attrs...)
	default:
		s.logger.Info("capture progress", attrs...)
	}
}

// Recorder keeps every event it receives. It is intended for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Sink.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
