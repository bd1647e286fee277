package progress

import "log/slog"

// EventKind discriminates progress events.
type EventKind int

const (
	// EventOpened is published when a node is created; Units carries its budget.
	EventOpened EventKind = iota
	// EventAdvanced is published when direct work completes; Units carries the delta.
	EventAdvanced
	// EventClosed is published when a node closes; Units carries the released remainder.
	EventClosed
)

// Event is one advisory progress event.
type Event struct {
	Kind        EventKind
	Description string
	Units       int64
}

// Sink consumes progress events. Implementations must not block and must not
// fail; progress is purely advisory.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(e Event) { f(e) }

// NopSink discards all events. It is the default when no sink is configured.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}

// LogSink reports progress through slog at debug level, with node lifecycle
// transitions at info.
type LogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch e.Kind {
	case EventOpened:
		logger.Info("Progress node opened", "description", e.Description, "units", e.Units)
	case EventAdvanced:
		logger.Debug("Progress advanced", "description", e.Description, "units", e.Units)
	case EventClosed:
		logger.Debug("Progress node closed", "description", e.Description, "released", e.Units)
	}
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
