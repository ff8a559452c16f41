package events

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Bus fans a notification out to every registered sink, in registration
// order. A panicking sink is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
}

// NewBus creates a bus delivering to sinks.
func NewBus(logger *slog.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{logger: logger}
	for _, s := range sinks {
		b.Add(s)
	}
	return b
}

// Add registers a sink. Nil sinks are ignored.
func (b *Bus) Add(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers e to all sinks.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.safePublish(s, e)
	}
}

func (b *Bus) safePublish(s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event sink panicked",
				"event", e.Type,
				"session_id", e.SessionID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	s.Publish(e)
}

// Len returns the number of registered sinks.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
