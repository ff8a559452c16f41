// Package transcript writes every session notification to a per-session
// NDJSON file through a bounded asynchronous queue.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/roundtable/internal/events"
)

// Config configures the transcript logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
	// OnDrop is called when an entry is dropped because the queue is full.
	OnDrop func()
}

// Entry is one NDJSON line.
type Entry struct {
	LoggedAt time.Time `json:"logged_at"`
	events.Event
}

// Logger is an events.Sink that appends notifications to
// <Dir>/<session_id>.ndjson. Publish never blocks: when the queue is full
// the entry is dropped.
type Logger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Entry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewLogger creates the log directory and starts the writer goroutine.
// A disabled config yields a Logger whose Publish is a no-op.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{cfg: cfg, logger: logger, done: make(chan struct{})}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = cfg.QueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l.queue = make(chan Entry, cfg.QueueSize)
	go l.run()
	return l, nil
}

// Publish implements events.Sink.
func (l *Logger) Publish(e events.Event) {
	if !l.cfg.Enabled || e.SessionID == "" {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- Entry{LoggedAt: time.Now().UTC(), Event: e}:
	default:
		l.logger.Warn("Transcript queue full, dropping entry",
			"session_id", e.SessionID,
			"type", e.Type)
		if l.cfg.OnDrop != nil {
			l.cfg.OnDrop()
		}
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for entry := range l.queue {
		if err := l.write(entry); err != nil {
			l.logger.Error("Failed to write transcript entry",
				"session_id", entry.SessionID,
				"error", err)
		}
	}
}

// write opens the session file, appends one line and closes it again, so no
// descriptor is held between entries.
func (l *Logger) write(entry Entry) (err error) {
	name := sanitize(entry.SessionID)
	if name == "" {
		return fmt.Errorf("invalid session id %q", entry.SessionID)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close transcript: %w", closeErr)
		}
	}()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (l *Logger) path(name string) string {
	return filepath.Join(l.cfg.Dir, name+".ndjson")
}

// sanitize keeps session IDs from escaping the log directory.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, id)
}

// Close stops accepting entries and drains the queue.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed || !l.cfg.Enabled {
		l.closed = true
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}
