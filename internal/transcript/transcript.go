// Package transcript writes conversation turns to per-user NDJSON files off
// the request path.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Direction of a logged message relative to the tutor.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Event is one logged message.
type Event struct {
	Timestamp   time.Time      `json:"ts"`
	TurnID      string         `json:"turn_id"`
	UserID      string         `json:"user_id"`
	Channel     string         `json:"channel,omitempty"`
	Direction   string         `json:"direction"`
	Agent       string         `json:"agent,omitempty"`
	Category    string         `json:"category,omitempty"`
	Expectation string         `json:"expectation,omitempty"`
	Content     string         `json:"content"`
	ContentRaw  string         `json:"content_raw"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Logger records events. Log must not block the caller.
type Logger interface {
	Log(e Event)
	Close() error
}

// Noop discards every event.
type Noop struct{}

// Log implements Logger.
func (Noop) Log(Event) {}

// Close implements Logger.
func (Noop) Close() error { return nil }

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// FileLogger appends events to <dir>/<user_id>/<yyyy-mm-dd>.ndjson from a
// single background goroutine.
type FileLogger struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// New returns a FileLogger, or Noop when logging is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Log queues e. When the queue is full the event is dropped.
func (l *FileLogger) Log(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Content == "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("Transcript queue full, dropping event", "user_id", e.UserID, "turn_id", e.TurnID)
	}
}

// Close flushes queued events and stops the writer.
func (l *FileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
	})
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Error("Failed to write transcript event", "user_id", e.UserID, "error", err)
		}
	}
}

func (l *FileLogger) write(e Event) error {
	userDir := filepath.Join(l.dir, safePathComponent(e.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return fmt.Errorf("create user directory: %w", err)
	}
	path := filepath.Join(userDir, e.Timestamp.UTC().Format("2006-01-02")+".ndjson")

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

var (
	emphasis   = regexp.MustCompile(`[*_~]`)
	whitespace = regexp.MustCompile(`\s+`)
	unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips WhatsApp emphasis markers and control
// characters and collapses whitespace.
func cleanForReadability(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = emphasis.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func safePathComponent(s string) string {
	s = unsafePath.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
