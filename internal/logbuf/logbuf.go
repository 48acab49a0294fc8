// Package logbuf implements the process-wide structured log ring consumed
// by the debug API and mirrored to the process's own log stream.
package logbuf

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelSuccess Level = "SUCCESS"
	LevelInfo    Level = "INFO"
)

type Category string

const (
	CategoryServer   Category = "SERVER"
	CategoryBot      Category = "BOT"
	CategoryAPI      Category = "API"
	CategoryAuth     Category = "AUTH"
	CategoryDatabase Category = "DATABASE"
	CategoryTelegram Category = "TELEGRAM"
	CategorySettings Category = "SETTINGS"
	CategorySupport  Category = "SUPPORT"
)

const capacity = 1000

type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// Buffer is a bounded, newest-first ring of log entries, safe for
// concurrent writers and readers.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry // entries[0] is newest
	logger  *zap.Logger
}

// New creates a Buffer that also mirrors every Append to logger, if
// non-nil, so operators watching stdout/stderr see the same events the
// debug API exposes.
func New(logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		entries: make([]Entry, 0, capacity),
		logger:  logger,
	}
}

// Append records a new entry at the front of the ring, evicting the
// oldest entry once the buffer is full.
func (b *Buffer) Append(level Level, category Category, message, details string) {
	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		Message:   message,
		Details:   details,
	}

	b.mu.Lock()
	b.entries = append([]Entry{entry}, b.entries...)
	if len(b.entries) > capacity {
		b.entries = b.entries[:capacity]
	}
	b.mu.Unlock()

	b.mirror(entry)
}

func (b *Buffer) mirror(e Entry) {
	fields := []zap.Field{
		zap.String("category", string(e.Category)),
	}
	if e.Details != "" {
		fields = append(fields, zap.String("details", e.Details))
	}
	switch e.Level {
	case LevelError:
		b.logger.Error(e.Message, fields...)
	case LevelWarning:
		b.logger.Warn(e.Message, fields...)
	default:
		b.logger.Info(e.Message, fields...)
	}
}

// Read returns up to limit entries, newest first, optionally filtered by
// level and/or category. The returned slice is a snapshot: later Appends
// never mutate it.
func (b *Buffer) Read(limit int, level *Level, category *Category) []Entry {
	b.mu.Lock()
	snapshot := make([]Entry, len(b.entries))
	copy(snapshot, b.entries)
	b.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, e := range snapshot {
		if level != nil && e.Level != *level {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the current number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
