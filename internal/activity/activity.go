// Package activity is the process-wide activity log: a bounded, append-only
// record of what the agent did plus a separate stream of its thoughts.
// Producers push entries; observers (store, notifier, metrics) subscribe.
package activity

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/komorebi/internal/bus"
	"github.com/aatumaykin/komorebi/internal/logger"
)

const (
	DefaultCapacity         = 200
	DefaultThoughtsCapacity = 100
)

// Level is the severity of an activity entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Severity orders levels for threshold filtering. Unknown levels rank as info.
func (l Level) Severity() int {
	switch l {
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ThoughtKind classifies a thought.
type ThoughtKind string

const (
	ThoughtObservation ThoughtKind = "observation"
	ThoughtDecision    ThoughtKind = "decision"
	ThoughtPlan        ThoughtKind = "plan"
	ThoughtReflection  ThoughtKind = "reflection"
)

// Entry is a single activity record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Details   string         `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Thought is a line of the agent's visible reasoning.
type Thought struct {
	ID        string      `json:"id"`
	Kind      ThoughtKind `json:"kind"`
	Content   string      `json:"content"`
	Source    string      `json:"source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Config configures the ring sizes. Zero values fall back to defaults.
type Config struct {
	Capacity         int
	ThoughtsCapacity int
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log holds recent entries and thoughts. Safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	cfg      Config
	entries  []Entry
	thoughts []Thought
	now      func() time.Time

	entryListeners   *bus.Listeners[Entry]
	thoughtListeners *bus.Listeners[Thought]
}

// New creates an empty activity log.
func New(cfg Config, log *logger.Logger, opts ...Option) *Log {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ThoughtsCapacity <= 0 {
		cfg.ThoughtsCapacity = DefaultThoughtsCapacity
	}
	if log == nil {
		log = logger.Discard()
	}

	l := &Log{
		cfg:              cfg,
		now:              time.Now,
		entryListeners:   bus.NewListeners[Entry]("activity", log),
		thoughtListeners: bus.NewListeners[Thought]("thoughts", log),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add appends e, filling ID, Timestamp and Level when empty, and notifies
// subscribers. The stored entry is returned.
func (l *Log) Add(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.cfg.Capacity; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	l.mu.Unlock()

	l.entryListeners.Emit(e)
	return e
}

// Record is shorthand for an info entry from source.
func (l *Log) Record(source, action, details string) Entry {
	return l.Add(Entry{Action: action, Details: details, Source: source})
}

// AddThought appends a thought and notifies thought subscribers.
func (l *Log) AddThought(kind ThoughtKind, content, source string) Thought {
	t := Thought{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Source:    source,
		Timestamp: l.now(),
	}

	l.mu.Lock()
	l.thoughts = append(l.thoughts, t)
	if over := len(l.thoughts) - l.cfg.ThoughtsCapacity; over > 0 {
		l.thoughts = slices.Delete(l.thoughts, 0, over)
	}
	l.mu.Unlock()

	l.thoughtListeners.Emit(t)
	return t
}

// Recent returns up to n most recent entries, oldest first.
// n <= 0 returns everything retained.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.entries, n)
}

// Thoughts returns up to n most recent thoughts, oldest first.
func (l *Log) Thoughts(n int) []Thought {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.thoughts, n)
}

// Subscribe registers fn for every new entry.
func (l *Log) Subscribe(fn func(Entry)) (unsubscribe func()) {
	return l.entryListeners.Subscribe(fn)
}

// SubscribeThoughts registers fn for every new thought.
func (l *Log) SubscribeThoughts(fn func(Thought)) (unsubscribe func()) {
	return l.thoughtListeners.Subscribe(fn)
}

func tail[T any](items []T, n int) []T {
	if n <= 0 || n > len(items) {
		n = len(items)
	}
	out := make([]T, n)
	copy(out, items[len(items)-n:])
	return out
}
