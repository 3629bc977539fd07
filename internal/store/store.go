// Package store persists the records the agent produces: memories,
// gallery items and activity entries. Callers treat every write as
// fire-and-forget; a failed write is logged and never aborts the caller.
package store

import (
	"context"
	"time"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/logger"
)

// MemoryLayer groups memories by lifetime.
type MemoryLayer string

const (
	LayerWorking  MemoryLayer = "working"
	LayerEpisodic MemoryLayer = "episodic"
	LayerSemantic MemoryLayer = "semantic"
)

// Memory is a remembered fact tagged by layer, source and relevance.
type Memory struct {
	ID        string      `json:"id"`
	Layer     MemoryLayer `json:"layer"`
	Content   string      `json:"content"`
	Source    string      `json:"source,omitempty"`
	Relevance float64     `json:"relevance"`
	Tags      []string    `json:"tags,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// GalleryItem is an output produced by a task.
type GalleryItem struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	TaskID    string         `json:"task_id,omitempty"`
	Category  string         `json:"category,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the persistence capability consumed by the core.
type Store interface {
	AddMemory(ctx context.Context, m Memory) error
	SaveGalleryItem(ctx context.Context, item GalleryItem) error
	RecordActivity(ctx context.Context, e activity.Entry) error
}

// Recorder subscribes s to the activity log so every entry is persisted.
// It returns the unsubscribe function.
func Recorder(log *activity.Log, s Store, l *logger.Logger) (unsubscribe func()) {
	if l == nil {
		l = logger.Discard()
	}
	return log.Subscribe(func(e activity.Entry) {
		if err := s.RecordActivity(context.Background(), e); err != nil {
			l.Warn("failed to persist activity entry",
				logger.Field{Key: "entry_id", Value: e.ID},
				logger.Field{Key: "error", Value: err.Error()})
		}
	})
}
