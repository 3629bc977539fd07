package store

import (
	"context"
	"sync"

	"github.com/aatumaykin/komorebi/internal/activity"
)

// MemoryStore keeps everything in process memory. Used in tests and when
// no workspace is configured.
type MemoryStore struct {
	mu       sync.Mutex
	memories []Memory
	gallery  []GalleryItem
	activity []activity.Entry

	// Err, when set, is returned by every write.
	Err error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddMemory implements Store.
func (s *MemoryStore) AddMemory(_ context.Context, m Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.memories = append(s.memories, m)
	return nil
}

// SaveGalleryItem implements Store.
func (s *MemoryStore) SaveGalleryItem(_ context.Context, item GalleryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.gallery = append(s.gallery, item)
	return nil
}

// RecordActivity implements Store.
func (s *MemoryStore) RecordActivity(_ context.Context, e activity.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.activity = append(s.activity, e)
	return nil
}

// Memories returns a copy of stored memories.
func (s *MemoryStore) Memories() []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Memory(nil), s.memories...)
}

// Gallery returns a copy of stored gallery items.
func (s *MemoryStore) Gallery() []GalleryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GalleryItem(nil), s.gallery...)
}

// Activity returns a copy of stored activity entries.
func (s *MemoryStore) Activity() []activity.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]activity.Entry(nil), s.activity...)
}
