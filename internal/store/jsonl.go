package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/logger"
)

const (
	// DataSubdirectory holds the store files within the workspace
	DataSubdirectory = "data"

	MemoriesFilename = "memories.jsonl"
	GalleryFilename  = "gallery.jsonl"
	ActivityFilename = "activity.jsonl"
)

// JSONLStore appends records to JSON Lines files, one file per record kind.
type JSONLStore struct {
	dir    string
	logger *logger.Logger
	mu     sync.Mutex
}

// NewJSONLStore creates a store rooted at <workspace>/data.
func NewJSONLStore(workspacePath string, log *logger.Logger) *JSONLStore {
	if log == nil {
		log = logger.Discard()
	}
	return &JSONLStore{
		dir:    filepath.Join(workspacePath, DataSubdirectory),
		logger: log,
	}
}

// Dir returns the directory holding the store files.
func (s *JSONLStore) Dir() string {
	return s.dir
}

// AddMemory implements Store.
func (s *JSONLStore) AddMemory(ctx context.Context, m Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.append(ctx, MemoriesFilename, m.ID, m)
}

// SaveGalleryItem implements Store.
func (s *JSONLStore) SaveGalleryItem(ctx context.Context, item GalleryItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	return s.append(ctx, GalleryFilename, item.ID, item)
}

// RecordActivity implements Store.
func (s *JSONLStore) RecordActivity(ctx context.Context, e activity.Entry) error {
	return s.append(ctx, ActivityFilename, e.ID, e)
}

// Memories reads every persisted memory.
func (s *JSONLStore) Memories() ([]Memory, error) {
	return readJSONL[Memory](s, MemoriesFilename)
}

// Gallery reads every persisted gallery item.
func (s *JSONLStore) Gallery() ([]GalleryItem, error) {
	return readJSONL[GalleryItem](s, GalleryFilename)
}

// Activity reads every persisted activity entry.
func (s *JSONLStore) Activity() ([]activity.Entry, error) {
	return readJSONL[activity.Entry](s, ActivityFilename)
}

func (s *JSONLStore) append(ctx context.Context, filename, id string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	path := filepath.Join(s.dir, filename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}

	s.logger.Debug("record appended",
		logger.Field{Key: "file", Value: filename},
		logger.Field{Key: "id", Value: id})
	return nil
}

// readJSONL skips malformed lines; a missing file yields an empty slice.
func readJSONL[T any](s *JSONLStore, filename string) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, filename)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			s.logger.Warn("skipping malformed line",
				logger.Field{Key: "file", Value: filename},
				logger.Field{Key: "line", Value: lineNum})
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
