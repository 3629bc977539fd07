package scheduler

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/aatumaykin/komorebi/internal/logger"
)

const (
	// StorageSubdirectory is the subdirectory of the workspace holding tasks.
	StorageSubdirectory = "scheduler"
	// TasksFilename stores one task per line.
	TasksFilename = "tasks.jsonl"
)

// Storage persists tasks as JSON lines.
type Storage struct {
	filePath string
	logger   *logger.Logger
}

// NewStorage creates storage at <workspace>/scheduler/tasks.jsonl.
func NewStorage(workspacePath string, log *logger.Logger) *Storage {
	if log == nil {
		log = logger.Discard()
	}
	return &Storage{
		filePath: filepath.Join(workspacePath, StorageSubdirectory, TasksFilename),
		logger:   log,
	}
}

// Path returns the storage file path.
func (s *Storage) Path() string {
	return s.filePath
}

// Load reads all tasks. A missing file yields an empty slice; malformed
// lines are logged and skipped.
func (s *Storage) Load() ([]Task, error) {
	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return []Task{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var tasks []Task
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var t Task
		if err := json.Unmarshal(line, &t); err != nil {
			s.logger.Error("failed to unmarshal task line", err,
				logger.Field{Key: "file", Value: s.filePath},
				logger.Field{Key: "line", Value: lineNum})
			continue
		}
		if t.ID == "" {
			continue
		}
		tasks = append(tasks, t)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Save atomically replaces the file with tasks.
func (s *Storage) Save(tasks []Task) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}

	tmpPath := s.filePath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return err
	}

	s.logger.Debug("tasks saved",
		logger.Field{Key: "count", Value: len(tasks)},
		logger.Field{Key: "file", Value: s.filePath})
	return nil
}
