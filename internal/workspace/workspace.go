// Package workspace manages the Komorebi data directory.
//
// Layout:
//   - scheduler/: persisted tasks (tasks.jsonl)
//   - data/: memories, gallery and activity JSON Lines files
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// SubdirScheduler holds the scheduler task file.
	SubdirScheduler = "scheduler"
	// SubdirData holds the store files.
	SubdirData = "data"
)

// Workspace is the root directory for everything Komorebi persists.
type Workspace struct {
	path string
}

// New creates a Workspace for path. A leading ~/ is expanded.
func New(path string) *Workspace {
	return &Workspace{path: expandHome(path)}
}

// Path returns the expanded workspace path.
func (w *Workspace) Path() string {
	return w.path
}

// Subpath returns the path of a subdirectory inside the workspace.
func (w *Workspace) Subpath(name string) string {
	return filepath.Join(w.path, name)
}

// EnsureDir creates the workspace directory if it doesn't exist.
func (w *Workspace) EnsureDir() error {
	if w.path == "" {
		return fmt.Errorf("workspace path is empty")
	}

	info, err := os.Stat(w.path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("workspace path exists but is not a directory: %s", w.path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to access workspace path %s: %w", w.path, err)
	}

	if err := os.MkdirAll(w.path, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory %s: %w", w.path, err)
	}
	return nil
}

// EnsureLayout creates the workspace and all of its subdirectories.
func (w *Workspace) EnsureLayout() error {
	if err := w.EnsureDir(); err != nil {
		return err
	}
	for _, name := range []string{SubdirScheduler, SubdirData} {
		if err := os.MkdirAll(w.Subpath(name), 0755); err != nil {
			return fmt.Errorf("failed to create %s subdirectory: %w", name, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
