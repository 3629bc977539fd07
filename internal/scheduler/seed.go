package scheduler

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aatumaykin/komorebi/internal/logger"
)

// seedFile is the YAML layout of a task seed file:
//
//	tasks:
//	  - id: morning-haiku
//	    name: Morning haiku
//	    schedule: "0 9 * * *"
//	    category: philosophy
//	    prompt: Write a haiku about the morning light
type seedFile struct {
	Tasks []seedTask `yaml:"tasks"`
}

type seedTask struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Schedule    string         `yaml:"schedule"`
	Category    string         `yaml:"category"`
	Enabled     *bool          `yaml:"enabled"`
	Prompt      string         `yaml:"prompt"`
	Parameters  map[string]any `yaml:"parameters"`
}

// LoadSeed reads task definitions from a YAML file. Tasks are enabled
// unless the file says otherwise. Unknown categories are rejected.
func LoadSeed(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	tasks := make([]Task, 0, len(f.Tasks))
	for i, st := range f.Tasks {
		if st.Name == "" {
			return nil, fmt.Errorf("seed task #%d: name is required", i+1)
		}
		category := Category(st.Category)
		if category == "" {
			category = CategoryCustom
		}
		if !category.Valid() {
			return nil, fmt.Errorf("seed task %q: unknown category %q", st.Name, st.Category)
		}
		enabled := true
		if st.Enabled != nil {
			enabled = *st.Enabled
		}
		tasks = append(tasks, Task{
			ID:          st.ID,
			Name:        st.Name,
			Description: st.Description,
			Schedule:    st.Schedule,
			Category:    category,
			Enabled:     enabled,
			Prompt:      st.Prompt,
			Parameters:  st.Parameters,
		})
	}
	return tasks, nil
}

// ImportSeed adds seed tasks that are not present yet. A seed task with an
// id that already exists is left alone, so edits made at runtime survive a
// restart. Seed tasks without an id are keyed by name. It returns the
// number of tasks added.
func (s *Scheduler) ImportSeed(tasks []Task) (int, error) {
	existingNames := make(map[string]bool)
	for _, t := range s.Tasks() {
		existingNames[t.Name] = true
	}

	added := 0
	var errs []error
	for _, t := range tasks {
		if t.ID == "" && existingNames[t.Name] {
			continue
		}
		if t.ID != "" {
			if _, ok := s.GetTask(t.ID); ok {
				continue
			}
		}
		if _, err := s.AddTask(t); err != nil {
			errs = append(errs, fmt.Errorf("seed task %q: %w", t.Name, err))
			continue
		}
		existingNames[t.Name] = true
		added++
	}

	if added > 0 {
		s.logger.Info("seed tasks imported", logger.Field{Key: "count", Value: added})
	}
	return added, errors.Join(errs...)
}
