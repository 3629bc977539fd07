package scheduler

import (
	"maps"
	"slices"
	"time"
)

// Category selects the handler a task is dispatched to.
type Category string

const (
	CategoryArt        Category = "art"
	CategoryMusic      Category = "music"
	CategoryCode       Category = "code"
	CategoryPhilosophy Category = "philosophy"
	CategoryResearch   Category = "research"
	CategoryBlog       Category = "blog"
	CategoryGame       Category = "game"
	CategorySocial     Category = "social"
	CategoryCustom     Category = "custom"
	CategoryBrowser    Category = "browser"
	CategoryVideo      Category = "video"
)

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryArt, CategoryMusic, CategoryCode, CategoryPhilosophy, CategoryResearch,
		CategoryBlog, CategoryGame, CategorySocial, CategoryCustom, CategoryBrowser, CategoryVideo,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories(), c)
}

// Status of a task's last run or of an execution.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusSkipped  Status = "skipped"
)

// Task is a recurring, cron-driven unit of work.
type Task struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schedule    string         `json:"schedule"`
	Category    Category       `json:"category"`
	Enabled     bool           `json:"enabled"`
	NextRun     time.Time      `json:"next_run,omitzero"`
	LastRun     time.Time      `json:"last_run,omitzero"`
	LastStatus  Status         `json:"last_status"`
	LastError   string         `json:"last_error,omitempty"`
	RunCount    int            `json:"run_count"`
	Prompt      string         `json:"prompt,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
}

// Clone returns a copy that shares no maps with t.
func (t Task) Clone() Task {
	t.Parameters = maps.Clone(t.Parameters)
	return t
}

// TaskResult is the structured output of a successful execution.
type TaskResult struct {
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Execution records one attempt to run a task.
type Execution struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	TaskName  string      `json:"task_name"`
	Category  Category    `json:"category"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at,omitzero"`
	Status    Status      `json:"status"`
	Result    *TaskResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Manual    bool        `json:"manual,omitempty"`
}

// Duration is zero while the execution is running.
func (e Execution) Duration() time.Duration {
	if e.EndedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

func (e *Execution) clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.Result != nil {
		r := *e.Result
		r.Metadata = maps.Clone(r.Metadata)
		c.Result = &r
	}
	return &c
}

// NextRun pairs a task with its next fire time.
type NextRun struct {
	Task    Task      `json:"task"`
	NextRun time.Time `json:"next_run"`
}

// EventType names a scheduler state change.
type EventType string

const (
	EventTaskAdded         EventType = "task_added"
	EventTaskUpdated       EventType = "task_updated"
	EventTaskRemoved       EventType = "task_removed"
	EventExecutionStarted  EventType = "execution_started"
	EventExecutionFinished EventType = "execution_finished"
	EventChecked           EventType = "checked"
	EventCheckSkipped      EventType = "check_skipped"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Type      EventType  `json:"type"`
	Task      *Task      `json:"task,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
