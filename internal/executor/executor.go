// Package executor turns a scheduled task into output. It dispatches by
// category to a handler; every handler announces itself on the activity
// sink, makes exactly one capability call and records the output as a
// gallery item. Handler errors are returned to the scheduler unchanged in
// meaning, which marks the execution as failed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/agent/subagent"
	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/scheduler"
	"github.com/aatumaykin/komorebi/internal/store"
)

const source = "executor"

// ErrNoCapability is returned when the handler's capability is not configured.
var ErrNoCapability = errors.New("capability not configured")

// Request is the input of a capability call.
type Request struct {
	Task scheduler.Task
	// Prompt is the task prompt, falling back to the description and name.
	Prompt string
	// Medium is "image" or "video" for the art pipeline.
	Medium string
	// Context carries extra material, such as sub-agent findings.
	Context map[string]any
}

// Artifact is what a capability produced.
type Artifact struct {
	Content  string
	Metadata map[string]any
}

// Capability is one external generation pipeline.
type Capability func(ctx context.Context, req Request) (*Artifact, error)

// Capabilities are the pipelines handlers call.
type Capabilities struct {
	Art      Capability
	Code     Capability
	Research Capability
	Text     Capability
	Browser  Capability
	Custom   Capability
}

// Sink receives progress. *activity.Log implements it.
type Sink interface {
	Add(e activity.Entry) activity.Entry
	AddThought(kind activity.ThoughtKind, content, source string) activity.Thought
}

// Delegator runs sub-agents for a task and returns their results.
// Orchestrator.SpawnSubAgentsForTask has this shape. Each sub-agent makes
// its own generation call, so a delegating research task costs those calls
// in addition to the single research capability call.
type Delegator func(ctx context.Context, name, description string) []subagent.Result

// Option configures an Executor.
type Option func(*Executor)

// WithDelegator lets research tasks gather findings from sub-agents first.
// Without it every handler makes exactly one capability call.
func WithDelegator(d Delegator) Option {
	return func(e *Executor) { e.delegate = d }
}

// WithClock overrides time.Now for gallery timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

type handler struct {
	name string
	run  func(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error)
}

// Executor implements scheduler.Executor.
type Executor struct {
	caps     Capabilities
	sink     Sink
	store    store.Store
	logger   *logger.Logger
	delegate Delegator
	now      func() time.Time
}

var _ scheduler.Executor = (*Executor)(nil)

// New creates an executor. sink and st may be nil.
func New(caps Capabilities, sink Sink, st store.Store, log *logger.Logger, opts ...Option) *Executor {
	if log == nil {
		log = logger.Discard()
	}
	e := &Executor{
		caps:   caps,
		sink:   sink,
		store:  st,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches task to its category handler.
func (e *Executor) Execute(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	h := e.handlerFor(task.Category)

	e.logger.Debug("dispatching task",
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "category", Value: string(task.Category)},
		logger.Field{Key: "handler", Value: h.name})

	result, err := h.run(ctx, task)
	if err != nil {
		e.record(activity.LevelError, "task_failed", fmt.Sprintf("%s: %v", task.Name, err), task)
		return nil, err
	}

	e.record(activity.LevelSuccess, "task_completed", task.Name, task)
	e.saveGallery(ctx, task, result)
	return result, nil
}

func (e *Executor) handlerFor(c scheduler.Category) handler {
	switch c {
	case scheduler.CategoryArt, scheduler.CategoryVideo:
		return handler{name: "art", run: e.art}
	case scheduler.CategoryCode:
		return handler{name: "code", run: e.code}
	case scheduler.CategoryResearch:
		return handler{name: "research", run: e.research}
	case scheduler.CategoryPhilosophy, scheduler.CategoryBlog:
		return handler{name: "text", run: e.text}
	case scheduler.CategoryBrowser:
		return handler{name: "browser", run: e.browser}
	default:
		return handler{name: "custom", run: e.custom}
	}
}

func (e *Executor) art(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	medium := "image"
	if task.Category == scheduler.CategoryVideo {
		medium = "video"
	}
	e.starting(task, fmt.Sprintf("Creating %s for %q", medium, task.Name))
	return e.call(ctx, "art", e.caps.Art, Request{Task: task, Prompt: promptOf(task), Medium: medium}, medium)
}

func (e *Executor) code(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	e.starting(task, fmt.Sprintf("Writing code for %q", task.Name))
	return e.call(ctx, "code", e.caps.Code, Request{Task: task, Prompt: promptOf(task)}, "code")
}

func (e *Executor) research(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	e.starting(task, fmt.Sprintf("Researching %q", task.Name))

	req := Request{Task: task, Prompt: promptOf(task)}
	delegated := 0
	if e.delegate != nil {
		for _, r := range e.delegate(ctx, task.Name, task.Description) {
			if !r.Success {
				continue
			}
			if req.Context == nil {
				req.Context = make(map[string]any)
			}
			req.Context[fmt.Sprintf("findings_%s", r.Role)] = r.Output
			delegated++
		}
	}

	result, err := e.call(ctx, "research", e.caps.Research, req, "research")
	if err != nil {
		return nil, err
	}
	if delegated > 0 {
		result.Metadata["sub_agents"] = delegated
	}
	e.remember(ctx, task, result.Content)
	return result, nil
}

func (e *Executor) text(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	e.starting(task, fmt.Sprintf("Writing %s piece %q", task.Category, task.Name))
	return e.call(ctx, "text", e.caps.Text, Request{Task: task, Prompt: promptOf(task)}, string(task.Category))
}

func (e *Executor) browser(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	e.starting(task, fmt.Sprintf("Browsing for %q", task.Name))
	return e.call(ctx, "browser", e.caps.Browser, Request{Task: task, Prompt: promptOf(task)}, "browser")
}

func (e *Executor) custom(ctx context.Context, task scheduler.Task) (*scheduler.TaskResult, error) {
	e.starting(task, fmt.Sprintf("Working on %q", task.Name))
	return e.call(ctx, "custom", e.caps.Custom, Request{Task: task, Prompt: promptOf(task)}, "text")
}

func (e *Executor) call(ctx context.Context, name string, capability Capability, req Request, resultType string) (*scheduler.TaskResult, error) {
	if capability == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoCapability)
	}

	artifact, err := capability(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s pipeline: %w", name, err)
	}
	if artifact == nil {
		return nil, fmt.Errorf("%s pipeline returned no output", name)
	}

	metadata := maps.Clone(artifact.Metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["task_id"] = req.Task.ID
	metadata["category"] = string(req.Task.Category)
	if req.Medium != "" {
		metadata["medium"] = req.Medium
	}

	return &scheduler.TaskResult{Type: resultType, Content: artifact.Content, Metadata: metadata}, nil
}

func (e *Executor) starting(task scheduler.Task, thought string) {
	if e.sink != nil {
		e.sink.AddThought(activity.ThoughtPlan, thought, source)
	}
	e.record(activity.LevelInfo, "task_started", task.Name, task)
}

func (e *Executor) record(level activity.Level, action, details string, task scheduler.Task) {
	if e.sink == nil {
		return
	}
	e.sink.Add(activity.Entry{
		Action:  action,
		Details: details,
		Level:   level,
		Source:  source,
		Metadata: map[string]any{
			"task_id":  task.ID,
			"category": string(task.Category),
		},
	})
}

func (e *Executor) saveGallery(ctx context.Context, task scheduler.Task, result *scheduler.TaskResult) {
	if e.store == nil {
		return
	}
	item := store.GalleryItem{
		ID:        uuid.NewString(),
		Type:      result.Type,
		Title:     task.Name,
		Content:   result.Content,
		TaskID:    task.ID,
		Category:  string(task.Category),
		Metadata:  maps.Clone(result.Metadata),
		CreatedAt: e.now(),
	}
	if err := e.store.SaveGalleryItem(context.WithoutCancel(ctx), item); err != nil {
		e.logger.Warn("failed to save gallery item",
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Executor) remember(ctx context.Context, task scheduler.Task, content string) {
	if e.store == nil || content == "" {
		return
	}
	m := store.Memory{
		ID:        uuid.NewString(),
		Layer:     store.LayerEpisodic,
		Content:   content,
		Source:    "task:" + task.ID,
		Relevance: 0.7,
		Tags:      []string{string(task.Category), task.Name},
		CreatedAt: e.now(),
	}
	if err := e.store.AddMemory(context.WithoutCancel(ctx), m); err != nil {
		e.logger.Warn("failed to store research memory",
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

func promptOf(task scheduler.Task) string {
	switch {
	case task.Prompt != "":
		return task.Prompt
	case task.Description != "":
		return task.Description
	default:
		return task.Name
	}
}
