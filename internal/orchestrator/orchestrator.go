// Package orchestrator runs the autonomous loop: on a timer it asks a
// proposer for new recurring tasks, records its reasoning as thoughts and
// hands accepted proposals to the scheduler through Context. It also
// decomposes research-style tasks into sub-agent work run on the pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/agent/subagent"
	"github.com/aatumaykin/komorebi/internal/logger"
)

// ErrNoContext is returned by Start before SetContext was called.
var ErrNoContext = errors.New("orchestrator context is not set")

const (
	DefaultInterval           = 30 * time.Minute
	DefaultMaxProposalsPerRun = 1
	DefaultMaxSubAgentsPerRun = 3
)

// Proposal is a candidate scheduled task.
type Proposal struct {
	Name        string
	Description string
	Schedule    string
	Category    string
	Prompt      string
	Parameters  map[string]any
	Reason      string
}

// Context is what the orchestrator needs from the rest of the system.
type Context interface {
	ScheduledTaskCount() int
	AddScheduledTask(ctx context.Context, p Proposal) error
	LogActivity(action, details string)
	AddThought(kind activity.ThoughtKind, content string)
}

// ProposeFunc produces proposals for one cycle.
type ProposeFunc func(ctx context.Context, c Context) ([]Proposal, error)

// Spawner runs sub-agents in parallel. *pool.Pool implements it.
type Spawner interface {
	SpawnParallel(ctx context.Context, cfgs []subagent.Config, contexts []map[string]any) []subagent.Result
}

// Config controls the loop.
type Config struct {
	Interval           time.Duration
	MaxProposalsPerRun int
	UseSubAgents       bool
	MaxSubAgentsPerRun int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProposer replaces the built-in proposal heuristic.
func WithProposer(fn ProposeFunc) Option {
	return func(o *Orchestrator) { o.propose = fn }
}

// Orchestrator is the autonomous proposal and delegation loop.
type Orchestrator struct {
	cfg     Config
	spawner Spawner
	logger  *logger.Logger
	propose ProposeFunc

	mu      sync.RWMutex
	octx    Context
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	cycleMu sync.Mutex
}

// New creates a stopped orchestrator. spawner may be nil when sub-agents
// are not used.
func New(cfg Config, spawner Spawner, log *logger.Logger, opts ...Option) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxProposalsPerRun <= 0 {
		cfg.MaxProposalsPerRun = DefaultMaxProposalsPerRun
	}
	if cfg.MaxSubAgentsPerRun <= 0 {
		cfg.MaxSubAgentsPerRun = DefaultMaxSubAgentsPerRun
	}
	if log == nil {
		log = logger.Discard()
	}

	o := &Orchestrator{
		cfg:     cfg,
		spawner: spawner,
		logger:  log,
		propose: DefaultProposer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetContext attaches the system context. Must be called before Start.
func (o *Orchestrator) SetContext(c Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.octx = c
}

func (o *Orchestrator) systemContext() Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.octx
}

// Start runs one cycle right away and then one every Interval until Stop
// or ctx is done. Starting a running orchestrator does nothing.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.octx == nil {
		return ErrNoContext
	}
	if o.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	o.logger.Info("orchestrator started", logger.Field{Key: "interval", Value: o.cfg.Interval.String()})

	go o.run(loopCtx, o.done)
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to return.
// Stopping a stopped orchestrator does nothing.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
	o.logger.Info("orchestrator stopped")
}

// IsRunning reports whether the loop is active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	o.RunOnce(ctx)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			if o.done == done {
				o.running = false
			}
			o.mu.Unlock()
			return
		case <-ticker.C:
			o.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single proposal cycle and returns how many tasks were
// scheduled. It never panics or fails outward: problems are recorded as
// observation thoughts.
func (o *Orchestrator) RunOnce(ctx context.Context) (added int) {
	c := o.systemContext()
	if c == nil {
		o.logger.Warn("orchestrator cycle skipped: no context")
		return 0
	}

	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			o.logger.Error("orchestrator cycle panicked", err)
			c.AddThought(activity.ThoughtObservation, "Autonomous cycle failed: "+err.Error())
		}
	}()

	proposals, err := o.propose(ctx, c)
	if err != nil {
		o.logger.Error("proposal step failed", err)
		c.AddThought(activity.ThoughtObservation, "Could not come up with new tasks: "+err.Error())
		return 0
	}
	if len(proposals) > o.cfg.MaxProposalsPerRun {
		proposals = proposals[:o.cfg.MaxProposalsPerRun]
	}

	for _, p := range proposals {
		if d := DecomposeTask(p.Name, p.Description); d.ShouldDecompose {
			c.AddThought(activity.ThoughtDecision, fmt.Sprintf(
				"%q can be split into %d parallel sub-agents (%s)", p.Name, len(d.SubTasks), rolesOf(d.SubTasks)))
		}

		if err := c.AddScheduledTask(ctx, p); err != nil {
			o.logger.Warn("failed to schedule proposal",
				logger.Field{Key: "name", Value: p.Name},
				logger.Field{Key: "error", Value: err.Error()})
			c.AddThought(activity.ThoughtObservation, fmt.Sprintf("Could not schedule %q: %v", p.Name, err))
			continue
		}

		added++
		details := fmt.Sprintf("%s (%s, %s)", p.Name, p.Category, p.Schedule)
		if p.Reason != "" {
			details += ": " + p.Reason
		}
		c.LogActivity("task_proposed", details)
		o.logger.Info("task proposed",
			logger.Field{Key: "name", Value: p.Name},
			logger.Field{Key: "schedule", Value: p.Schedule},
			logger.Field{Key: "category", Value: p.Category})
	}

	return added
}

// SpawnSubAgentsForTask decomposes the task and, when it applies and sub-agents
// are enabled, runs the sub-tasks in parallel on the pool. It returns nil
// when nothing was spawned.
func (o *Orchestrator) SpawnSubAgentsForTask(ctx context.Context, name, description string) []subagent.Result {
	if !o.cfg.UseSubAgents || o.spawner == nil {
		return nil
	}

	d := DecomposeTask(name, description)
	if !d.ShouldDecompose {
		return nil
	}

	subTasks := d.SubTasks
	if len(subTasks) > o.cfg.MaxSubAgentsPerRun {
		subTasks = subTasks[:o.cfg.MaxSubAgentsPerRun]
	}

	contexts := make([]map[string]any, len(subTasks))
	for i := range subTasks {
		contexts[i] = map[string]any{"task": name, "description": description}
	}

	c := o.systemContext()
	if c != nil {
		c.LogActivity("sub_agents_spawning", fmt.Sprintf("%d sub-agents for %q: %s", len(subTasks), name, rolesOf(subTasks)))
	}

	results := o.spawner.SpawnParallel(ctx, subTasks, contexts)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if c != nil {
		c.LogActivity("sub_agents_completed", fmt.Sprintf("%d/%d sub-agents succeeded for %q", succeeded, len(results), name))
	}
	return results
}
