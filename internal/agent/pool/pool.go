// Package pool owns the set of concurrently active sub-agents.
//
// The pool enforces two limits: at most MaxAgents agents are active at a
// time, and unless AllowParallelSameRole is set, at most one active agent
// per role. The capacity check and the insertion into the active set happen
// under one mutex, so the limits hold under real parallelism. Finished
// agents move to a bounded most-recent-first history.
package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/komorebi/internal/agent/subagent"
	"github.com/aatumaykin/komorebi/internal/bus"
	"github.com/aatumaykin/komorebi/internal/llm"
	"github.com/aatumaykin/komorebi/internal/logger"
)

var (
	// ErrPoolFull is returned when MaxAgents agents are already active.
	ErrPoolFull = errors.New("agent pool is full")
	// ErrRoleBusy is returned when the role already has an active agent.
	ErrRoleBusy = errors.New("an agent with this role is already active")
)

const (
	DefaultMaxAgents      = 5
	DefaultHistorySize    = 20
	DefaultTimeout        = 5 * time.Minute
	CancelledByUserReason = "Cancelled by user"
)

// Config holds pool limits.
type Config struct {
	MaxAgents int
	// DefaultTimeout applies to spawns that leave Timeout unset.
	// A negative value disables the deadline.
	DefaultTimeout        time.Duration
	AllowParallelSameRole bool
	HistorySize           int
}

// Stats is a point-in-time summary.
type Stats struct {
	ActiveCount    int     `json:"active_count"`
	CompletedCount int     `json:"completed_count"`
	MaxAgents      int     `json:"max_agents"`
	SuccessRate    float64 `json:"success_rate"`
}

type entry struct {
	agent  *subagent.SubAgent
	cancel context.CancelFunc
}

// Pool manages active sub-agents. Safe for concurrent use.
type Pool struct {
	cfg    Config
	gen    llm.TextGenerator
	logger *logger.Logger

	mu      sync.Mutex
	active  map[string]*entry
	order   []string
	history *lru.Cache[string, subagent.Info]

	listeners *bus.Listeners[subagent.Event]
}

// New creates a pool that runs agents against gen.
func New(cfg Config, gen llm.TextGenerator, log *logger.Logger) (*Pool, error) {
	if gen == nil {
		return nil, fmt.Errorf("text generator cannot be nil")
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Discard()
	}

	history, err := lru.New[string, subagent.Info](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}

	return &Pool{
		cfg:       cfg,
		gen:       gen,
		logger:    log,
		active:    make(map[string]*entry),
		history:   history,
		listeners: bus.NewListeners[subagent.Event]("pool", log),
	}, nil
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// CanSpawn reports whether there is free capacity.
func (p *Pool) CanSpawn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admitLocked("") == nil
}

// CanSpawnRole reports whether an agent with role could be spawned now.
func (p *Pool) CanSpawnRole(role subagent.Role) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admitLocked(role) == nil
}

func (p *Pool) admitLocked(role subagent.Role) error {
	if len(p.active) >= p.cfg.MaxAgents {
		return ErrPoolFull
	}
	if role == "" || p.cfg.AllowParallelSameRole {
		return nil
	}
	for _, e := range p.active {
		if e.agent.Role() == role {
			return ErrRoleBusy
		}
	}
	return nil
}

// Spawn creates an idle agent and adds it to the active set. Refusals
// (ErrPoolFull, ErrRoleBusy) leave the pool untouched.
func (p *Pool) Spawn(cfg subagent.Config) (*subagent.SubAgent, error) {
	if cfg.Timeout == 0 && p.cfg.DefaultTimeout > 0 {
		cfg.Timeout = p.cfg.DefaultTimeout
	}

	p.mu.Lock()
	if err := p.admitLocked(cfg.Role); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	agent, err := subagent.New(cfg)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.active[agent.ID()] = &entry{agent: agent}
	p.order = append(p.order, agent.ID())
	activeCount := len(p.active)
	p.mu.Unlock()

	p.logger.Info("sub-agent spawned",
		logger.Field{Key: "agent_id", Value: agent.ID()},
		logger.Field{Key: "role", Value: string(cfg.Role)},
		logger.Field{Key: "parent_id", Value: cfg.ParentID},
		logger.Field{Key: "active", Value: activeCount})

	p.emit(subagent.EventSpawned, agent)
	return agent, nil
}

// SpawnAndExecute spawns an agent, runs it to a terminal state and moves it
// to history. The returned error is only ever a spawn refusal; execution
// failures are reported in the Result.
func (p *Pool) SpawnAndExecute(ctx context.Context, cfg subagent.Config, taskContext map[string]any) (*subagent.Result, error) {
	agent, err := p.Spawn(cfg)
	if err != nil {
		return nil, err
	}
	res := p.run(ctx, agent, taskContext)
	return &res, nil
}

// SpawnParallel admits each config independently, skipping (with a
// warning) those that cannot be spawned, and runs the admitted agents
// concurrently. Results come back in submission order of the admitted
// configs. contexts[i] is passed to cfgs[i]; missing entries mean no context.
func (p *Pool) SpawnParallel(ctx context.Context, cfgs []subagent.Config, contexts []map[string]any) []subagent.Result {
	type admitted struct {
		agent       *subagent.SubAgent
		taskContext map[string]any
	}

	var batch []admitted
	for i, cfg := range cfgs {
		agent, err := p.Spawn(cfg)
		if err != nil {
			p.logger.Warn("skipping sub-agent in parallel batch",
				logger.Field{Key: "index", Value: i},
				logger.Field{Key: "role", Value: string(cfg.Role)},
				logger.Field{Key: "reason", Value: err.Error()})
			continue
		}
		var taskContext map[string]any
		if i < len(contexts) {
			taskContext = contexts[i]
		}
		batch = append(batch, admitted{agent: agent, taskContext: taskContext})
	}

	results := make([]subagent.Result, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range batch {
		g.Go(func() error {
			results[i] = p.run(gctx, a.agent, a.taskContext)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pool) run(ctx context.Context, agent *subagent.SubAgent, taskContext map[string]any) subagent.Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if e, ok := p.active[agent.ID()]; ok {
		e.cancel = cancel
	}
	p.mu.Unlock()

	res := subagent.Execute(ctx, agent, p.gen, taskContext, func(ev subagent.Event) {
		switch ev.Type {
		case subagent.EventSpawned:
			// already announced by Spawn
			return
		case subagent.EventCompleted, subagent.EventError:
			p.retire(agent)
		}
		p.listeners.Emit(ev)
	})
	p.retire(agent)

	p.logger.Info("sub-agent finished",
		logger.Field{Key: "agent_id", Value: res.AgentID},
		logger.Field{Key: "role", Value: string(res.Role)},
		logger.Field{Key: "success", Value: res.Success},
		logger.Field{Key: "duration", Value: res.Duration.String()})
	return res
}

// retire moves agent from the active set to history. Only the first call
// for a given agent has an effect.
func (p *Pool) retire(agent *subagent.SubAgent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retireLocked(agent)
}

func (p *Pool) retireLocked(agent *subagent.SubAgent) bool {
	if _, ok := p.active[agent.ID()]; !ok {
		return false
	}
	delete(p.active, agent.ID())
	p.order = slices.DeleteFunc(p.order, func(id string) bool { return id == agent.ID() })
	p.history.Add(agent.ID(), agent.Info())
	return true
}

// Cancel marks an active agent as errored with "Cancelled by user", moves
// it to history and cancels its in-flight generation call. It returns false
// if id is not active.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	e, ok := p.active[id]
	if !ok || !e.agent.Fail(CancelledByUserReason) {
		p.mu.Unlock()
		return false
	}
	p.retireLocked(e.agent)
	cancel := e.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	p.logger.Info("sub-agent cancelled", logger.Field{Key: "agent_id", Value: id})
	p.emit(subagent.EventError, e.agent)
	return true
}

// CancelAll cancels every active agent and returns how many were cancelled.
func (p *Pool) CancelAll() int {
	n := 0
	for _, info := range p.Active() {
		if p.Cancel(info.ID) {
			n++
		}
	}
	return n
}

// Get looks up an agent in the active set, then in history.
func (p *Pool) Get(id string) (subagent.Info, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.active[id]; ok {
		return e.agent.Info(), true
	}
	return p.history.Peek(id)
}

// Active returns snapshots of active agents in spawn order.
func (p *Pool) Active() []subagent.Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]subagent.Info, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.active[id].agent.Info())
	}
	return out
}

// Completed returns finished agents, most recent first.
func (p *Pool) Completed() []subagent.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completedLocked()
}

func (p *Pool) completedLocked() []subagent.Info {
	keys := p.history.Keys() // oldest first
	out := make([]subagent.Info, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if info, ok := p.history.Peek(keys[i]); ok {
			out = append(out, info)
		}
	}
	return out
}

// Stats returns counts and the success rate over retained history.
// SuccessRate is 1 when nothing has completed yet.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	completed := p.completedLocked()
	rate := 1.0
	if len(completed) > 0 {
		ok := 0
		for _, info := range completed {
			if info.Status == subagent.StatusComplete {
				ok++
			}
		}
		rate = float64(ok) / float64(len(completed))
	}

	return Stats{
		ActiveCount:    len(p.active),
		CompletedCount: len(completed),
		MaxAgents:      p.cfg.MaxAgents,
		SuccessRate:    rate,
	}
}

// OnEvent registers fn for lifecycle events of every agent in the pool.
// Listeners run synchronously in registration order; a panicking listener
// is logged and skipped.
func (p *Pool) OnEvent(fn func(subagent.Event)) (unsubscribe func()) {
	return p.listeners.Subscribe(fn)
}

func (p *Pool) emit(t subagent.EventType, agent *subagent.SubAgent) {
	p.listeners.Emit(subagent.Event{Type: t, Agent: agent.Info(), Timestamp: time.Now()})
}
