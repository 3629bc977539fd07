// Package subagent models one unit of delegated work: a role, a task,
// a lifecycle (idle → working → complete|error) and the events that
// lifecycle emits. Sub-agents are created and owned by the pool; Execute
// runs one through its lifecycle against a text generator.
package subagent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownRole is returned by New for a role outside Roles().
var ErrUnknownRole = errors.New("unknown sub-agent role")

// Role selects the instruction set a sub-agent works under.
type Role string

const (
	RoleResearcher Role = "researcher"
	RoleCreator    Role = "creator"
	RoleExecutor   Role = "executor"
	RoleReviewer   Role = "reviewer"
	RoleCoder      Role = "coder"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleResearcher, RoleCreator, RoleExecutor, RoleReviewer, RoleCoder}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePrompts[r]
	return ok
}

// Status is the lifecycle state of a sub-agent.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusWorking  Status = "working"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Config describes a sub-agent to spawn.
type Config struct {
	Name     string
	Role     Role
	Task     string
	ParentID string
	// Timeout bounds Execute. Zero means no deadline of its own.
	Timeout time.Duration
}

// Info is an immutable snapshot of a sub-agent.
type Info struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Role        Role          `json:"role"`
	Status      Status        `json:"status"`
	Task        string        `json:"task"`
	Progress    int           `json:"progress"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`
	ParentID    string        `json:"parent_id,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// SubAgent is a single delegated worker. All methods are safe for
// concurrent use. Once terminal, a sub-agent never changes again.
type SubAgent struct {
	mu   sync.RWMutex
	info Info
}

// New creates an idle sub-agent with a fresh id.
func New(cfg Config) (*SubAgent, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, cfg.Role)
	}

	id := uuid.NewString()
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s", cfg.Role, id[:8])
	}

	return &SubAgent{info: Info{
		ID:        id,
		Name:      name,
		Role:      cfg.Role,
		Status:    StatusIdle,
		Task:      cfg.Task,
		StartedAt: time.Now(),
		ParentID:  cfg.ParentID,
		Timeout:   cfg.Timeout,
	}}, nil
}

// ID returns the sub-agent id.
func (a *SubAgent) ID() string {
	return a.info.ID
}

// Role returns the sub-agent role.
func (a *SubAgent) Role() Role {
	return a.info.Role
}

// Info returns a snapshot of the current state.
func (a *SubAgent) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info
}

// Status returns the current status.
func (a *SubAgent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.info.Status
}

// MarkWorking moves an idle agent to working.
func (a *SubAgent) MarkWorking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.info.Status != StatusIdle {
		return false
	}
	a.info.Status = StatusWorking
	return true
}

// SetProgress records progress, clamped to 0..100. Ignored once terminal.
func (a *SubAgent) SetProgress(p int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.info.Status.Terminal() {
		return false
	}
	a.info.Progress = min(max(p, 0), 100)
	return true
}

// Complete marks the agent complete with result.
// It returns false if the agent had already finished.
func (a *SubAgent) Complete(result string) bool {
	return a.finish(StatusComplete, result, "")
}

// Fail marks the agent errored with msg.
// It returns false if the agent had already finished.
func (a *SubAgent) Fail(msg string) bool {
	return a.finish(StatusError, "", msg)
}

func (a *SubAgent) finish(status Status, result, errMsg string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.info.Status.Terminal() {
		return false
	}
	a.info.Status = status
	a.info.Result = result
	a.info.Error = errMsg
	a.info.CompletedAt = time.Now()
	if status == StatusComplete {
		a.info.Progress = 100
	}
	return true
}
