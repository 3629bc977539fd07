// Package scheduler owns the recurring task definitions and runs them.
//
// On every tick the scheduler selects tasks that are enabled, whose cron
// expression matches the current minute and that have not run within the
// last DoubleFireGuard, and executes them one at a time. At most one
// execution is in flight at any instant: a tick that finds an execution
// running does nothing, and RunNow refuses while another task runs. Tasks
// skipped this way are not queued; they fire again at their next match.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	robfig "github.com/robfig/cron/v3"

	"github.com/aatumaykin/komorebi/internal/bus"
	"github.com/aatumaykin/komorebi/internal/cron"
	"github.com/aatumaykin/komorebi/internal/logger"
)

var (
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists is returned by AddTask for a duplicate id.
	ErrTaskExists = errors.New("task already exists")
	// ErrBusy is returned by RunNow while another task is executing.
	ErrBusy = errors.New("another task is executing")
	// ErrInvalidSchedule wraps cron parse failures.
	ErrInvalidSchedule = errors.New("invalid schedule")
)

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultHistorySize   = 100
	// DoubleFireGuard is the minimum gap between two scheduled runs of a task.
	DoubleFireGuard = 60 * time.Second
)

// Executor runs a task. Returning an error marks the execution as failed.
type Executor interface {
	Execute(ctx context.Context, task Task) (*TaskResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task Task) (*TaskResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task Task) (*TaskResult, error) {
	return f(ctx, task)
}

// Config holds scheduler settings.
type Config struct {
	CheckInterval time.Duration
	HistorySize   int
	Location      *time.Location
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.clock = now }
}

// WithStorage persists tasks on every change and loads them in New.
func WithStorage(st *Storage) Option {
	return func(s *Scheduler) { s.storage = st }
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	cfg      Config
	executor Executor
	logger   *logger.Logger
	storage  *Storage
	clock    func() time.Time

	mu        sync.RWMutex
	tasks     map[string]*Task
	current   *Execution
	history   []Execution
	lastCheck time.Time

	checkMu sync.Mutex

	// persistMu orders snapshots so the newest state is written last.
	persistMu sync.Mutex

	runMu   sync.Mutex
	cron    *robfig.Cron
	running bool
	cancel  context.CancelFunc

	listeners *bus.Listeners[Event]
}

// New creates a stopped scheduler. When a storage option is given, the
// persisted tasks are loaded; load failures are logged and start empty.
func New(cfg Config, executor Executor, log *logger.Logger, opts ...Option) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Scheduler{
		cfg:       cfg,
		executor:  executor,
		logger:    log,
		clock:     time.Now,
		tasks:     make(map[string]*Task),
		listeners: bus.NewListeners[Event]("scheduler", log),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.storage != nil {
		tasks, err := s.storage.Load()
		if err != nil {
			s.logger.Error("failed to load tasks", err)
		}
		for _, t := range tasks {
			if t.LastStatus == StatusRunning {
				// interrupted by a restart
				t.LastStatus = StatusError
				t.LastError = "interrupted"
			}
			t.NextRun = s.nextRun(t)
			s.tasks[t.ID] = &t
		}
		s.logger.Info("tasks loaded", logger.Field{Key: "count", Value: len(tasks)})
	}

	return s
}

func (s *Scheduler) now() time.Time {
	return s.clock().In(s.cfg.Location)
}

func (s *Scheduler) nextRun(t Task) time.Time {
	if !t.Enabled {
		return time.Time{}
	}
	next, _ := cron.NextRunTime(t.Schedule, s.now())
	return next
}

// Start begins ticking every CheckInterval. Starting twice does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	adapter := cronLogger{log: s.logger}
	c := robfig.New(
		robfig.WithLocation(s.cfg.Location),
		robfig.WithLogger(adapter),
		robfig.WithChain(robfig.Recover(adapter), robfig.SkipIfStillRunning(adapter)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.CheckInterval), func() { s.Check(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to register tick: %w", err)
	}
	c.Start()

	s.cron, s.cancel, s.running = c, cancel, true
	s.logger.Info("scheduler started",
		logger.Field{Key: "check_interval", Value: s.cfg.CheckInterval.String()},
		logger.Field{Key: "tasks", Value: len(s.Tasks())})
	return nil
}

// Stop halts ticking, cancels an in-flight execution and waits for it.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Check records the check time and executes every due task sequentially.
// It returns the number of executions it ran. If an execution is already
// in flight it returns immediately.
func (s *Scheduler) Check(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	s.lastCheck = now
	busy := s.current != nil
	s.mu.Unlock()

	if busy || !s.checkMu.TryLock() {
		s.logger.Debug("check skipped: execution in flight")
		s.emit(Event{Type: EventCheckSkipped})
		return 0
	}
	defer s.checkMu.Unlock()

	due := s.dueTasks(now)
	s.emit(Event{Type: EventChecked})

	ran := 0
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.execute(ctx, id, now); err != nil {
			s.logger.Debug("due task not executed",
				logger.Field{Key: "task_id", Value: id},
				logger.Field{Key: "reason", Value: err.Error()})
			continue
		}
		ran++
	}
	return ran
}

// DueTasks returns the ids of tasks due at now, oldest first.
func (s *Scheduler) DueTasks(now time.Time) []string {
	return s.dueTasks(now.In(s.cfg.Location))
}

func (s *Scheduler) dueTasks(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Task
	for _, t := range s.tasks {
		if isDue(t, now) {
			due = append(due, t)
		}
	}
	slices.SortFunc(due, func(a, b *Task) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	ids := make([]string, len(due))
	for i, t := range due {
		ids[i] = t.ID
	}
	return ids
}

func isDue(t *Task, now time.Time) bool {
	if !t.Enabled {
		return false
	}
	fields := cron.Parse(t.Schedule)
	if fields == nil || !fields.Matches(now) {
		return false
	}
	return t.LastRun.IsZero() || now.Sub(t.LastRun) > DoubleFireGuard
}

// RunNow executes a task outside its schedule and waits for it.
// If the same task is already executing, the in-flight execution is
// returned. If a different task is executing, ErrBusy is returned.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*Execution, error) {
	return s.execute(ctx, id, time.Time{})
}

var errInFlight = errors.New("task already executing")

// execute runs task id. A zero tick marks a manual run; otherwise tick is the
// check time the task was selected at.
func (s *Scheduler) execute(ctx context.Context, id string, tick time.Time) (*Execution, error) {
	manual := tick.IsZero()
	exec, task, err := s.begin(id, tick)
	if errors.Is(err, errInFlight) {
		if !manual {
			return nil, ErrBusy
		}
		return exec, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("executing task",
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "name", Value: task.Name},
		logger.Field{Key: "category", Value: string(task.Category)},
		logger.Field{Key: "manual", Value: manual})

	result, runErr := s.invoke(ctx, task)
	return s.finish(exec, result, runErr), nil
}

// begin claims the single execution slot for task id. Scheduled runs are
// re-checked at the tick they were selected at.
func (s *Scheduler) begin(id string, tick time.Time) (*Execution, Task, error) {
	manual := tick.IsZero()
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if s.current != nil {
		current := s.current.clone()
		s.mu.Unlock()
		if current.TaskID == id {
			return current, Task{}, errInFlight
		}
		return nil, Task{}, ErrBusy
	}

	now := s.now()
	if !manual && !isDue(t, tick) {
		// disabled, rescheduled or run manually since it was selected
		s.mu.Unlock()
		return nil, Task{}, fmt.Errorf("task %s is no longer due", id)
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		TaskName:  t.Name,
		Category:  t.Category,
		StartedAt: now,
		Status:    StatusRunning,
		Manual:    manual,
	}
	s.current = exec
	t.LastStatus = StatusRunning
	task := t.Clone()
	execCopy := exec.clone()
	s.mu.Unlock()

	s.emit(Event{Type: EventExecutionStarted, Task: &task, Execution: execCopy})
	return execCopy, task, nil
}

func (s *Scheduler) invoke(ctx context.Context, task Task) (result *TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	if s.executor == nil {
		return nil, errors.New("no executor configured")
	}
	return s.executor.Execute(ctx, task)
}

// finish records the outcome on the execution and the task, appends the
// execution to history and frees the slot in one critical section.
func (s *Scheduler) finish(started *Execution, result *TaskResult, runErr error) *Execution {
	now := s.now()

	s.mu.Lock()
	exec := s.current
	exec.EndedAt = now
	if runErr != nil {
		exec.Status = StatusError
		exec.Error = runErr.Error()
	} else {
		exec.Status = StatusComplete
		exec.Result = result
	}

	var taskCopy *Task
	if t, ok := s.tasks[exec.TaskID]; ok {
		t.LastRun = now
		t.LastStatus = exec.Status
		t.LastError = exec.Error
		t.RunCount++
		t.NextRun = s.nextRun(*t)
		c := t.Clone()
		taskCopy = &c
	}

	s.history = append(s.history, *exec)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.current = nil
	done := exec.clone()
	s.mu.Unlock()

	if runErr != nil {
		s.logger.Error("task failed", runErr,
			logger.Field{Key: "task_id", Value: done.TaskID},
			logger.Field{Key: "execution_id", Value: started.ID},
			logger.Field{Key: "duration", Value: done.Duration().String()})
	} else {
		s.logger.Info("task completed",
			logger.Field{Key: "task_id", Value: done.TaskID},
			logger.Field{Key: "execution_id", Value: started.ID},
			logger.Field{Key: "duration", Value: done.Duration().String()})
	}

	s.persist()
	s.emit(Event{Type: EventExecutionFinished, Task: taskCopy, Execution: done})
	return done
}

// AddTask validates and stores t. Empty ID, category and creation time are
// filled in. The stored task is returned.
func (s *Scheduler) AddTask(t Task) (Task, error) {
	if _, err := cron.ParseStrict(t.Schedule); err != nil {
		return Task{}, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, t.Schedule, err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Category == "" {
		t.Category = CategoryCustom
	}
	if t.LastStatus == "" {
		t.LastStatus = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t.NextRun = s.nextRun(t)

	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskExists, t.ID)
	}
	stored := t.Clone()
	s.tasks[t.ID] = &stored
	s.mu.Unlock()

	s.logger.Info("task added",
		logger.Field{Key: "task_id", Value: t.ID},
		logger.Field{Key: "name", Value: t.Name},
		logger.Field{Key: "schedule", Value: t.Schedule},
		logger.Field{Key: "category", Value: string(t.Category)})

	s.persist()
	s.emit(Event{Type: EventTaskAdded, Task: &t})
	return t.Clone(), nil
}

// UpdateTask applies mutate to a copy of the task and stores it. The id
// cannot change. NextRun is recomputed when the schedule or the enabled
// flag changes; an invalid new schedule leaves the task untouched.
func (s *Scheduler) UpdateTask(id string, mutate func(*Task)) (Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	updated := t.Clone()
	mutate(&updated)
	updated.ID = id

	if updated.Schedule != t.Schedule {
		if _, err := cron.ParseStrict(updated.Schedule); err != nil {
			s.mu.Unlock()
			return Task{}, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, updated.Schedule, err)
		}
	}
	if updated.Schedule != t.Schedule || updated.Enabled != t.Enabled {
		updated.NextRun = s.nextRun(updated)
	}
	*t = updated
	out := updated.Clone()
	s.mu.Unlock()

	s.logger.Info("task updated", logger.Field{Key: "task_id", Value: id})
	s.persist()
	s.emit(Event{Type: EventTaskUpdated, Task: &out})
	return out.Clone(), nil
}

// RemoveTask deletes a task. An in-flight execution of it still finishes
// and lands in history.
func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(s.tasks, id)
	removed := t.Clone()
	s.mu.Unlock()

	s.logger.Info("task removed", logger.Field{Key: "task_id", Value: id})
	s.persist()
	s.emit(Event{Type: EventTaskRemoved, Task: &removed})
	return nil
}

// GetTask returns a copy of the task.
func (s *Scheduler) GetTask(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// Tasks returns copies of all tasks, oldest first.
func (s *Scheduler) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasksLocked()
}

func (s *Scheduler) tasksLocked() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b Task) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// TaskCount returns the number of tasks.
func (s *Scheduler) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// NextRunTimes returns enabled tasks with their next fire time, soonest
// first. Tasks whose expression never fires are left out.
func (s *Scheduler) NextRunTimes() []NextRun {
	now := s.now()
	var out []NextRun
	for _, t := range s.Tasks() {
		if !t.Enabled {
			continue
		}
		next, ok := cron.NextRunTime(t.Schedule, now)
		if !ok {
			continue
		}
		out = append(out, NextRun{Task: t, NextRun: next})
	}
	slices.SortStableFunc(out, func(a, b NextRun) int { return a.NextRun.Compare(b.NextRun) })
	return out
}

// History returns retained executions, oldest first.
func (s *Scheduler) History() []Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Execution, len(s.history))
	for i := range s.history {
		out[i] = *s.history[i].clone()
	}
	return out
}

// Current returns the in-flight execution or nil.
func (s *Scheduler) Current() *Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// LastCheck returns the time of the most recent Check.
func (s *Scheduler) LastCheck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheck
}

// Subscribe registers fn for every state change. Delivery is synchronous
// and in registration order; a panicking subscriber is logged and skipped.
func (s *Scheduler) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.listeners.Subscribe(fn)
}

func (s *Scheduler) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.listeners.Emit(e)
}

func (s *Scheduler) persist() {
	if s.storage == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	tasks := s.tasksLocked()
	s.mu.RUnlock()

	if err := s.storage.Save(tasks); err != nil {
		s.logger.Error("failed to persist tasks", err)
	}
}
