// Package app is the composition root of Komorebi. It builds every
// component from the configuration, wires them together and manages
// their lifecycle.
package app

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/agent/pool"
	"github.com/aatumaykin/komorebi/internal/config"
	"github.com/aatumaykin/komorebi/internal/executor"
	"github.com/aatumaykin/komorebi/internal/llm"
	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/metrics"
	"github.com/aatumaykin/komorebi/internal/notify"
	"github.com/aatumaykin/komorebi/internal/orchestrator"
	"github.com/aatumaykin/komorebi/internal/scheduler"
	"github.com/aatumaykin/komorebi/internal/store"
)

// App holds references to all major components and manages their lifecycle.
type App struct {
	// Configuration and core services
	config *config.Config
	logger *logger.Logger

	activity  *activity.Log
	store     *store.JSONLStore
	generator llm.TextGenerator

	// Agents
	pool         *pool.Pool
	orchestrator *orchestrator.Orchestrator

	// Tasks
	executor  *executor.Executor
	scheduler *scheduler.Scheduler

	// Observers
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	notifier *notify.Notifier

	unsubscribe []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	initialized bool
	started     bool
}

// Option configures an App.
type Option func(*App)

// WithGenerator replaces the generator built from [llm].
func WithGenerator(gen llm.TextGenerator) Option {
	return func(a *App) { a.generator = gen }
}

// WithNotifier replaces the Telegram notifier built from [notify.telegram].
func WithNotifier(n *notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// New creates an App. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) *App {
	if log == nil {
		log = logger.Discard()
	}
	a := &App{
		config: cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run initializes and starts the application and blocks until ctx is
// cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown()
		return err
	}

	a.logger.Info("application is running")
	<-ctx.Done()

	return a.Shutdown()
}

// Activity returns the activity log.
func (a *App) Activity() *activity.Log { return a.activity }

// Pool returns the sub-agent pool.
func (a *App) Pool() *pool.Pool { return a.pool }

// Orchestrator returns the autonomous loop.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Executor returns the task executor.
func (a *App) Executor() *executor.Executor { return a.executor }

// Scheduler returns the task scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Store returns the workspace store.
func (a *App) Store() *store.JSONLStore { return a.store }

// Registry returns the Prometheus registry, nil when metrics are disabled.
func (a *App) Registry() *prometheus.Registry { return a.registry }
