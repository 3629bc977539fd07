package app

import (
	"fmt"
	"time"

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
	"github.com/aatumaykin/komorebi/internal/retry"
	"github.com/aatumaykin/komorebi/internal/scheduler"
	"github.com/aatumaykin/komorebi/internal/store"
	"github.com/aatumaykin/komorebi/internal/workspace"
)

// Initialize builds all components without starting any background work.
// The order matters: the executor delegates to the orchestrator, the
// scheduler runs the executor, and the orchestrator schedules through the
// scheduler.
func (a *App) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}
	cfg := a.config

	// 1. Workspace
	ws := workspace.New(cfg.Workspace.Path)
	if err := ws.EnsureLayout(); err != nil {
		return err
	}

	// 2. Activity log and its persistence
	a.activity = activity.New(activity.Config{
		Capacity:         cfg.Activity.Capacity,
		ThoughtsCapacity: cfg.Activity.ThoughtsCapacity,
	}, a.logger.Named("activity"))
	a.store = store.NewJSONLStore(ws.Path(), a.logger.Named("store"))
	a.unsubscribe = append(a.unsubscribe, store.Recorder(a.activity, a.store, a.logger.Named("store")))

	// 3. Text generation
	if a.generator == nil {
		gen, err := buildGenerator(cfg, a.logger.Named("llm"))
		if err != nil {
			return err
		}
		a.generator = gen
	}

	// 4. Sub-agent pool
	p, err := pool.New(pool.Config{
		MaxAgents:             cfg.Pool.MaxAgents,
		DefaultTimeout:        cfg.PoolTimeout(),
		AllowParallelSameRole: cfg.Pool.AllowParallelSameRole,
		HistorySize:           cfg.Pool.HistorySize,
	}, a.generator, a.logger.Named("pool"))
	if err != nil {
		return fmt.Errorf("failed to create agent pool: %w", err)
	}
	a.pool = p

	// 5. Orchestrator; its context is attached once the scheduler exists
	a.orchestrator = orchestrator.New(orchestrator.Config{
		Interval:           cfg.OrchestratorInterval(),
		MaxProposalsPerRun: cfg.Orchestrator.MaxProposalsPerRun,
		UseSubAgents:       cfg.Orchestrator.UseSubAgents,
		MaxSubAgentsPerRun: cfg.Orchestrator.MaxSubAgentsPerRun,
	}, a.pool, a.logger.Named("orchestrator"))

	// 6. Executor
	fetcher := executor.NewFetcher(executor.BrowserConfig{
		Timeout:         time.Duration(cfg.Browser.TimeoutSeconds) * time.Second,
		MaxResponseSize: cfg.Browser.MaxResponseSize,
		UserAgent:       cfg.Browser.UserAgent,
	}, a.logger.Named("browser"))
	a.executor = executor.New(
		executor.NewCapabilities(a.generator, fetcher),
		a.activity,
		a.store,
		a.logger.Named("executor"),
		executor.WithDelegator(a.orchestrator.SpawnSubAgentsForTask),
	)

	// 7. Scheduler
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	schedulerLog := a.logger.Named("scheduler")
	a.scheduler = scheduler.New(scheduler.Config{
		CheckInterval: cfg.SchedulerCheckInterval(),
		HistorySize:   cfg.Scheduler.HistorySize,
		Location:      loc,
	}, a.executor, schedulerLog,
		scheduler.WithStorage(scheduler.NewStorage(ws.Path(), schedulerLog)))

	if cfg.Scheduler.SeedFile != "" {
		if err := a.importSeed(cfg.Scheduler.SeedFile); err != nil {
			return err
		}
	}

	a.orchestrator.SetContext(&systemContext{
		scheduler: a.scheduler,
		activity:  a.activity,
	})

	// 8. Metrics
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New(cfg.Metrics.Namespace, a.registry)
		a.unsubscribe = append(a.unsubscribe,
			a.metrics.WatchPool(a.pool),
			a.metrics.WatchScheduler(a.scheduler),
			a.metrics.WatchActivity(a.activity),
		)
	}

	// 9. Notifications
	if a.notifier == nil && cfg.Notify.Telegram.Enabled {
		n, err := notify.NewTelegram(notify.Config{
			Token:    cfg.Notify.Telegram.Token,
			ChatID:   cfg.Notify.Telegram.ChatID,
			MinLevel: activity.Level(cfg.Notify.Telegram.MinLevel),
		}, a.logger.Named("notify"))
		if err != nil {
			return err
		}
		a.notifier = n
	}
	if a.notifier != nil {
		a.unsubscribe = append(a.unsubscribe, a.notifier.Attach(a.activity))
	}

	a.initialized = true
	a.logger.Info("application initialized",
		logger.Field{Key: "workspace", Value: ws.Path()},
		logger.Field{Key: "llm_provider", Value: cfg.LLM.Provider},
		logger.Field{Key: "tasks", Value: a.scheduler.TaskCount()})
	return nil
}

func (a *App) importSeed(path string) error {
	tasks, err := scheduler.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("failed to load seed file: %w", err)
	}
	added, err := a.scheduler.ImportSeed(tasks)
	if err != nil {
		a.logger.Warn("some seed tasks were rejected", logger.Field{Key: "error", Value: err.Error()})
	}
	a.logger.Info("seed tasks imported",
		logger.Field{Key: "path", Value: path},
		logger.Field{Key: "added", Value: added})
	return nil
}

// buildProvider selects the chat provider named in [llm].
func buildProvider(cfg *config.Config, log *logger.Logger) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLMTimeout(),
		}, log), nil
	case "mock":
		if len(cfg.LLM.MockResponses) == 0 {
			return llm.NewEchoProvider(), nil
		}
		return llm.NewMockProvider(llm.MockConfig{
			Mode:      llm.MockModeFixtures,
			Responses: cfg.LLM.MockResponses,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

func buildGenerator(cfg *config.Config, log *logger.Logger) (*llm.Generator, error) {
	provider, err := buildProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	var limiter *llm.TokenBucketRateLimiter
	if cfg.LLM.RateLimit.Enabled {
		limiter = llm.NewTokenBucketRateLimiter(
			cfg.LLM.RateLimit.Capacity,
			time.Duration(cfg.LLM.RateLimit.RefillIntervalMs)*time.Millisecond,
			cfg.LLM.RateLimit.RefillAmount,
		)
	}

	log.Info("LLM provider initialized", logger.Field{Key: "provider", Value: cfg.LLM.Provider})
	return llm.NewGenerator(provider, llm.GeneratorConfig{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Retry: retry.Config{
			MaxAttempts:    cfg.LLM.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.LLM.Retry.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.LLM.Retry.MaxBackoffMs) * time.Millisecond,
		},
		RateLimiter: limiter,
	}, log), nil
}
