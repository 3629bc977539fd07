// Package metrics exports pool, scheduler and activity counters to
// Prometheus. Collectors are fed by subscribing to component events, so
// components never import this package.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/agent/pool"
	"github.com/aatumaykin/komorebi/internal/agent/subagent"
	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/scheduler"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "komorebi"

var durationBuckets = []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600}

// Metrics holds the registered collectors.
type Metrics struct {
	agentsActive      prometheus.Gauge
	agentsFinished    *prometheus.CounterVec
	agentDuration     *prometheus.HistogramVec
	agentsSpawned     *prometheus.CounterVec
	tasksScheduled    prometheus.Gauge
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	checksSkipped     prometheus.Counter
	activityEntries   *prometheus.CounterVec
}

// New creates and registers the collectors on reg. A nil reg means the
// default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		agentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_agents_active",
			Help:      "Number of sub-agents currently in the pool",
		}),
		agentsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_agents_spawned_total",
			Help:      "Sub-agents admitted to the pool",
		}, []string{"role"}),
		agentsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_agents_finished_total",
			Help:      "Sub-agents that reached a terminal state",
		}, []string{"role", "status"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_agent_duration_seconds",
			Help:      "Sub-agent lifetime from spawn to terminal state",
			Buckets:   durationBuckets,
		}, []string{"role"}),
		tasksScheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_tasks",
			Help:      "Number of scheduled tasks",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_executions_total",
			Help:      "Finished task executions",
		}, []string{"category", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_execution_duration_seconds",
			Help:      "Task execution duration",
			Buckets:   durationBuckets,
		}, []string{"category"}),
		checksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_checks_skipped_total",
			Help:      "Ticks skipped because an execution was in flight",
		}),
		activityEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_entries_total",
			Help:      "Activity log entries by level",
		}, []string{"level"}),
	}

	reg.MustRegister(
		m.agentsActive,
		m.agentsSpawned,
		m.agentsFinished,
		m.agentDuration,
		m.tasksScheduled,
		m.executions,
		m.executionDuration,
		m.checksSkipped,
		m.activityEntries,
	)

	return m
}

// WatchPool feeds pool collectors from p's events.
func (m *Metrics) WatchPool(p *pool.Pool) (unsubscribe func()) {
	m.agentsActive.Set(float64(p.Stats().ActiveCount))
	return p.OnEvent(func(e subagent.Event) {
		role := string(e.Agent.Role)
		switch e.Type {
		case subagent.EventSpawned:
			m.agentsSpawned.WithLabelValues(role).Inc()
		case subagent.EventCompleted, subagent.EventError:
			m.agentsFinished.WithLabelValues(role, string(e.Agent.Status)).Inc()
			if !e.Agent.CompletedAt.IsZero() {
				m.agentDuration.WithLabelValues(role).Observe(e.Agent.CompletedAt.Sub(e.Agent.StartedAt).Seconds())
			}
		}
		m.agentsActive.Set(float64(p.Stats().ActiveCount))
	})
}

// WatchScheduler feeds scheduler collectors from s's events.
func (m *Metrics) WatchScheduler(s *scheduler.Scheduler) (unsubscribe func()) {
	m.tasksScheduled.Set(float64(s.TaskCount()))
	return s.Subscribe(func(e scheduler.Event) {
		switch e.Type {
		case scheduler.EventTaskAdded, scheduler.EventTaskRemoved:
			m.tasksScheduled.Set(float64(s.TaskCount()))
		case scheduler.EventCheckSkipped:
			m.checksSkipped.Inc()
		case scheduler.EventExecutionFinished:
			if e.Execution == nil {
				return
			}
			category := string(e.Execution.Category)
			m.executions.WithLabelValues(category, string(e.Execution.Status)).Inc()
			m.executionDuration.WithLabelValues(category).Observe(e.Execution.Duration().Seconds())
		}
	})
}

// WatchActivity counts activity entries by level.
func (m *Metrics) WatchActivity(l *activity.Log) (unsubscribe func()) {
	return l.Subscribe(func(e activity.Entry) {
		m.activityEntries.WithLabelValues(string(e.Level)).Inc()
	})
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", logger.Field{Key: "addr", Value: addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
