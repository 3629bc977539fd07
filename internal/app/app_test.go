package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/config"
	"github.com/aatumaykin/komorebi/internal/llm"
	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/notify"
	"github.com/aatumaykin/komorebi/internal/orchestrator"
	"github.com/aatumaykin/komorebi/internal/scheduler"
)

// testConfig returns a config with every background loop disabled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Workspace.Path = t.TempDir()
	cfg.Scheduler.Enabled = false
	cfg.Orchestrator.Enabled = false
	return cfg
}

func fixedGenerator(text string, err error) llm.TextGenerator {
	return llm.GeneratorFunc(func(context.Context, string, llm.GenerateOptions) (string, error) {
		return text, err
	})
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, params.Text)
	return &telego.Message{}, nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestInitialize_BuildsComponents(t *testing.T) {
	a := New(testConfig(t), logger.Discard())
	require.NoError(t, a.Initialize())
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.NotNil(t, a.Activity())
	assert.NotNil(t, a.Pool())
	assert.NotNil(t, a.Orchestrator())
	assert.NotNil(t, a.Executor())
	assert.NotNil(t, a.Scheduler())
	assert.NotNil(t, a.Store())
	assert.Nil(t, a.Registry())

	// second call is a no-op
	require.NoError(t, a.Initialize())
}

func TestInitialize_UnsupportedProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "zai"

	err := New(cfg, nil).Initialize()
	assert.ErrorContains(t, err, "unsupported LLM provider")
}

func TestInitialize_ImportsSeedFile(t *testing.T) {
	cfg := testConfig(t)
	seed := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`tasks:
  - id: morning-haiku
    name: Morning haiku
    schedule: "0 9 * * *"
    category: philosophy
  - name: Broken
    schedule: "not a schedule"
`), 0o644))
	cfg.Scheduler.SeedFile = seed

	a := New(cfg, nil)
	require.NoError(t, a.Initialize())

	tasks := a.Scheduler().Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "morning-haiku", tasks[0].ID)
	assert.Equal(t, scheduler.CategoryPhilosophy, tasks[0].Category)
	assert.True(t, tasks[0].Enabled)
}

func TestInitialize_MissingSeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")

	err := New(cfg, nil).Initialize()
	assert.ErrorContains(t, err, "failed to load seed file")
}

func TestSystemContext(t *testing.T) {
	a := New(testConfig(t), nil)
	require.NoError(t, a.Initialize())

	sc := &systemContext{scheduler: a.Scheduler(), activity: a.Activity()}
	assert.Equal(t, 0, sc.ScheduledTaskCount())

	require.NoError(t, sc.AddScheduledTask(context.Background(), orchestrator.Proposal{
		Name:     "Weekly essay",
		Schedule: "0 10 * * 1",
		Category: "philosophy",
		Prompt:   "Reflect on impermanence",
	}))
	require.NoError(t, sc.AddScheduledTask(context.Background(), orchestrator.Proposal{
		Name:     "Odd one",
		Schedule: "0 11 * * *",
		Category: "astrology",
	}))
	assert.Error(t, sc.AddScheduledTask(context.Background(), orchestrator.Proposal{
		Name:     "Broken",
		Schedule: "whenever",
	}))

	assert.Equal(t, 2, sc.ScheduledTaskCount())
	byName := map[string]scheduler.Task{}
	for _, task := range a.Scheduler().Tasks() {
		byName[task.Name] = task
	}
	assert.Equal(t, scheduler.CategoryPhilosophy, byName["Weekly essay"].Category)
	assert.Equal(t, "Reflect on impermanence", byName["Weekly essay"].Prompt)
	assert.True(t, byName["Weekly essay"].Enabled)
	assert.Equal(t, scheduler.CategoryCustom, byName["Odd one"].Category)

	sc.LogActivity("task_proposed", "Weekly essay")
	sc.AddThought(activity.ThoughtDecision, "scheduling an essay")

	entries := a.Activity().Recent(1)
	require.Len(t, entries, 1)
	assert.Equal(t, "task_proposed", entries[0].Action)
	assert.Equal(t, orchestratorSource, entries[0].Source)

	thoughts := a.Activity().Thoughts(1)
	require.Len(t, thoughts, 1)
	assert.Equal(t, orchestratorSource, thoughts[0].Source)
}

func TestRunNow_PersistsGalleryAndActivity(t *testing.T) {
	a := New(testConfig(t), nil, WithGenerator(fixedGenerator("A quiet essay.", nil)))
	require.NoError(t, a.Initialize())

	task, err := a.Scheduler().AddTask(scheduler.Task{
		Name:     "Essay",
		Schedule: "0 9 * * *",
		Category: scheduler.CategoryBlog,
		Enabled:  true,
	})
	require.NoError(t, err)

	exec, err := a.Scheduler().RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, scheduler.StatusComplete, exec.Status)
	assert.Equal(t, "A quiet essay.", exec.Result.Content)

	gallery, err := a.Store().Gallery()
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Equal(t, task.ID, gallery[0].TaskID)

	persisted, err := a.Store().Activity()
	require.NoError(t, err)
	var actions []string
	for _, e := range persisted {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "task_started")
	assert.Contains(t, actions, "task_completed")

	// tasks survive a restart of the whole application
	b := New(a.config, nil)
	require.NoError(t, b.Initialize())
	got, ok := b.Scheduler().GetTask(task.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, scheduler.StatusComplete, got.LastStatus)
}

func TestFailedExecutionIsNotified(t *testing.T) {
	sender := &recordingSender{}
	a := New(testConfig(t), nil,
		WithGenerator(fixedGenerator("", errors.New("model unavailable"))),
		WithNotifier(notify.New(sender, notify.Config{ChatID: 1}, nil)),
	)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown() })

	task, err := a.Scheduler().AddTask(scheduler.Task{
		Name:     "Essay",
		Schedule: "0 9 * * *",
		Category: scheduler.CategoryBlog,
		Enabled:  true,
	})
	require.NoError(t, err)

	exec, err := a.Scheduler().RunNow(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusError, exec.Status)

	require.Eventually(t, func() bool {
		for _, text := range sender.texts() {
			if strings.Contains(text, "task_failed") {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRun_StartsLoopsAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.CheckIntervalSeconds = 1
	cfg.Orchestrator.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"

	a := New(cfg, nil, WithGenerator(fixedGenerator("ok", nil)))
	require.NoError(t, a.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// the orchestrator runs a cycle right away and fills the empty schedule
	require.Eventually(t, func() bool {
		return a.Scheduler().TaskCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.Scheduler().IsRunning() && a.Orchestrator().IsRunning()
	}, time.Second, 10*time.Millisecond)
	assert.NotNil(t, a.Registry())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.False(t, a.Scheduler().IsRunning())
	assert.False(t, a.Orchestrator().IsRunning())
	assert.Equal(t, 0, a.Pool().Stats().ActiveCount)
}

func TestStart_RequiresInitialize(t *testing.T) {
	a := New(testConfig(t), nil)
	assert.Error(t, a.Start(context.Background()))
	assert.NoError(t, a.Shutdown())
}
