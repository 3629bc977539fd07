package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/agent/subagent"
)

type fakeContext struct {
	mu        sync.Mutex
	count     int
	added     []Proposal
	addErr    error
	activity  []string
	thoughts  []activity.ThoughtKind
	contents  []string
	countHook func()
}

func (f *fakeContext) ScheduledTaskCount() int {
	if f.countHook != nil {
		f.countHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeContext) AddScheduledTask(_ context.Context, p Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, p)
	f.count++
	return nil
}

func (f *fakeContext) LogActivity(action, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, action)
}

func (f *fakeContext) AddThought(kind activity.ThoughtKind, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thoughts = append(f.thoughts, kind)
	f.contents = append(f.contents, content)
}

func (f *fakeContext) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

type fakeSpawner struct {
	cfgs     []subagent.Config
	contexts []map[string]any
}

func (s *fakeSpawner) SpawnParallel(_ context.Context, cfgs []subagent.Config, contexts []map[string]any) []subagent.Result {
	s.cfgs, s.contexts = cfgs, contexts
	out := make([]subagent.Result, len(cfgs))
	for i, c := range cfgs {
		out[i] = subagent.Result{Role: c.Role, Success: i == 0}
	}
	return out
}

func TestRunOnce_DefaultProposerOnEmptySchedule(t *testing.T) {
	o := New(Config{}, nil, nil)
	fc := &fakeContext{}
	o.SetContext(fc)

	added := o.RunOnce(context.Background())

	assert.Equal(t, 1, added)
	require.Len(t, fc.added, 1)
	assert.Equal(t, "research", fc.added[0].Category)
	assert.Equal(t, "0 */6 * * *", fc.added[0].Schedule)
	assert.Equal(t, []string{"task_proposed"}, fc.activity)
	// research tasks record the decomposition decision
	assert.Contains(t, fc.thoughts, activity.ThoughtDecision)
}

func TestRunOnce_DefaultProposerFullSchedule(t *testing.T) {
	o := New(Config{}, nil, nil)
	fc := &fakeContext{count: MinScheduledTasks}
	o.SetContext(fc)

	assert.Equal(t, 0, o.RunOnce(context.Background()))
	assert.Empty(t, fc.added)
}

func TestRunOnce_CapsProposals(t *testing.T) {
	proposer := func(context.Context, Context) ([]Proposal, error) {
		return []Proposal{
			{Name: "a", Schedule: "0 9 * * *", Category: "art"},
			{Name: "b", Schedule: "0 10 * * *", Category: "blog"},
			{Name: "c", Schedule: "0 11 * * *", Category: "code"},
		}, nil
	}
	o := New(Config{MaxProposalsPerRun: 2}, nil, nil, WithProposer(proposer))
	fc := &fakeContext{}
	o.SetContext(fc)

	assert.Equal(t, 2, o.RunOnce(context.Background()))
	assert.Len(t, fc.added, 2)
}

func TestRunOnce_ErrorsBecomeThoughts(t *testing.T) {
	tests := []struct {
		name     string
		proposer ProposeFunc
		addErr   error
	}{
		{
			name: "proposer error",
			proposer: func(context.Context, Context) ([]Proposal, error) {
				return nil, errors.New("model unavailable")
			},
		},
		{
			name: "proposer panic",
			proposer: func(context.Context, Context) ([]Proposal, error) {
				panic("nil map")
			},
		},
		{
			name:     "add error",
			proposer: DefaultProposer,
			addErr:   errors.New("invalid schedule"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(Config{}, nil, nil, WithProposer(tt.proposer))
			fc := &fakeContext{addErr: tt.addErr}
			o.SetContext(fc)

			var added int
			assert.NotPanics(t, func() { added = o.RunOnce(context.Background()) })
			assert.Equal(t, 0, added)
			assert.Contains(t, fc.thoughts, activity.ThoughtObservation)
		})
	}
}

func TestRunOnce_WithoutContext(t *testing.T) {
	o := New(Config{}, nil, nil)
	assert.Equal(t, 0, o.RunOnce(context.Background()))
}

func TestStartStop(t *testing.T) {
	o := New(Config{Interval: 10 * time.Millisecond}, nil, nil)

	assert.ErrorIs(t, o.Start(context.Background()), ErrNoContext)
	assert.False(t, o.IsRunning())

	fc := &fakeContext{}
	o.SetContext(fc)
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Start(context.Background()))
	assert.True(t, o.IsRunning())

	// first cycle runs immediately; later cycles see a growing schedule
	require.Eventually(t, func() bool { return fc.addedCount() == MinScheduledTasks }, time.Second, 5*time.Millisecond)

	o.Stop()
	o.Stop()
	assert.False(t, o.IsRunning())

	n := fc.addedCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, fc.addedCount())
}

func TestStart_StopsWithParentContext(t *testing.T) {
	o := New(Config{Interval: time.Hour}, nil, nil)
	calls := make(chan struct{}, 1)
	o.SetContext(&fakeContext{count: MinScheduledTasks, countHook: func() {
		select {
		case calls <- struct{}{}:
		default:
		}
	}})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Start(ctx))
	<-calls
	cancel()
	require.Eventually(t, func() bool { return !o.IsRunning() }, time.Second, 5*time.Millisecond)

	// a dead loop does not block a restart
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	require.NoError(t, o.Start(ctx2))
	assert.True(t, o.IsRunning())
	o.Stop()
	assert.False(t, o.IsRunning())
}

func TestDecomposeTask(t *testing.T) {
	d := DecomposeTask("Research AI trends", "find news")
	assert.True(t, d.ShouldDecompose)
	require.Len(t, d.SubTasks, 2)
	assert.Equal(t, subagent.RoleResearcher, d.SubTasks[0].Role)
	assert.Equal(t, subagent.RoleReviewer, d.SubTasks[1].Role)

	d = DecomposeTask("Generate art", "draw a cat")
	assert.False(t, d.ShouldDecompose)
	assert.NotNil(t, d.SubTasks)
	assert.Empty(t, d.SubTasks)

	assert.True(t, DecomposeTask("Weekly digest", "RESEARCH new papers").ShouldDecompose)
}

func TestSpawnSubAgentsForTask(t *testing.T) {
	sp := &fakeSpawner{}
	o := New(Config{UseSubAgents: true, MaxSubAgentsPerRun: 1}, sp, nil)
	fc := &fakeContext{}
	o.SetContext(fc)

	results := o.SpawnSubAgentsForTask(context.Background(), "Research AI", "latest")

	require.Len(t, results, 1)
	require.Len(t, sp.cfgs, 1)
	assert.Equal(t, subagent.RoleResearcher, sp.cfgs[0].Role)
	assert.Equal(t, "Research AI", sp.contexts[0]["task"])
	assert.Equal(t, []string{"sub_agents_spawning", "sub_agents_completed"}, fc.activity)
}

func TestSpawnSubAgentsForTask_Disabled(t *testing.T) {
	sp := &fakeSpawner{}

	o := New(Config{UseSubAgents: false}, sp, nil)
	assert.Nil(t, o.SpawnSubAgentsForTask(context.Background(), "Research AI", ""))

	o = New(Config{UseSubAgents: true}, sp, nil)
	assert.Nil(t, o.SpawnSubAgentsForTask(context.Background(), "Paint", "a sunset"))
	assert.Nil(t, sp.cfgs)
}
