package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/agent/subagent"
	"github.com/aatumaykin/komorebi/internal/llm"
	"github.com/aatumaykin/komorebi/internal/scheduler"
	"github.com/aatumaykin/komorebi/internal/store"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	reqs  []Request
}

func (r *recorder) capability(name string) Capability {
	return func(_ context.Context, req Request) (*Artifact, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		r.reqs = append(r.reqs, req)
		return &Artifact{Content: name + " output", Metadata: map[string]any{"kind": name}}, nil
	}
}

func (r *recorder) all() Capabilities {
	return Capabilities{
		Art:      r.capability("art"),
		Code:     r.capability("code"),
		Research: r.capability("research"),
		Text:     r.capability("text"),
		Browser:  r.capability("browser"),
		Custom:   r.capability("custom"),
	}
}

func actions(entries []activity.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func TestExecute_Dispatch(t *testing.T) {
	tests := []struct {
		category   scheduler.Category
		capability string
		resultType string
	}{
		{scheduler.CategoryArt, "art", "image"},
		{scheduler.CategoryVideo, "art", "video"},
		{scheduler.CategoryCode, "code", "code"},
		{scheduler.CategoryResearch, "research", "research"},
		{scheduler.CategoryPhilosophy, "text", "philosophy"},
		{scheduler.CategoryBlog, "text", "blog"},
		{scheduler.CategoryBrowser, "browser", "browser"},
		{scheduler.CategoryMusic, "custom", "text"},
		{scheduler.CategoryGame, "custom", "text"},
		{scheduler.CategorySocial, "custom", "text"},
		{scheduler.CategoryCustom, "custom", "text"},
		{scheduler.Category("unknown"), "custom", "text"},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			rec := &recorder{}
			sink := activity.New(activity.Config{}, nil)
			e := New(rec.all(), sink, nil, nil)

			task := scheduler.Task{ID: "t1", Name: "job", Category: tt.category}
			result, err := e.Execute(context.Background(), task)
			require.NoError(t, err)

			assert.Equal(t, []string{tt.capability}, rec.calls)
			assert.Equal(t, tt.resultType, result.Type)
			assert.Equal(t, tt.capability+" output", result.Content)
			assert.Equal(t, "t1", result.Metadata["task_id"])
			assert.Equal(t, string(tt.category), result.Metadata["category"])

			assert.Equal(t, []string{"task_started", "task_completed"}, actions(sink.Recent(0)))
			thoughts := sink.Thoughts(0)
			require.Len(t, thoughts, 1)
			assert.Equal(t, activity.ThoughtPlan, thoughts[0].Kind)
		})
	}
}

func TestExecute_PromptFallback(t *testing.T) {
	tests := []struct {
		name string
		task scheduler.Task
		want string
	}{
		{"prompt", scheduler.Task{Name: "n", Description: "d", Prompt: "p"}, "p"},
		{"description", scheduler.Task{Name: "n", Description: "d"}, "d"},
		{"name", scheduler.Task{Name: "n"}, "n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			_, err := New(rec.all(), nil, nil, nil).Execute(context.Background(), tt.task)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.reqs[0].Prompt)
		})
	}
}

func TestExecute_SavesGalleryItem(t *testing.T) {
	rec := &recorder{}
	st := store.NewMemoryStore()
	e := New(rec.all(), nil, st, nil)

	_, err := e.Execute(context.Background(), scheduler.Task{ID: "t1", Name: "Sketch", Category: scheduler.CategoryArt})
	require.NoError(t, err)

	gallery := st.Gallery()
	require.Len(t, gallery, 1)
	assert.Equal(t, "image", gallery[0].Type)
	assert.Equal(t, "Sketch", gallery[0].Title)
	assert.Equal(t, "t1", gallery[0].TaskID)
	assert.Equal(t, "art", gallery[0].Category)
	assert.Equal(t, "image", gallery[0].Metadata["medium"])
}

func TestExecute_StoreFailureDoesNotFailTask(t *testing.T) {
	rec := &recorder{}
	st := store.NewMemoryStore()
	st.Err = errors.New("disk full")

	result, err := New(rec.all(), nil, st, nil).Execute(context.Background(), scheduler.Task{Name: "x", Category: scheduler.CategoryResearch})
	require.NoError(t, err)
	assert.Equal(t, "research output", result.Content)
}

func TestExecute_CapabilityErrorPropagates(t *testing.T) {
	boom := errors.New("model unavailable")
	caps := Capabilities{Code: func(context.Context, Request) (*Artifact, error) { return nil, boom }}
	sink := activity.New(activity.Config{}, nil)
	st := store.NewMemoryStore()

	_, err := New(caps, sink, st, nil).Execute(context.Background(), scheduler.Task{Name: "x", Category: scheduler.CategoryCode})
	require.ErrorIs(t, err, boom)

	entries := sink.Recent(0)
	assert.Equal(t, []string{"task_started", "task_failed"}, actions(entries))
	assert.Equal(t, activity.LevelError, entries[1].Level)
	assert.Empty(t, st.Gallery())
}

func TestExecute_MissingCapability(t *testing.T) {
	_, err := New(Capabilities{}, nil, nil, nil).Execute(context.Background(), scheduler.Task{Name: "x", Category: scheduler.CategoryBrowser})
	assert.ErrorIs(t, err, ErrNoCapability)
}

func TestExecute_NilArtifact(t *testing.T) {
	caps := Capabilities{Custom: func(context.Context, Request) (*Artifact, error) { return nil, nil }}
	_, err := New(caps, nil, nil, nil).Execute(context.Background(), scheduler.Task{Name: "x"})
	assert.Error(t, err)
}

func TestExecute_ResearchDelegation(t *testing.T) {
	rec := &recorder{}
	st := store.NewMemoryStore()
	var gotName, gotDescription string
	delegate := func(_ context.Context, name, description string) []subagent.Result {
		gotName, gotDescription = name, description
		return []subagent.Result{
			{Role: subagent.RoleResearcher, Success: true, Output: "three new papers"},
			{Role: subagent.RoleReviewer, Success: false, Error: "timeout"},
		}
	}

	e := New(rec.all(), nil, st, nil, WithDelegator(delegate))
	task := scheduler.Task{ID: "r1", Name: "Research AI", Description: "weekly", Category: scheduler.CategoryResearch}
	result, err := e.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "Research AI", gotName)
	assert.Equal(t, "weekly", gotDescription)
	// sub-agent work does not add capability calls
	assert.Equal(t, []string{"research"}, rec.calls)
	require.Len(t, rec.reqs, 1)
	assert.Equal(t, map[string]any{"findings_researcher": "three new papers"}, rec.reqs[0].Context)
	assert.Equal(t, 1, result.Metadata["sub_agents"])

	memories := st.Memories()
	require.Len(t, memories, 1)
	assert.Equal(t, store.LayerEpisodic, memories[0].Layer)
	assert.Equal(t, "task:r1", memories[0].Source)
	assert.Equal(t, "research output", memories[0].Content)
}

func TestNewCapabilities_UsesGenerator(t *testing.T) {
	var prompts []string
	var instructions []string
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
		prompts = append(prompts, prompt)
		instructions = append(instructions, opts.SystemInstruction)
		return "generated", nil
	})

	caps := NewCapabilities(gen, nil)
	assert.Nil(t, caps.Browser)

	art, err := caps.Art(context.Background(), Request{Prompt: "a fox", Medium: "video"})
	require.NoError(t, err)
	assert.Equal(t, "generated", art.Content)
	assert.Equal(t, "prompt", art.Metadata["kind"])
	assert.Equal(t, "Medium: video\n\na fox", prompts[0])
	assert.Equal(t, artInstruction, instructions[0])

	_, err = caps.Research(context.Background(), Request{Prompt: "AI", Context: map[string]any{"findings": "x"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompts[1], "# Task\n\nAI"))
	assert.Contains(t, prompts[1], "findings: x")
	assert.Contains(t, prompts[1], "[EXTERNAL_DATA:")
}

func TestNewCapabilities_GeneratorError(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string, llm.GenerateOptions) (string, error) {
		return "", llm.ErrEmptyResponse
	})
	_, err := NewCapabilities(gen, nil).Text(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

const testPage = `<!doctype html>
<html>
<head>
  <title> Komorebi Notes </title>
  <meta name="description" content="Light through leaves">
</head>
<body>
  <nav><a href="/">Home</a> | <a href="/about">About</a></nav>
  <h1>Sunlight</h1>
  <p>Sunlight filtering through <strong>trees</strong>.</p>
  <footer>copyright footer</footer>
</body>
</html>`

func TestFetcher_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	}))
	defer srv.Close()

	page, err := NewFetcher(BrowserConfig{UserAgent: "test-agent"}, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "Komorebi Notes", page.Title)
	assert.Equal(t, "Light through leaves", page.Description)
	assert.Contains(t, page.Markdown, "# Sunlight")
	assert.Contains(t, page.Markdown, "**trees**")
	assert.NotContains(t, page.Markdown, "copyright footer")
	assert.NotContains(t, page.Markdown, "About")
}

func TestFetcher_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  just text  ")
	}))
	defer srv.Close()

	page, err := NewFetcher(BrowserConfig{}, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "just text", page.Markdown)
	assert.Empty(t, page.Title)
}

func TestFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	f := NewFetcher(BrowserConfig{MaxResponseSize: 16}, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")

	_, err = f.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorContains(t, err, "exceeds 16 bytes")

	_, err = f.Fetch(context.Background(), "ftp://example.com")
	assert.Error(t, err)
}

func TestBrowserCapability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, testPage)
	}))
	defer srv.Close()

	var prompt string
	var opts llm.GenerateOptions
	gen := llm.GeneratorFunc(func(_ context.Context, p string, o llm.GenerateOptions) (string, error) {
		prompt, opts = p, o
		return "summary", nil
	})

	caps := NewCapabilities(gen, NewFetcher(BrowserConfig{}, nil))
	rec := &recorder{}
	caps.Art = rec.capability("art")
	e := New(caps, nil, nil, nil)

	task := scheduler.Task{
		Name:       "Read notes",
		Category:   scheduler.CategoryBrowser,
		Prompt:     "What is this page about?",
		Parameters: map[string]any{"url": srv.URL},
	}
	result, err := e.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "browser", result.Type)
	assert.Equal(t, "summary", result.Content)
	assert.Equal(t, srv.URL, result.Metadata["url"])
	assert.Equal(t, "Komorebi Notes", result.Metadata["title"])
	assert.True(t, strings.HasPrefix(prompt, "What is this page about?"))
	assert.Contains(t, prompt, "[EXTERNAL_DATA:")
	assert.Contains(t, opts.SystemInstruction, "untrusted")
}

func TestBrowserCapability_URLFromPrompt(t *testing.T) {
	assert.Equal(t, "https://example.com/a", targetURL(Request{Prompt: " https://example.com/a "}))
	assert.Equal(t, "", targetURL(Request{Prompt: "summarize the news"}))
	assert.Equal(t, "http://x.test", targetURL(Request{
		Prompt: "ignored",
		Task:   scheduler.Task{Parameters: map[string]any{"url": "http://x.test"}},
	}))

	gen := llm.GeneratorFunc(func(context.Context, string, llm.GenerateOptions) (string, error) { return "x", nil })
	_, err := NewCapabilities(gen, NewFetcher(BrowserConfig{}, nil)).Browser(context.Background(), Request{Prompt: "no url"})
	assert.ErrorContains(t, err, "no url")
}
