package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/aatumaykin/komorebi/internal/agent/sanitizer"
	"github.com/aatumaykin/komorebi/internal/llm"
)

// EventType is the kind of lifecycle notification.
type EventType string

const (
	EventSpawned   EventType = "spawned"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// Event is emitted on every lifecycle step.
type Event struct {
	Type      EventType `json:"type"`
	Agent     Info      `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFunc receives lifecycle events. It may be called from several
// goroutines when agents run in parallel.
type EventFunc func(Event)

// Result is the outcome of Execute.
type Result struct {
	AgentID  string        `json:"agent_id"`
	Role     Role          `json:"role"`
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Progress checkpoints reported around the generation call.
const (
	ProgressStarted   = 25
	ProgressGenerated = 75
)

var validator = sanitizer.New(0)

// Execute runs agent through its lifecycle and always returns a Result.
// Generation failures are recorded on the agent, never returned or panicked.
//
// If the agent reaches a terminal state from outside while the generation
// call is in flight (for example a pool cancel), the late outcome is
// dropped and the returned Result reflects the recorded terminal state.
func Execute(ctx context.Context, agent *SubAgent, gen llm.TextGenerator, taskContext map[string]any, onEvent EventFunc) (res Result) {
	started := time.Now()
	emit := func(t EventType) {
		if onEvent != nil {
			onEvent(Event{Type: t, Agent: agent.Info(), Timestamp: time.Now()})
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if agent.Fail(fmt.Sprintf("panic: %v", r)) {
				emit(EventError)
			}
		}
		res = resultOf(agent.Info(), time.Since(started))
	}()

	emit(EventSpawned)

	if !agent.MarkWorking() {
		return
	}
	if agent.SetProgress(ProgressStarted) {
		emit(EventProgress)
	}

	if timeout := agent.Info().Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	info := agent.Info()
	output, err := gen.Generate(ctx, BuildTaskPrompt(info.Task, taskContext), llm.GenerateOptions{
		SystemInstruction: SystemPrompt(info.Role),
	})
	if err != nil {
		if agent.Fail(err.Error()) {
			emit(EventError)
		}
		return
	}

	if agent.SetProgress(ProgressGenerated) {
		emit(EventProgress)
	}
	if agent.Complete(output) {
		emit(EventCompleted)
	}
	return
}

func resultOf(info Info, d time.Duration) Result {
	r := Result{
		AgentID:  info.ID,
		Role:     info.Role,
		Success:  info.Status == StatusComplete,
		Duration: d,
	}
	if r.Success {
		r.Output = info.Result
	} else {
		r.Error = info.Error
	}
	return r
}

// BuildTaskPrompt combines the task with the rendered context.
func BuildTaskPrompt(task string, taskContext map[string]any) string {
	var sb strings.Builder
	sb.WriteString("# Task\n\n")
	sb.WriteString(task)

	if rendered := RenderContext(taskContext); rendered != "" {
		sb.WriteString("\n\n# Context\n\n")
		sb.WriteString(sanitizer.WrapExternal(rendered))
		sb.WriteString("\n\n")
		sb.WriteString(sanitizer.UntrustedNotice)
	}
	return sb.String()
}

// RenderContext renders a context bag as "key: value" lines with keys
// sorted. Strings are used as-is, maps and slices as JSON, everything
// else through fmt. Each value is screened for prompt injection.
func RenderContext(taskContext map[string]any) string {
	if len(taskContext) == 0 {
		return ""
	}

	keys := make([]string, 0, len(taskContext))
	for k := range taskContext {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+validator.Screen(stringify(taskContext[k])))
	}
	return strings.Join(lines, "\n")
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}
