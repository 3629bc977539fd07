package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aatumaykin/komorebi/internal/agent/subagent"
)

// MinScheduledTasks is the schedule size below which DefaultProposer
// suggests a new task.
const MinScheduledTasks = 3

// Decomposition is the result of DecomposeTask.
type Decomposition struct {
	SubTasks        []subagent.Config
	ShouldDecompose bool
}

// DecomposeTask splits research-style tasks into a gatherer and a reviewer.
// A task qualifies when its name or description mentions "research" in
// any case; everything else stays whole.
func DecomposeTask(name, description string) Decomposition {
	if !strings.Contains(strings.ToLower(name+" "+description), "research") {
		return Decomposition{SubTasks: []subagent.Config{}}
	}

	topic := name
	if description != "" {
		topic = name + ": " + description
	}

	return Decomposition{
		ShouldDecompose: true,
		SubTasks: []subagent.Config{
			{
				Name: "Gatherer",
				Role: subagent.RoleResearcher,
				Task: fmt.Sprintf("Gather current information, sources and notable developments on %s", topic),
			},
			{
				Name: "Analyzer",
				Role: subagent.RoleReviewer,
				Task: fmt.Sprintf("Analyze what is known about %s, identify the key insights and summarize them", topic),
			},
		},
	}
}

// DefaultProposer proposes a recurring research task while the schedule
// holds fewer than MinScheduledTasks tasks.
func DefaultProposer(_ context.Context, c Context) ([]Proposal, error) {
	if c.ScheduledTaskCount() >= MinScheduledTasks {
		return nil, nil
	}
	return []Proposal{{
		Name:        "Research emerging ideas",
		Description: "Survey recent developments in AI, art and technology and write up the most interesting findings",
		Schedule:    "0 */6 * * *",
		Category:    "research",
		Reason:      "the schedule is nearly empty",
	}}, nil
}

func rolesOf(cfgs []subagent.Config) string {
	roles := make([]string, len(cfgs))
	for i, c := range cfgs {
		roles[i] = string(c.Role)
	}
	return strings.Join(roles, ", ")
}
