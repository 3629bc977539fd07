package app

import (
	"context"

	"github.com/aatumaykin/komorebi/internal/activity"
	"github.com/aatumaykin/komorebi/internal/orchestrator"
	"github.com/aatumaykin/komorebi/internal/scheduler"
)

const orchestratorSource = "orchestrator"

// systemContext is the orchestrator's view of the running system.
type systemContext struct {
	scheduler *scheduler.Scheduler
	activity  *activity.Log
}

func (c *systemContext) ScheduledTaskCount() int {
	return c.scheduler.TaskCount()
}

// AddScheduledTask turns an accepted proposal into an enabled task.
func (c *systemContext) AddScheduledTask(_ context.Context, p orchestrator.Proposal) error {
	category := scheduler.Category(p.Category)
	if !category.Valid() {
		category = scheduler.CategoryCustom
	}
	_, err := c.scheduler.AddTask(scheduler.Task{
		Name:        p.Name,
		Description: p.Description,
		Schedule:    p.Schedule,
		Category:    category,
		Enabled:     true,
		Prompt:      p.Prompt,
		Parameters:  p.Parameters,
	})
	return err
}

func (c *systemContext) LogActivity(action, details string) {
	c.activity.Record(orchestratorSource, action, details)
}

func (c *systemContext) AddThought(kind activity.ThoughtKind, content string) {
	c.activity.AddThought(kind, content, orchestratorSource)
}
