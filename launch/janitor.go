package launch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/taskweave/taskweave/store"
)

// taskKeyLister is the narrow slice of store.Client the Janitor needs to
// list every task_data:* key.
type taskKeyLister interface {
	TaskKeys(ctx context.Context) ([]string, error)
}

// Checker performs the same self-correcting liveness check probe.Check
// does: if the task's recorded pid is no longer alive, it clears the
// store's status/pid fields and publishes process_ended.
type Checker func(ctx context.Context, taskID string) (alive bool, pid int, err error)

// Janitor is the Root Janitor: it mops up task records left marked
// "running" by a process that died without a chance to self-correct its own
// status, grounded on cleanup_task_statuses. It runs from `taskweave
// janitor` and, through engine.Options.Janitor, at the top of every
// iteration of a root task (one with no parent); child tasks never run it.
type Janitor struct {
	keys  taskKeyLister
	check Checker
}

// NewJanitor builds a Janitor. keys lists every task_data:* key (store.Client's
// TaskKeys); check is probe.Check bound to the same store.
func NewJanitor(keys taskKeyLister, check Checker) *Janitor {
	return &Janitor{keys: keys, check: check}
}

// Sweep runs one cleanup pass over every task key, grounded on
// cleanup_task_statuses: for each task, probe.Check self-corrects the
// store's status/pid fields if the recorded process is no longer alive.
func (j *Janitor) Sweep(ctx context.Context) (swept int, err error) {
	keys, err := j.keys.TaskKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("launch: janitor list task keys: %w", err)
	}
	for _, key := range keys {
		taskID := strings.TrimPrefix(key, store.TaskDataKey(""))
		if _, _, err := j.check(ctx, taskID); err != nil {
			slog.Warn("janitor sweep failed for task", "task_id", taskID, "error", err)
		}
	}
	slog.Info("janitor cleaned up task statuses", "count", len(keys))
	return len(keys), nil
}

// Schedule runs Sweep on a fixed cadence using robfig/cron, stopping when
// ctx is cancelled. It returns the cron.Cron so callers can inspect entries
// or stop it early.
func (j *Janitor) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := j.Sweep(ctx); err != nil {
			slog.Error("scheduled janitor sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("launch: schedule janitor: %w", err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}
