package probe

import (
	"context"

	"github.com/taskweave/taskweave/store"
)

// Check implements the full Process Probe contract (spec §4.2): it reads the
// task record, checks OS-level liveness via IsAlive, and self-corrects the
// store when the recorded PID is stale — patching status/pid and publishing
// a process_ended notice, the way original_source's check_task_activity folds
// the Redis write into the same call as the psutil check.
func (p *Prober) Check(ctx context.Context, st store.Client, taskID string) (alive bool, pid int, err error) {
	rec, ok, err := st.GetTask(ctx, taskID)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, 0, nil
	}
	if rec.PID == 0 {
		rec.Status = "stopped"
		if saveErr := st.SaveTask(ctx, rec); saveErr != nil {
			return false, 0, saveErr
		}
		_ = st.PublishTaskMessage(ctx, taskID, map[string]any{"type": "process_ended"})
		return false, 0, nil
	}

	ok2, err := p.IsAlive(ctx, rec.PID, taskID)
	if err != nil || !ok2 {
		rec.PID = 0
		rec.Status = "stopped"
		if saveErr := st.SaveTask(ctx, rec); saveErr != nil {
			return false, 0, saveErr
		}
		_ = st.PublishTaskMessage(ctx, taskID, map[string]any{"type": "process_ended"})
		return false, 0, nil
	}

	rec.Status = "running"
	if err := st.SaveTask(ctx, rec); err != nil {
		return false, 0, err
	}
	return true, rec.PID, nil
}
