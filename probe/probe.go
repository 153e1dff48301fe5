// Package probe implements the Process Probe: a liveness check that looks
// past a bare PID to confirm the process running under it is actually the
// task runtime we expect, by matching both the runtime entrypoint and the
// task ID in its command line — the same defense original_source's
// check_task_activity gets almost for free from psutil.Process(pid), and
// which Go has to read out of /proc itself since no process-inspection
// library appears anywhere in the example pack.
package probe

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Prober checks whether a task's OS process is still alive and still
// running the expected task.
type Prober struct {
	// Entrypoint is the substring a live task process's command line must
	// contain — typically the runtime binary name, e.g. "taskweave-runtime".
	Entrypoint string
}

// New returns a Prober configured with the task runtime's entrypoint name.
func New(entrypoint string) *Prober {
	return &Prober{Entrypoint: entrypoint}
}

// IsAlive reports whether pid names a running process whose command line
// contains both the configured entrypoint and taskID. A PID that has been
// recycled by an unrelated process must not be mistaken for the task still
// running — that's the entire reason this checks the command line instead
// of just os.FindProcess succeeding.
func (p *Prober) IsAlive(ctx context.Context, pid int, taskID string) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	cmdline, err := readCmdline(pid)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("probe: read cmdline for pid %d: %w", pid, err)
	}

	return strings.Contains(cmdline, p.Entrypoint) && strings.Contains(cmdline, taskID), nil
}
