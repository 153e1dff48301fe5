package launch

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/container"
)

// ContainerRuntime adapts a Docker container.Manager into the Launcher's
// exec func shape, running each task's runtime process inside its own
// container instead of a bare detached OS process. Selected per task via
// Task Record metadata (a task whose record requests container isolation
// gets this exec func; everything else keeps execRuntime), grounded on
// container/manager.go's Docker usage.
type ContainerRuntime struct {
	mgr        *container.Manager
	image      string
	entrypoint string
}

// NewContainerRuntime builds a ContainerRuntime. entrypoint is the task
// runtime binary path inside the container image; image is the container
// image to run it in (the image must already contain that binary).
func NewContainerRuntime(mgr *container.Manager, image, entrypoint string) *ContainerRuntime {
	return &ContainerRuntime{mgr: mgr, image: image, entrypoint: entrypoint}
}

// Available reports whether Docker is reachable, mirroring
// container.Manager.IsAvailable so callers can fall back to execRuntime.
func (r *ContainerRuntime) Available() bool {
	return r.mgr != nil && r.mgr.IsAvailable()
}

// ExecFunc returns the function to pass to Launcher.SetContainerExecFunc. The
// returned PID is the container's host-visible init PID (Docker reports
// this via inspect), which the Process Probe can check the same way it
// checks a bare os/exec process's PID: by reading /proc/<pid>/cmdline on
// the host and matching the task ID.
func (r *ContainerRuntime) ExecFunc() func(taskID string) (int, error) {
	return func(taskID string) (int, error) {
		ctx := context.Background()
		_, pid, err := r.mgr.StartTask(ctx, container.TaskContainerConfig{
			TaskID: taskID,
			Image:  r.image,
			Cmd:    []string{r.entrypoint, taskID},
		})
		if err != nil {
			return 0, fmt.Errorf("launch: start container for task %s: %w", taskID, err)
		}
		return pid, nil
	}
}

// Stop stops and removes a task's container. The Root Janitor does not call
// it; its sweep only corrects task records.
func (r *ContainerRuntime) Stop(ctx context.Context, taskID string) error {
	if err := r.mgr.StopTask(ctx, taskID); err != nil {
		return err
	}
	return r.mgr.RemoveTask(ctx, taskID)
}
