package launch

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/taskweave/taskweave/container"
)

func TestContainerRuntimeAvailableReflectsDockerReachability(t *testing.T) {
	mgr, err := container.NewManager(t.TempDir())
	assert.NilError(t, err)

	rt := NewContainerRuntime(mgr, "golang:1.22-bookworm", "taskweave-runtime")
	// No Docker daemon in this test environment, so the manager degrades.
	assert.Assert(t, !rt.Available())
}

func TestContainerRuntimeExecFuncPropagatesStartError(t *testing.T) {
	mgr, err := container.NewManager(t.TempDir())
	assert.NilError(t, err)

	rt := NewContainerRuntime(mgr, "golang:1.22-bookworm", "taskweave-runtime")
	_, err = rt.ExecFunc()("conversation_abc123")
	assert.ErrorContains(t, err, "docker not available")
}
