package container

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

// These tests run without a real Docker daemon, so they only exercise the
// graceful-degradation path: NewManager must not fail when Docker can't be
// reached, and every operation must report "docker not available" instead
// of panicking on a nil client.
func TestNewManagerDegradesGracefullyWithoutDocker(t *testing.T) {
	m, err := NewManager(t.TempDir())
	assert.NilError(t, err)
	assert.Assert(t, m != nil)
}

func TestStartTaskFailsCleanlyWhenDockerUnavailable(t *testing.T) {
	m := &Manager{baseDir: t.TempDir(), available: false}

	_, _, err := m.StartTask(context.Background(), TaskContainerConfig{
		TaskID: "conversation_abc123",
		Cmd:    []string{"taskweave-runtime", "conversation_abc123"},
	})
	assert.ErrorContains(t, err, "docker not available")
}

func TestGetTaskStatusReportsNotRunningWhenDockerUnavailable(t *testing.T) {
	m := &Manager{available: false}

	status, err := m.GetTaskStatus(context.Background(), "conversation_abc123")
	assert.NilError(t, err)
	assert.Assert(t, !status.Running)
}

func TestListTaskContainersReturnsNilWhenDockerUnavailable(t *testing.T) {
	m := &Manager{available: false}

	ids, err := m.ListTaskContainers(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, ids == nil)
}
