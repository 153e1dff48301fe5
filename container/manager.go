package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	DefaultNetworkName = "taskweave-network"
	LabelTask          = "taskweave.task"
	LabelManagedBy     = "taskweave.managed-by"
	DefaultImage       = "golang:1.22-bookworm"
	containerPrefix    = "taskweave-task-"
)

// Manager handles Docker container operations for task runtimes. A container
// here hosts exactly one task runtime process for the lifetime of that
// task's run, the containerized counterpart to execRuntime's detached
// os/exec process — adapted from a long-lived per-project sandbox (its
// original shape kept each project's container running indefinitely behind
// `tail -f /dev/null` and used Exec to drive work inside it) into a
// short-lived per-task one (the container's entrypoint IS the task run, and
// exiting the runtime exits the container).
type Manager struct {
	client      *client.Client
	baseDir     string
	networkName string
	defaultImg  string
	mu          sync.RWMutex
	available   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNetworkName sets a custom Docker network name.
func WithNetworkName(name string) ManagerOption {
	return func(m *Manager) {
		m.networkName = name
	}
}

// WithDefaultImage sets the default container image.
func WithDefaultImage(img string) ManagerOption {
	return func(m *Manager) {
		m.defaultImg = img
	}
}

// NewManager creates a new container manager.
// If Docker is unavailable, it returns a Manager with available=false.
func NewManager(baseDir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		baseDir:     baseDir,
		networkName: DefaultNetworkName,
		defaultImg:  DefaultImage,
		available:   false,
	}

	for _, opt := range opts {
		opt(m)
	}

	// Try to create Docker client
	cli, err := createDockerClient()
	if err != nil {
		return m, nil
	}

	// Check if Docker is actually available
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = cli.Ping(ctx)
	if err != nil {
		cli.Close()
		return m, nil
	}

	m.client = cli
	m.available = true

	// Ensure network exists
	if err := m.ensureNetwork(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	return m, nil
}

// createDockerClient creates a Docker client, trying multiple socket locations
// for compatibility with Docker Desktop on macOS.
func createDockerClient() (*client.Client, error) {
	// First try with environment settings (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	// Try common Docker Desktop socket locations
	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                               // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

// IsAvailable returns whether Docker is available.
func (m *Manager) IsAvailable() bool {
	return m.available
}

// ensureNetwork creates the manager's network if it doesn't exist.
func (m *Manager) ensureNetwork(ctx context.Context) error {
	if !m.available {
		return nil
	}

	networks, err := m.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", m.networkName)),
	})
	if err != nil {
		return err
	}

	if len(networks) > 0 {
		return nil
	}

	_, err = m.client.NetworkCreate(ctx, m.networkName, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{
			LabelManagedBy: "taskweave",
		},
	})
	return err
}

// TaskContainerConfig holds configuration for a task's container.
type TaskContainerConfig struct {
	TaskID  string
	Image   string
	WorkDir string
	Env     []string
	// Cmd is the container's entrypoint command, normally the task runtime
	// binary invoked with the task ID, mirroring execRuntime's
	// exec.Command(l.entrypoint, taskID).
	Cmd []string
}

// StartTask creates and starts a container running a task's runtime
// process, returning the container ID and the host-visible PID of its init
// process (reported by Docker's inspect, since the container runs in the
// host PID namespace's child namespace but its process is still a real host
// process the Process Probe can read /proc/<pid>/cmdline for). The
// container is not restarted on exit: a task runtime that exits has
// finished its run, the same as execRuntime's detached process exiting.
func (m *Manager) StartTask(ctx context.Context, cfg TaskContainerConfig) (containerID string, hostPID int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return "", 0, fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + cfg.TaskID

	if existing, err := m.getContainer(ctx, containerName); err == nil && existing != "" {
		return "", 0, fmt.Errorf("container already running for task %s", cfg.TaskID)
	}

	img := cfg.Image
	if img == "" {
		img = m.defaultImg
	}

	if err := m.ensureImage(ctx, img); err != nil {
		return "", 0, fmt.Errorf("failed to pull image: %w", err)
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(m.baseDir, "taskweave.work", "tasks", cfg.TaskID)
	}
	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve task work dir: %w", err)
	}
	if err := os.MkdirAll(absWorkDir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create task work dir: %w", err)
	}

	containerCfg := &container.Config{
		Image:      img,
		WorkingDir: "/workspace",
		Env:        cfg.Env,
		Labels: map[string]string{
			LabelTask:      cfg.TaskID,
			LabelManagedBy: "taskweave",
		},
		Cmd: cfg.Cmd,
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: absWorkDir,
				Target: "/workspace",
			},
		},
		AutoRemove:  true,
		NetworkMode: "host",
	}

	var networkCfg *network.NetworkingConfig

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, containerName)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", 0, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := m.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return resp.ID, 0, fmt.Errorf("failed to inspect started container: %w", err)
	}

	return resp.ID, inspect.State.Pid, nil
}

// StopTask stops a task's container.
func (m *Manager) StopTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + taskID
	containerID, err := m.getContainer(ctx, containerName)
	if err != nil {
		return err
	}

	timeout := 10
	return m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
}

// RemoveTask stops and removes a task's container.
func (m *Manager) RemoveTask(ctx context.Context, taskID string) error {
	if !m.available {
		return fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + taskID

	m.mu.Lock()
	defer m.mu.Unlock()

	containerID, err := m.getContainer(ctx, containerName)
	if err != nil {
		return nil // Container doesn't exist, that's fine
	}

	timeout := 5
	_ = m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})

	return m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs an additional command inside a still-running task container.
// The bash tool does not use it: bash commands always run in the task's own
// process.
func (m *Manager) Exec(ctx context.Context, taskID string, command []string, workDir string) (*ExecResult, error) {
	if !m.available {
		return nil, fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + taskID

	m.mu.RLock()
	containerID, err := m.getContainer(ctx, containerName)
	m.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("no running container for task %s: %w", taskID, err)
	}

	if workDir == "" {
		workDir = "/workspace"
	}

	execCfg := container.ExecOptions{
		Cmd:          command,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := m.client.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := m.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr strings.Builder
	_, err = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	inspectResp, err := m.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// GetLogs returns logs from a task's container.
func (m *Manager) GetLogs(ctx context.Context, taskID string, tail int) (string, error) {
	if !m.available {
		return "", fmt.Errorf("docker not available")
	}

	containerName := containerPrefix + taskID

	m.mu.RLock()
	containerID, err := m.getContainer(ctx, containerName)
	m.mu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("task container not found: %w", err)
	}

	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	}

	reader, err := m.client.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var output strings.Builder
	_, err = stdcopy.StdCopy(&output, &output, reader)
	if err != nil && err != io.EOF {
		return "", err
	}

	return output.String(), nil
}

// TaskStatus holds the status of a task's container.
type TaskStatus struct {
	ContainerID string
	Running     bool
	Image       string
	Created     time.Time
}

// GetTaskStatus returns the status of a task's container.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	if !m.available {
		return &TaskStatus{Running: false}, nil
	}

	containerName := containerPrefix + taskID

	m.mu.RLock()
	defer m.mu.RUnlock()

	containerID, err := m.getContainer(ctx, containerName)
	if err != nil {
		return &TaskStatus{Running: false}, nil
	}

	inspect, err := m.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return &TaskStatus{Running: false}, nil
	}

	created, _ := time.Parse(time.RFC3339Nano, inspect.Created)

	return &TaskStatus{
		ContainerID: containerID[:12],
		Running:     inspect.State.Running,
		Image:       inspect.Config.Image,
		Created:     created,
	}, nil
}

// ListTaskContainers returns the task IDs of all taskweave-managed
// containers. The Root Janitor does not call it; its sweep only corrects
// task records, not containers.
func (m *Manager) ListTaskContainers(ctx context.Context) ([]string, error) {
	if !m.available {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"=taskweave"),
		),
	})
	if err != nil {
		return nil, err
	}

	var taskIDs []string
	for _, c := range containers {
		if taskID, ok := c.Labels[LabelTask]; ok {
			taskIDs = append(taskIDs, taskID)
		}
	}
	return taskIDs, nil
}

// getContainer finds a container by name.
func (m *Manager) getContainer(ctx context.Context, name string) (string, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", name),
		),
	})
	if err != nil {
		return "", err
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}

	return "", fmt.Errorf("container not found: %s", name)
}

// ensureImage pulls an image if not present locally.
func (m *Manager) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := m.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil // Image exists
	}

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
