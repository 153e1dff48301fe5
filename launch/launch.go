// Package launch implements the Task Launcher & Lifecycle: spawning a new
// root or child task, reactivating a stopped one, and queuing a message for
// a task with auto-launch if it isn't currently running.
//
// Grounded on orchestrator.go's Spawn (capacity check, registration) and
// directly on original_source/utils.py's launch_task_agent/
// queue_message_for_task, which this package follows step for step, real OS
// process spawning substituting for launch_task_agent's
// subprocess.Popen(..., preexec_fn=os.setsid).
package launch

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/store"
)

// ErrMaxTasksReached is returned when the launcher's configured concurrent
// task ceiling (spec §5's resource bound) would be exceeded.
var ErrMaxTasksReached = fmt.Errorf("launch: max concurrent tasks reached")

// Prober is the narrow liveness check the launcher needs.
type Prober interface {
	IsAlive(ctx context.Context, pid int, taskID string) (bool, error)
}

// DefaultMaxIterations matches original_source's run_agent default.
const DefaultMaxIterations = 250

// Options configures a Launch call.
type Options struct {
	// TaskID resumes an existing task when set; otherwise one is generated.
	TaskID string
	// ParentTaskID, if set, makes this a child task.
	ParentTaskID string
	// BaseName names a new child task (required when ParentTaskID is set
	// and TaskID is not).
	BaseName string
	// ModelARN is the resolved Bedrock model identifier.
	ModelARN string
	// EnableRecursion controls whether spawn_task is available to this task.
	EnableRecursion bool
	// MaxIterations bounds the task's iteration loop; DefaultMaxIterations
	// if zero.
	MaxIterations int
	// Messages are queued as the task's initial input.
	Messages []string
	// StartProcess controls whether a real OS process is spawned once
	// messages are queued (false is used by tests and dry-run launches).
	StartProcess bool
	// Isolation requests a non-default runtime for a new task's process,
	// e.g. "container". Ignored when resuming an existing task, whose
	// stored Isolation governs instead.
	Isolation string
}

// Result is what a successful Launch returns.
type Result struct {
	TaskID string
	PID    int
	// AlreadyRunning is true when Launch found the task already alive and
	// did nothing further, the way launch_task_agent's "False launch"
	// branch does.
	AlreadyRunning bool
}

// Launcher is the Task Launcher.
type Launcher struct {
	store      store.Client
	prober     Prober
	entrypoint string // path to the task runtime binary, e.g. "taskweave-runtime"
	workDir    string

	mu           sync.Mutex
	maxTasks     int
	runningCount func() int

	// exec is overridden in tests to avoid spawning real processes.
	exec func(taskID string) (pid int, err error)
	// containerExec starts a task's runtime inside a container instead,
	// used when the task's record (or, for a brand new task, its Options)
	// requests Isolation == "container". Nil when no ContainerRuntime has
	// been configured, the same as Docker being unavailable.
	containerExec func(taskID string) (pid int, err error)
}

// New builds a Launcher. entrypoint is the runtime binary exec'd for each
// spawned task (its command line must contain taskID, per the Process
// Probe's contract).
func New(st store.Client, prober Prober, entrypoint, workDir string, maxTasks int) *Launcher {
	l := &Launcher{
		store:      st,
		prober:     prober,
		entrypoint: entrypoint,
		workDir:    workDir,
		maxTasks:   maxTasks,
	}
	l.exec = l.execRuntime
	return l
}

// Launch creates (or reactivates) a task and, once its initial messages are
// queued, starts its runtime process. Grounded on launch_task_agent.
func (l *Launcher) Launch(ctx context.Context, opts Options) (*Result, error) {
	taskID := opts.TaskID
	if taskID != "" {
		rec, ok, err := l.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("launch: get task %s: %w", taskID, err)
		}
		if ok && rec.PID != 0 {
			alive, err := l.prober.IsAlive(ctx, rec.PID, taskID)
			if err != nil {
				return nil, fmt.Errorf("launch: probe %s: %w", taskID, err)
			}
			if alive {
				return &Result{TaskID: taskID, PID: rec.PID, AlreadyRunning: true}, nil
			}
		}
	} else {
		id, err := GenerateTaskID(opts.ParentTaskID, opts.BaseName)
		if err != nil {
			return nil, err
		}
		taskID = id
	}

	if err := l.checkCapacity(ctx); err != nil {
		return nil, err
	}

	_, hasConversation, err := l.store.GetConversation(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("launch: get conversation %s: %w", taskID, err)
	}

	if !hasConversation {
		if err := l.createTask(ctx, taskID, opts); err != nil {
			return nil, err
		}
	}

	for _, msg := range opts.Messages {
		env := store.Envelope{Type: store.EnvelopeUser, Content: msg}
		if err := l.store.Enqueue(ctx, taskID, env); err != nil {
			return nil, fmt.Errorf("launch: enqueue initial message for %s: %w", taskID, err)
		}
	}

	envs, err := l.store.DrainQueue(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("launch: peek queue %s: %w", taskID, err)
	}
	for _, env := range envs {
		if err := l.store.Enqueue(ctx, taskID, env); err != nil {
			return nil, fmt.Errorf("launch: restore queue %s: %w", taskID, err)
		}
	}

	result := &Result{TaskID: taskID}
	if opts.StartProcess && len(envs) > 0 {
		isolation := opts.Isolation
		if rec, ok, err := l.store.GetTask(ctx, taskID); err == nil && ok && rec.Isolation != "" {
			isolation = rec.Isolation
		}
		pid, err := l.execFuncFor(isolation)(taskID)
		if err != nil {
			return nil, fmt.Errorf("launch: start process for %s: %w", taskID, err)
		}
		rec, ok, err := l.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if ok {
			rec.PID = pid
			rec.Status = "running"
			rec.ProcessStartedAt = time.Now()
			if err := l.store.SaveTask(ctx, rec); err != nil {
				return nil, err
			}
		}
		result.PID = pid
	}
	return result, nil
}

func (l *Launcher) createTask(ctx context.Context, taskID string, opts Options) error {
	maxIterations := opts.MaxIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxIterations
	}

	rec := &store.TaskRecord{
		TaskID:             taskID,
		ParentTaskID:       opts.ParentTaskID,
		Model:              opts.ModelARN,
		StaticSystemPrompt: engine.BuildStaticSystemPrompt(opts.ParentTaskID),
		EnableRecursion:    opts.EnableRecursion,
		Isolation:          opts.Isolation,
		Status:             "stopped",
		MaxIterations:      maxIterations,
		Command:            fmt.Sprintf("%s %s", l.entrypoint, taskID),
		CreatedAt:          time.Now(),
	}
	if err := l.store.SaveTask(ctx, rec); err != nil {
		return fmt.Errorf("launch: save new task %s: %w", taskID, err)
	}
	if opts.ParentTaskID != "" {
		if err := l.store.AppendChild(ctx, opts.ParentTaskID, taskID); err != nil {
			return fmt.Errorf("launch: append child %s to %s: %w", taskID, opts.ParentTaskID, err)
		}
	}

	log := &store.ConversationLog{Turns: []store.Turn{{Turn: 0, StartedAt: time.Now()}}}
	if err := l.store.SaveConversation(ctx, taskID, log); err != nil {
		return fmt.Errorf("launch: save new conversation %s: %w", taskID, err)
	}
	return nil
}

// checkCapacity enforces the optional running-task ceiling, grounded on
// orchestrator.go's Spawn capacity check, adapted from an in-process map
// length to a count supplied by the caller (the store doesn't track a
// cheap "currently running" count on its own).
func (l *Launcher) checkCapacity(ctx context.Context) error {
	if l.maxTasks <= 0 || l.runningCount == nil {
		return nil
	}
	if l.runningCount() >= l.maxTasks {
		return ErrMaxTasksReached
	}
	return nil
}

// SetRunningCounter installs the function Launch uses to enforce maxTasks.
func (l *Launcher) SetRunningCounter(fn func() int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runningCount = fn
}

// SetExecFunc overrides how Launch starts a task's runtime process,
// letting callers (tests, or an alternate process-supervision strategy)
// substitute something other than a real os/exec spawn.
func (l *Launcher) SetExecFunc(fn func(taskID string) (pid int, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exec = fn
}

// SetContainerExecFunc installs the exec func used for tasks whose record
// requests Isolation == "container", normally built from a
// ContainerRuntime's ExecFunc.
func (l *Launcher) SetContainerExecFunc(fn func(taskID string) (pid int, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.containerExec = fn
}

// execFuncFor picks the exec func a task's runtime process should start
// with, based on its stored (or about-to-be-created) isolation mode.
func (l *Launcher) execFuncFor(isolation string) func(taskID string) (int, error) {
	if isolation == "container" && l.containerExec != nil {
		return l.containerExec
	}
	return l.exec
}

// execRuntime starts the task runtime as a detached OS process, the Go
// substitute for subprocess.Popen(..., preexec_fn=os.setsid): Setsid puts
// the child in its own session so it survives the launcher's own process
// exiting, the same independence shell-level setsid gives the Python
// original.
func (l *Launcher) execRuntime(taskID string) (int, error) {
	cmd := exec.Command(l.entrypoint, taskID)
	cmd.Dir = l.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch: exec %s %s: %w", l.entrypoint, taskID, err)
	}
	go cmd.Process.Release()
	return cmd.Process.Pid, nil
}

// QueueMessage appends a message to a task's queue and, unless autoLaunch is
// false, starts the task if it isn't currently running. Grounded on
// queue_message_for_task.
func (l *Launcher) QueueMessage(ctx context.Context, taskID, messageType, content, senderID, toolUseID string, autoLaunch bool) error {
	env := store.Envelope{
		Type:      store.EnvelopeType(messageType),
		Content:   content,
		SenderID:  senderID,
		ToolUseID: toolUseID,
	}
	if err := l.store.Enqueue(ctx, taskID, env); err != nil {
		return fmt.Errorf("launch: enqueue message for %s: %w", taskID, err)
	}

	if !autoLaunch {
		return nil
	}
	rec, ok, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("launch: get task %s: %w", taskID, err)
	}
	if ok && rec.PID != 0 {
		alive, err := l.prober.IsAlive(ctx, rec.PID, taskID)
		if err != nil {
			return fmt.Errorf("launch: probe %s: %w", taskID, err)
		}
		if alive {
			return nil
		}
	}

	_, err = l.Launch(ctx, Options{TaskID: taskID, StartProcess: true})
	return err
}
