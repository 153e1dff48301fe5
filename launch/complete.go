package launch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskweave/taskweave/store"
)

// BuildCompletionMessage composes the "[SYSTEM] Child task ... has
// completed/failed" notification queued to a parent task once one of its
// children finishes, grounded on build_completion_message.
func BuildCompletionMessage(childTaskID string, log *store.ConversationLog, success bool) string {
	status := "completed successfully"
	if !success {
		status = "failed"
	}

	var finalText string
	var finalMessage *store.Message
	for ti := len(log.Turns) - 1; ti >= 0 && finalMessage == nil; ti-- {
		msgs := log.Turns[ti].Messages
		for mi := len(msgs) - 1; mi >= 0; mi-- {
			if msgs[mi].Role == store.RoleAssistant {
				m := msgs[mi]
				finalMessage = &m
				break
			}
		}
	}
	if finalMessage != nil {
		for _, block := range finalMessage.Content {
			if block.Text != "" {
				finalText = block.Text
				break
			}
		}
	}

	toolIterations := countToolIterations(log)

	return fmt.Sprintf(
		"[SYSTEM] Child task %s has %s. Ran %d turns with %d tool iterations. "+
			"You can continue the conversation by calling spawn_task with task_id=%q "+
			"and a new message.\n\nFinal response from child:\n%s",
		childTaskID, status, len(log.Turns), toolIterations, childTaskID, finalText,
	)
}

// countToolIterations counts assistant messages immediately followed by a
// user message carrying a tool result, the way build_completion_message
// counts total_tool_iterations.
func countToolIterations(log *store.ConversationLog) int {
	count := 0
	for _, turn := range log.Turns {
		for i, msg := range turn.Messages {
			if msg.Role != store.RoleAssistant {
				continue
			}
			next := i + 1
			if next >= len(turn.Messages) {
				continue
			}
			nextMsg := turn.Messages[next]
			if nextMsg.Role != store.RoleUser {
				continue
			}
			for _, block := range nextMsg.Content {
				if block.ToolResult != nil {
					count++
					break
				}
			}
		}
	}
	return count
}

// NotifyParentOfCompletion queues a completion message on the parent task
// with auto-launch, so the parent resumes even if it had exited while
// waiting. Grounded on notify_parent_of_completion.
func (l *Launcher) NotifyParentOfCompletion(ctx context.Context, taskID string, success bool) error {
	rec, ok, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("launch: get task %s: %w", taskID, err)
	}
	if !ok || rec.ParentTaskID == "" {
		return nil
	}

	log, ok, err := l.store.GetConversation(ctx, taskID)
	if err != nil {
		return fmt.Errorf("launch: get conversation %s: %w", taskID, err)
	}
	if !ok {
		log = &store.ConversationLog{}
	}

	msg := BuildCompletionMessage(taskID, log, success)
	return l.QueueMessage(ctx, rec.ParentTaskID, string(store.EnvelopeComplete), msg, taskID, "", true)
}

// ClaimProcess performs the orchestrator entry's step 1 (spec §4.9): a task
// runtime process records its own pid into task_data:{id}.pid before doing
// any work, and if the probe shows another live process already owns this
// task id, it must exit immediately rather than race it. Grounded on
// run_agent's opening `r.hset(f'task_data:{task_id}', 'pid', os.getpid())`
// guarded by check_task_activity.
func (l *Launcher) ClaimProcess(ctx context.Context, taskID string, myPID int) (owns bool, err error) {
	rec, ok, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("launch: get task %s: %w", taskID, err)
	}
	if !ok {
		return false, fmt.Errorf("launch: claim process: task %s not found", taskID)
	}

	if rec.PID != 0 && rec.PID != myPID {
		alive, err := l.prober.IsAlive(ctx, rec.PID, taskID)
		if err != nil {
			return false, fmt.Errorf("launch: probe existing owner of %s: %w", taskID, err)
		}
		if alive {
			return false, nil
		}
	}

	rec.PID = myPID
	rec.Status = "running"
	if rec.ProcessStartedAt.IsZero() {
		rec.ProcessStartedAt = time.Now()
	}
	if err := l.store.SaveTask(ctx, rec); err != nil {
		return false, fmt.Errorf("launch: claim process for %s: %w", taskID, err)
	}
	return true, nil
}

// FinishRun performs the bookkeeping a task runtime process does right
// before exiting: notify the parent (if any work happened), clear the task's
// PID/status if this process is still the one of record, and release its
// API-call marker unconditionally. Grounded on run_agent's post-loop block
// (the `if did_work:` section followed by the always-run
// `r.delete(f'task_api_call:{task_id}')`).
func (l *Launcher) FinishRun(ctx context.Context, taskID string, myPID int, didWork, success bool) error {
	if didWork {
		if err := l.NotifyParentOfCompletion(ctx, taskID, success); err != nil {
			return fmt.Errorf("launch: notify parent of %s: %w", taskID, err)
		}

		rec, ok, err := l.store.GetTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("launch: get task %s: %w", taskID, err)
		}
		if ok && rec.PID == myPID {
			rec.PID = 0
			rec.Status = "stopped"
			if err := l.store.SaveTask(ctx, rec); err != nil {
				return fmt.Errorf("launch: clear pid for %s: %w", taskID, err)
			}
			if err := l.store.PublishTaskMessage(ctx, taskID, map[string]any{
				"task_id":      taskID,
				"message_type": "completion",
			}); err != nil {
				return fmt.Errorf("launch: publish completion for %s: %w", taskID, err)
			}
		}
	}

	return l.store.ReleaseCallMarker(ctx, taskID)
}

// ResolveModel resolves a short model name to a Bedrock ARN using a static
// name->ARN table (the config-file equivalent of the "bedrock:converse:models"
// document), or passes through values that are already ARNs or
// inference-profile prefixed IDs. Grounded on resolve_model.
func ResolveModel(models map[string]string, model string) (string, error) {
	if strings.HasPrefix(model, "arn:") || strings.HasPrefix(model, "us.") || strings.HasPrefix(model, "eu.") {
		return model, nil
	}
	arn, ok := models[model]
	if !ok {
		return "", fmt.Errorf("launch: unknown model alias %q", model)
	}
	return arn, nil
}
