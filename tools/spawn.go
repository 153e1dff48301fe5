package tools

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/launch"
	"github.com/taskweave/taskweave/store"
)

// SpawnTaskInputSchema is the spawn_task tool's input schema, grounded on
// original_source/tools/spawn_task_tool.py's SPAWN_TASK_SPEC.
var SpawnTaskInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"base_name":       map[string]any{"type": "string", "description": "Base name for new task (1-3 words describing the task, e.g., 'analyze data', 'fetch results'). Required when creating new task."},
		"initial_message": map[string]any{"type": "string", "description": "Initial user message for the child task"},
		"task_id":         map[string]any{"type": "string", "description": "Optional: existing task_id to resume conversation. If provided, base_name is ignored."},
		"model":           map[string]any{"type": "string", "description": "Model short name (default: haiku45)"},
		"zero_context":    map[string]any{"type": "boolean", "description": "If true, the parent's conversation is not copied into the child's opening message (default: false). The child's system prompt still includes a transcript of the parent's conversation as context."},
	},
	"required": []any{"initial_message"},
}

const spawnTaskDescription = "Spawn a child task with initial message, or resume existing task with new message. By default, the child inherits the full conversation history from the parent (creating a branch point). Returns task_id and pid for monitoring."

// SpawnTaskTool wires the spawn_task tool to the Task Launcher, matching
// spawn_task_tool.py's spawn_task_tool: validate base_name/task_id,
// transcribe the parent's history into the child's opening message unless
// zero_context is set, launch, and record the parent/child link.
type SpawnTaskTool struct {
	store    store.Client
	launcher *launch.Launcher
	models   map[string]string
}

// NewSpawnTaskTool builds a SpawnTaskTool. models resolves short model
// names to ARNs (see launch.ResolveModel); pass nil to require callers
// always supply an ARN or inference-profile ID.
func NewSpawnTaskTool(st store.Client, launcher *launch.Launcher, models map[string]string) *SpawnTaskTool {
	return &SpawnTaskTool{store: st, launcher: launcher, models: models}
}

// Register adds spawn_task to a Registry, bound to this tool's store/launcher.
func (s *SpawnTaskTool) Register(r *Registry) error {
	return r.Register("spawn_task", spawnTaskDescription, SpawnTaskInputSchema, s.handle)
}

func (s *SpawnTaskTool) handle(ctx context.Context, parentTaskID string, input map[string]any) (string, bool) {
	initialMessage, _ := input["initial_message"].(string)
	childTaskID, _ := input["task_id"].(string)
	baseName, _ := input["base_name"].(string)
	model, _ := input["model"].(string)
	if model == "" {
		model = "haiku45"
	}
	zeroContext, _ := input["zero_context"].(bool)

	if childTaskID == "" && baseName == "" {
		return jsonRoundTrip(map[string]any{
			"success": false,
			"error":   "base_name is required when creating a new child task (1-3 words describing the task)",
		}), true
	}

	modelARN, err := launch.ResolveModel(s.models, model)
	if err != nil {
		return jsonRoundTrip(map[string]any{"success": false, "error": err.Error()}), true
	}

	messages := []string{}
	// includeParentContext is the negation of zero_context: by default the
	// child inherits the parent's history (a conversation branch point);
	// zero_context opts the child out of it entirely.
	if !zeroContext {
		parentLog, ok, err := s.store.GetConversation(ctx, parentTaskID)
		if err == nil && ok {
			transcript := engine.Transcribe(parentLog, false)
			header := "[SYSTEM]The following is a transcription of your parent task's conversation history. Use it to understand the context of the task:\n\n"
			footer := "\n\n[SYSTEM] Given the context above, you are now ready to begin your task:\n\n"
			messages = append(messages, header+transcript+footer)
		}
	}
	messages = append(messages, initialMessage)

	result, err := s.launcher.Launch(ctx, launch.Options{
		TaskID:       childTaskID,
		ParentTaskID: parentTaskID,
		BaseName:     baseName,
		ModelARN:     modelARN,
		Messages:     messages,
		StartProcess: true,
	})
	if err != nil {
		return jsonRoundTrip(map[string]any{"success": false, "error": err.Error()}), true
	}
	if err := s.store.AppendChild(ctx, parentTaskID, result.TaskID); err != nil {
		return jsonRoundTrip(map[string]any{"success": false, "error": err.Error()}), true
	}

	action := "Spawned"
	if childTaskID != "" {
		action = "Resumed"
	}

	return jsonRoundTrip(map[string]any{
		"success": true,
		"task_id": result.TaskID,
		"pid":     result.PID,
		"message": fmt.Sprintf("%s child task %s (PID %d)", action, result.TaskID, result.PID),
	}), false
}
