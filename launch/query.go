package launch

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/store"
)

// LastToolUse describes the most recent tool invocation found in a task's
// conversation, the data query_task surfaces while a child is still
// executing. Grounded on get_last_tool_use (the original's started_at/
// elapsed_seconds fields are dropped here since messages in this store
// aren't individually timestamped — only envelopes are).
type LastToolUse struct {
	ToolName  string
	ToolInput map[string]any
}

// GetLastToolUse scans a conversation backward for the most recent
// assistant tool-use block.
func GetLastToolUse(log *store.ConversationLog) *LastToolUse {
	for ti := len(log.Turns) - 1; ti >= 0; ti-- {
		msgs := log.Turns[ti].Messages
		for mi := len(msgs) - 1; mi >= 0; mi-- {
			msg := msgs[mi]
			if msg.Role != store.RoleAssistant {
				continue
			}
			for _, block := range msg.Content {
				if block.ToolUse == nil {
					continue
				}
				return &LastToolUse{
					ToolName:  block.ToolUse.Name,
					ToolInput: block.ToolUse.Input,
				}
			}
		}
	}
	return nil
}

// GetChildTree recursively collects every descendant task ID of taskID,
// grounded on get_child_tree: walks each record's Children list, then
// falls back to repeated full scans for any task whose ParentTaskID points
// at taskID or at a descendant already found but was never appended (the
// teacher's own belt-and-suspenders check against a missed AppendChild).
func GetChildTree(ctx context.Context, st store.Client, taskID string) ([]string, error) {
	seen := map[string]bool{}
	var walk func(string) error
	walk = func(id string) error {
		rec, ok, err := st.GetTask(ctx, id)
		if err != nil {
			return fmt.Errorf("launch: get task %s: %w", id, err)
		}
		if !ok {
			return nil
		}
		for _, childID := range rec.Children {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			if err := walk(childID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(taskID); err != nil {
		return nil, err
	}

	keys, err := st.TaskKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch: list task keys: %w", err)
	}
	for added := true; added; {
		added = false
		for _, key := range keys {
			candidateID := keyToTaskID(key)
			if seen[candidateID] || candidateID == taskID {
				continue
			}
			rec, ok, err := st.GetTask(ctx, candidateID)
			if err != nil || !ok {
				continue
			}
			if rec.ParentTaskID == taskID || seen[rec.ParentTaskID] {
				seen[candidateID] = true
				added = true
				if err := walk(candidateID); err != nil {
					return nil, err
				}
			}
		}
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	return result, nil
}

func keyToTaskID(key string) string {
	prefix := store.TaskDataKey("")
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}
