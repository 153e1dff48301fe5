package launch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateTaskID mints a task identifier, grounded on
// original_source/utils.py's generate_task_id: a root task (no parent) gets
// "conversation_<6hex>"; a child task gets "<slugified-base-name>_<6hex>"
// and requires a non-empty baseName.
func GenerateTaskID(parentTaskID, baseName string) (string, error) {
	suffix := uuid.New().String()
	suffix = strings.ReplaceAll(suffix, "-", "")[:6]

	if parentTaskID == "" {
		return fmt.Sprintf("conversation_%s", suffix), nil
	}
	if strings.TrimSpace(baseName) == "" {
		return "", fmt.Errorf("launch: base_name is required for child tasks")
	}
	return fmt.Sprintf("%s_%s", slugify(baseName), suffix), nil
}

// slugify lowercases and underscore-joins a short human-readable name, the
// way generate_task_id does with '_'.join(base_name.lower().split()).
func slugify(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, "_")
}
