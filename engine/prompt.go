package engine

import (
	"fmt"
	"time"

	"github.com/taskweave/taskweave/store"
)

// BuildStaticSystemPrompt returns the fixed portion of a task's system
// prompt: role framing plus task-hierarchy responsibilities, differing for a
// root task versus a child task. Grounded on
// original_source/prompts.py's build_static_system_prompt, generalized away
// from that file's bio-research-agent persona and container/host path
// mapping section (neither belongs in a general-purpose orchestrator) while
// keeping its structural contract: a root task delegates work to children
// and conserves its own context; a child task executes directly and reports
// back thoroughly.
func BuildStaticSystemPrompt(parentTaskID string) string {
	base := `You are a task orchestration agent running as one node of a task tree.

CORE PRINCIPLES:
- Tool-driven: use tools to accomplish the task rather than describing what you would do
- Minimal: keep responses concise
- Observable: all task state lives in the shared store, not in your own memory

AVAILABLE TOOLS:
- bash: execute a shell command (returns stdout, stderr, exit code)
- spawn_task: spawn or restart a child task for a bounded piece of work (returns task_id, pid)
- query_task: passively inspect another task's status and conversation
- think: record a reasoning note with no side effect, for working through a problem out loud

`
	if parentTaskID == "" {
		base += `TASK HIERARCHY: you are the ROOT task.

ROOT TASK RESPONSIBILITIES:
You are the project orchestrator. Your own context window is the scarcest resource in the
tree — every token you spend on direct tool use is a token not available for understanding
overall project state and making delegation decisions.

NORMAL OPERATING MODE — ROOT TASK:
1. Delegate substantial work: when given a real task, break it into logical pieces and spawn
   child tasks to handle them, rather than doing the work directly.
2. Avoid direct file editing: editing requires iteration, which burns tokens without adding
   understanding at your level. Delegate file edits to a focused child task.
3. Use bash only for quick inspection: checking state to inform a delegation decision, not to
   accomplish the task itself.
4. Use spawn_task for anything that would take more than a few tool calls.
5. Coordinate and integrate: monitor child completion and fold results into the overall plan.

`
	} else {
		base += fmt.Sprintf(`TASK HIERARCHY: you are a CHILD task. Parent task ID: %s
You can query your parent's conversation with the query_task tool.

CHILD TASK RESPONSIBILITIES:
You have been delegated a specific, bounded task by your parent.

OPERATING MODE — CHILD TASK:
1. Stay within your mandate; don't expand scope beyond what was requested.
2. Spawn sub-tasks only when the work clearly divides into independent pieces that each need
   substantial, isolated effort.
3. Use tools directly for most of your work — you are here to execute, not just delegate.
4. Report thoroughly on completion: your final response is what your parent will see.

`, parentTaskID)
	}
	return base
}

// BuildDynamicSystemPrompt returns the per-turn portion of a task's system
// prompt: a current-context block plus, for a child task, a transcription of
// the parent's conversation so far. Grounded on
// original_source/prompts.py's build_dynamic_system_prompt.
//
// includeParentContext false omits the parent transcription. The Turn
// Engine always passes true.
func BuildDynamicSystemPrompt(rec *store.TaskRecord, turnNumber int, parentLog *store.ConversationLog, includeParentContext bool) string {
	totalTokens := rec.LastUsage.InputTokens + rec.LastUsage.OutputTokens
	now := time.Now()
	dynamic := fmt.Sprintf(`
=== CURRENT CONTEXT ===
Date: %s
Time: %s
Turn: %d
Tokens used: %d (input: %d, output: %d)
`, now.Format("2006-01-02"), now.Format("15:04:05"), turnNumber, totalTokens,
		rec.LastUsage.InputTokens, rec.LastUsage.OutputTokens)

	if rec.ParentTaskID != "" && includeParentContext && parentLog != nil {
		transcription := Transcribe(parentLog, true)
		dynamic += fmt.Sprintf(`

=== PARENT TASK CONTEXT ===
You were spawned to focus on a particular task. Below is a transcription of the conversation
your parent task (%s) had that led to you being spawned. Use it to understand the full intent
and context behind your task.

%s

=== END PARENT CONTEXT ===
`, rec.ParentTaskID, transcription)
	}
	return dynamic
}
