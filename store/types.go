// Package store implements the State Store Client: the shared key/value,
// document, and pub/sub substrate that every task process reads and writes
// to coordinate without talking to each other directly.
package store

import "time"

// TaskRecord is the canonical per-task metadata document, stored under
// task_data:{id}.
type TaskRecord struct {
	TaskID        string    `json:"task_id"`
	ParentTaskID  string    `json:"parent_task_id,omitempty"`
	Children      []string  `json:"children"`
	Model         string    `json:"model_name"`
	StaticSystemPrompt string `json:"static_system_prompt"`
	EnableRecursion    bool   `json:"enable_recursion"`
	PID           int       `json:"pid"`
	WorkDir       string    `json:"work_dir"`
	// Isolation selects how the task runtime process is started: "" (or
	// "process") for a bare detached OS process, "container" to run it
	// inside a Docker container via launch.ContainerRuntime.
	Isolation     string    `json:"isolation,omitempty"`
	Status        string    `json:"status"` // running, stopped
	MaxIterations int       `json:"max_iterations"`
	Iteration     int       `json:"iteration"`
	// Command is the exact launch command used to restart the task, e.g.
	// "taskweave-runtime conversation_ab12cd".
	Command          string    `json:"command"`
	CreatedAt        time.Time `json:"created_at"`
	ProcessStartedAt time.Time `json:"process_started_at"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastUsage        Usage     `json:"last_usage"`
}

// Usage is a token-count pair, used both on TaskRecord (last call) and on
// Turn (per-call accounting).
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Role is a message role, matching the Converse API's vocabulary.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentBlock is one block of a message's content array: text, toolUse, or
// toolResult, matching the Converse API's content block union.
type ContentBlock struct {
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"toolUse,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// ToolUse is the toolUse content block.
type ToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// ToolResult is the toolResult content block.
type ToolResult struct {
	ToolUseID string                `json:"toolUseId"`
	Content   []ToolResultContent   `json:"content"`
	Status    string                `json:"status,omitempty"` // "error" on failure
}

// ToolResultContent is one item of a tool result's content array.
type ToolResultContent struct {
	Text string `json:"text"`
}

// Message is one turn-local message: a role plus an ordered content array.
// MessageNumber is the dense, zero-based index within its Turn's Messages
// slice (the "dense message numbering" invariant).
type Message struct {
	MessageNumber int            `json:"message_number"`
	Role          Role           `json:"role"`
	Content       []ContentBlock `json:"content"`
}

// Turn groups the messages produced by one outer iteration of the Turn
// Engine (one prompt-build/call/dispatch cycle, possibly spanning several
// tool-use round-trips before the turn closes).
type Turn struct {
	Turn       int       `json:"turn"`
	StartedAt  time.Time `json:"started_at"`
	Messages   []Message `json:"messages"`
	StopReason string    `json:"stop_reason,omitempty"`
	Usage      Usage     `json:"usage,omitempty"`
	// TurnSummary is set once the turn ends, per the Turn Engine's
	// end-of-turn summarization call.
	TurnSummary string `json:"turn_summary,omitempty"`
}

// ConversationLog is the full per-task conversation, stored under
// task:{id}.
type ConversationLog struct {
	Turns []Turn `json:"turns"`
}

// EnvelopeType identifies the kind of queued message.
type EnvelopeType string

const (
	EnvelopeUser       EnvelopeType = "user_message"
	EnvelopeToolResult EnvelopeType = "tool_result"
	EnvelopeComplete   EnvelopeType = "task_complete"
)

// Envelope is one message on a task's FIFO queue, stored under
// task_queue:{id}.
type Envelope struct {
	Type       EnvelopeType   `json:"type"`
	Content    any            `json:"content"`
	SenderID   string         `json:"sender_id,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ThrottleState is the per-model-ARN rate-limit state, stored under
// throttle_state:{model}.
type ThrottleState struct {
	Multiplier       float64   `json:"multiplier"`
	MandatoryBackoff bool      `json:"mandatory_backoff"`
	UpdatedAt        time.Time `json:"updated_at"`
}
