// Package engine implements the Turn Engine: the per-task iteration loop
// that drains queued messages, repairs the conversation, builds a prompt,
// calls the LLM Gateway, dispatches any requested tools, and decides when a
// turn (and the task's run) ends.
//
// Grounded on process_llm.go's executeLLMLoop (drain/build/call/record/
// dispatch-tools/loop shape, generalized from govega's flat string messages
// to the spec's Bedrock content-block messages) and directly on
// original_source/core.py's execute_iteration/dequeue_messages/
// summarize_and_store_turn/run_agent, which this package follows turn for
// turn.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskweave/taskweave/conv"
	"github.com/taskweave/taskweave/gateway"
	"github.com/taskweave/taskweave/llm"
	"github.com/taskweave/taskweave/store"
)

// ToolExecutor runs one tool call on behalf of a task and returns a result
// string plus whether execution failed. Carved out as its own interface
// (rather than importing the tools package directly) so engine has no
// dependency on how tools are registered or discovered.
type ToolExecutor interface {
	Execute(ctx context.Context, taskID, name string, input map[string]any) (result string, isError bool)
}

// RootJanitor is the narrow interface Engine needs from *launch.Janitor.
// Carved out as its own interface (engine cannot import launch, which
// already imports engine for BuildStaticSystemPrompt) so Run can invoke the
// Root Janitor sweep without an import cycle.
type RootJanitor interface {
	Sweep(ctx context.Context) (swept int, err error)
}

// Options configures an Engine's behavior at construction time.
type Options struct {
	// InjectSystemHints controls whether the per-iteration system hint
	// (SystemHint) is appended to the system prompt sent with each call.
	// The Python original always computes the hint but then discards it
	// before sending; SPEC_FULL.md's resolution of that open question
	// keeps the same default (false) while exposing it as a knob, since a
	// future deployment may want the hint back.
	InjectSystemHints bool

	// SummarizerSystemPrompt overrides the system prompt used for the
	// end-of-turn summarization call.
	SummarizerSystemPrompt string

	// Janitor, if set, is run at the top of every iteration for a root task
	// (spec §4.8/§4.9 step 3a). Non-root tasks never sweep. Nil disables the
	// in-loop sweep entirely (e.g. the standalone `taskweave janitor` command
	// runs it out of band instead).
	Janitor RootJanitor
}

func defaultOptions() Options {
	return Options{
		SummarizerSystemPrompt: "You are a concise summarizer. Summarize the key work accomplished and decisions made in the provided turn. Be brief and factual.",
	}
}

// Engine is the Turn Engine.
type Engine struct {
	store    store.Client
	gw       *gateway.Client
	tools    ToolExecutor
	toolDefs []llm.ToolSchema
	opts     Options
}

// New builds a Turn Engine.
func New(st store.Client, gw *gateway.Client, tools ToolExecutor, toolSchemas []llm.ToolSchema, opts Options) *Engine {
	if opts.SummarizerSystemPrompt == "" {
		d := defaultOptions()
		opts.SummarizerSystemPrompt = d.SummarizerSystemPrompt
	}
	return &Engine{store: st, gw: gw, tools: tools, toolDefs: toolSchemas, opts: opts}
}

// Run drives a task's full iteration loop, the way original_source's
// run_agent does: iterate until the queue runs dry or maxIterations is hit,
// treating a turn ending with an empty queue as the stopping condition and a
// turn ending with a non-empty queue as "keep going".
func (e *Engine) Run(ctx context.Context, taskID string, pid int, maxIterations int) (didWork bool, err error) {
	gwState := gateway.NewState()

	for iteration := 0; iteration < maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return didWork, ctx.Err()
		default:
		}

		if e.opts.Janitor != nil {
			if rec, ok, recErr := e.store.GetTask(ctx, taskID); recErr == nil && ok && rec.ParentTaskID == "" {
				if _, sweepErr := e.opts.Janitor.Sweep(ctx); sweepErr != nil {
					slog.Warn("root janitor sweep failed", "task_id", taskID, "error", sweepErr)
				}
			}
		}

		envs, err := e.store.DrainQueue(ctx, taskID)
		if err != nil {
			return didWork, fmt.Errorf("engine: drain queue %s: %w", taskID, err)
		}
		queueEmptyBeforeIteration := len(envs) == 0
		if queueEmptyBeforeIteration {
			break
		}
		if err := e.applyQueuedMessages(ctx, taskID, envs); err != nil {
			return didWork, err
		}

		turnEnding, iterErr := e.executeIteration(ctx, taskID, pid, iteration, maxIterations, gwState)
		if iterErr != nil {
			return didWork, iterErr
		}
		didWork = true

		if turnEnding {
			remaining, err := e.store.DrainQueue(ctx, taskID)
			if err != nil {
				return didWork, fmt.Errorf("engine: recheck queue %s: %w", taskID, err)
			}
			if len(remaining) > 0 {
				// Put the peeked envelopes back: DrainQueue is destructive,
				// so re-enqueue in original order before continuing.
				for _, env := range remaining {
					if err := e.store.Enqueue(ctx, taskID, env); err != nil {
						return didWork, err
					}
				}
				continue
			}
			break
		}
	}

	return didWork, nil
}

// applyQueuedMessages appends queued tool results and text messages onto the
// conversation's current turn, grounded on dequeue_messages: tool results
// are grouped into a single user message first, then each text message
// becomes its own user message.
func (e *Engine) applyQueuedMessages(ctx context.Context, taskID string, envs []store.Envelope) error {
	log, ok, err := e.store.GetConversation(ctx, taskID)
	if err != nil {
		return fmt.Errorf("engine: get conversation %s: %w", taskID, err)
	}
	if !ok || log == nil {
		log = &store.ConversationLog{Turns: []store.Turn{{Turn: 0}}}
	}
	if len(log.Turns) == 0 {
		log.Turns = append(log.Turns, store.Turn{Turn: 0})
	}
	turnIdx := len(log.Turns) - 1
	turn := &log.Turns[turnIdx]

	var toolResultBlocks []store.ContentBlock
	var textMessages []string
	for _, env := range envs {
		switch env.Type {
		case store.EnvelopeToolResult:
			if tr, ok := env.Content.(store.ToolResult); ok {
				toolResultBlocks = append(toolResultBlocks, store.ContentBlock{ToolResult: &tr})
			} else if raw, ok := env.Content.(map[string]any); ok {
				toolResultBlocks = append(toolResultBlocks, decodeToolResultBlock(raw))
			}
		default:
			if text, ok := env.Content.(string); ok {
				textMessages = append(textMessages, text)
			}
		}
	}

	if len(toolResultBlocks) > 0 {
		turn.Messages = append(turn.Messages, store.Message{
			MessageNumber: len(turn.Messages),
			Role:          store.RoleUser,
			Content:       toolResultBlocks,
		})
	}
	for _, text := range textMessages {
		turn.Messages = append(turn.Messages, store.Message{
			MessageNumber: len(turn.Messages),
			Role:          store.RoleUser,
			Content:       []store.ContentBlock{{Text: text}},
		})
	}

	if err := e.store.SaveConversation(ctx, taskID, log); err != nil {
		return fmt.Errorf("engine: save conversation %s: %w", taskID, err)
	}
	return e.store.PublishTaskMessage(ctx, taskID, map[string]any{"type": "new_message"})
}

func decodeToolResultBlock(raw map[string]any) store.ContentBlock {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return store.ContentBlock{}
	}
	var tr store.ToolResult
	if err := json.Unmarshal(encoded, &tr); err != nil {
		return store.ContentBlock{}
	}
	return store.ContentBlock{ToolResult: &tr}
}

// executeIteration runs one call to the model and whatever follows from its
// response, mirroring original_source's execute_iteration.
func (e *Engine) executeIteration(ctx context.Context, taskID string, pid int, iteration, maxIterations int, gwState *gateway.State) (turnEnding bool, err error) {
	rec, ok, err := e.store.GetTask(ctx, taskID)
	if err != nil || !ok {
		return false, fmt.Errorf("engine: get task %s: %w", taskID, err)
	}

	rawLog, ok, err := e.store.GetConversation(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("engine: get conversation %s: %w", taskID, err)
	}
	if !ok || rawLog == nil {
		rawLog = &store.ConversationLog{Turns: []store.Turn{{Turn: 0}}}
	}
	log := conv.Repair(rawLog)

	turnIdx := len(log.Turns) - 1
	turn := &log.Turns[turnIdx]
	messageNumber := len(turn.Messages)

	var flatMessages []store.Message
	for _, t := range log.Turns {
		flatMessages = append(flatMessages, t.Messages...)
	}

	systemPrompt := rec.StaticSystemPrompt + e.buildDynamicPrompt(ctx, rec, turnIdx)
	if e.opts.InjectSystemHints {
		if hint, ok := SystemHint(iteration, maxIterations); ok {
			systemPrompt += "\n\n" + hint
		}
	}

	req := gateway.Request{
		TaskID:   taskID,
		PID:      pid,
		ModelARN: rec.Model,
		Messages: flatMessages,
		System:   systemPrompt,
		Tools:    e.toolDefs,
	}

	if _, markErr := e.store.AcquireCallMarker(ctx, taskID, store.DefaultCallMarkerTTL); markErr != nil {
		return false, fmt.Errorf("engine: acquire call marker %s: %w", taskID, markErr)
	}
	resp, err := e.gw.Call(ctx, req, gwState)
	if relErr := e.store.ReleaseCallMarker(ctx, taskID); relErr != nil {
		slog.Warn("release call marker failed", "task_id", taskID, "error", relErr)
	}
	if err != nil {
		if err == gateway.ErrInterrupted {
			slog.Info("turn ended: task no longer alive", "task_id", taskID)
			return true, nil
		}
		return false, fmt.Errorf("engine: gateway call %s: %w", taskID, err)
	}

	rec.LastUsage = resp.Usage
	if err := e.store.SaveTask(ctx, rec); err != nil {
		return false, fmt.Errorf("engine: save task usage %s: %w", taskID, err)
	}

	resp.Message.MessageNumber = messageNumber
	turn.Messages = append(turn.Messages, resp.Message)
	turn.StopReason = resp.StopReason
	if err := e.store.SaveConversation(ctx, taskID, log); err != nil {
		return false, fmt.Errorf("engine: save conversation %s: %w", taskID, err)
	}

	if resp.StopReason == "tool_use" {
		if err := e.dispatchTools(ctx, taskID, resp.Message); err != nil {
			return false, err
		}
	}
	if resp.StopReason == "max_tokens" {
		// No tools are dispatched and the turn is not treated as over (no
		// summary is written). Nothing is enqueued either, so Run goes on
		// only if the queue already holds other envelopes. An unmatched
		// toolUse here gets an interrupted-tool-use placeholder from Repair
		// once another assistant message follows it.
		slog.Warn("assistant turn truncated at max_tokens", "task_id", taskID, "turn", turnIdx)
	}

	_ = e.store.PublishTaskMessage(ctx, taskID, map[string]any{
		"task_id":       taskID,
		"turn_number":   turnIdx,
		"message_number": messageNumber,
		"message_type":  "assistant",
		"stop_reason":   resp.StopReason,
	})

	turnEnding = resp.StopReason != "tool_use" && resp.StopReason != "max_tokens"
	if turnEnding {
		e.summarizeTurn(ctx, taskID, rec, log, turnIdx, pid, gwState)
	}
	return turnEnding, nil
}

// dispatchTools executes every toolUse block in an assistant message and
// queues each result back onto the task's own queue, grounded on
// execute_tools.
func (e *Engine) dispatchTools(ctx context.Context, taskID string, msg store.Message) error {
	for _, block := range msg.Content {
		if block.ToolUse == nil {
			continue
		}
		tu := block.ToolUse
		result, isErr := e.tools.Execute(ctx, taskID, tu.Name, tu.Input)

		tr := store.ToolResult{
			ToolUseID: tu.ToolUseID,
			Content:   []store.ToolResultContent{{Text: result}},
		}
		if isErr {
			tr.Status = "error"
		}

		env := store.Envelope{
			Type:      store.EnvelopeToolResult,
			Content:   tr,
			SenderID:  taskID,
			ToolUseID: tu.ToolUseID,
		}
		if err := e.store.Enqueue(ctx, taskID, env); err != nil {
			return fmt.Errorf("engine: enqueue tool result %s: %w", tu.ToolUseID, err)
		}
	}
	return nil
}

// summarizeTurn generates and stores a one-paragraph summary of a just-ended
// turn, grounded on summarize_and_store_turn. A failure here (including
// interruption) is logged and otherwise ignored — summarization is a
// best-effort enrichment, not part of the turn's correctness.
func (e *Engine) summarizeTurn(ctx context.Context, taskID string, rec *store.TaskRecord, log *store.ConversationLog, turnIdx int, pid int, gwState *gateway.State) {
	turn := log.Turns[turnIdx]
	raw, err := json.MarshalIndent(turn.Messages, "", "  ")
	if err != nil {
		slog.Warn("summarize turn: encode messages", "task_id", taskID, "error", err)
		return
	}

	summaryReq := gateway.Request{
		TaskID:   taskID,
		PID:      pid,
		ModelARN: rec.Model,
		System:   e.opts.SummarizerSystemPrompt,
		Messages: []store.Message{{
			Role: store.RoleUser,
			Content: []store.ContentBlock{{
				Text: fmt.Sprintf("Summarize the work accomplished in this turn. Turn messages:\n\n%s", raw),
			}},
		}},
	}

	resp, err := e.gw.Call(ctx, summaryReq, gwState)
	if err != nil {
		slog.Warn("summarize turn: gateway call failed", "task_id", taskID, "error", err)
		return
	}
	if len(resp.Message.Content) == 0 {
		return
	}
	log.Turns[turnIdx].TurnSummary = resp.Message.Content[0].Text
	if err := e.store.SaveConversation(ctx, taskID, log); err != nil {
		slog.Warn("summarize turn: save conversation failed", "task_id", taskID, "error", err)
	}
}

func (e *Engine) buildDynamicPrompt(ctx context.Context, rec *store.TaskRecord, turnIdx int) string {
	var parentLog *store.ConversationLog
	if rec.ParentTaskID != "" {
		if log, ok, err := e.store.GetConversation(ctx, rec.ParentTaskID); err == nil && ok {
			parentLog = conv.Repair(log)
		}
	}
	return BuildDynamicSystemPrompt(rec, turnIdx, parentLog, true)
}
