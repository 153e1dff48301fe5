package tools

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/gateway"
	"github.com/taskweave/taskweave/launch"
	"github.com/taskweave/taskweave/store"
)

// QueryTaskInputSchema is the query_task tool's input schema, grounded on
// original_source/tools/query_task_tool.py's QUERY_TASK_SPEC.
var QueryTaskInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task_id":  map[string]any{"type": "string", "description": "The task ID to query"},
		"question": map[string]any{"type": "string", "description": "The question to ask about the task"},
		"model":    map[string]any{"type": "string", "description": "Model to use (default: sonnet45). Options: haiku35, sonnet35, sonnet45, opus4, opus41"},
	},
	"required": []any{"task_id", "question"},
}

const queryTaskDescription = "Ask a question about a task's conversation history and current status"

const querySummarizerSystemPrompt = "You are a helpful assistant analyzing task conversations."

// QueryTaskTool answers a question about another task's conversation and
// status by transcribing it and asking an LLM, grounded on
// query_task_tool.py's query_task_tool. It uses the same gateway.Client the
// calling task's Turn Engine uses, so the off-band query call is still
// subject to the LLM Gateway's mandatory backoff and throttling control.
// Each query passes a fresh gateway.State, so no proactive pacing delay
// is applied to it.
type QueryTaskTool struct {
	store  store.Client
	gw     *gateway.Client
	prober launch.Prober
	models map[string]string
}

// NewQueryTaskTool builds a QueryTaskTool.
func NewQueryTaskTool(st store.Client, gw *gateway.Client, prober launch.Prober, models map[string]string) *QueryTaskTool {
	return &QueryTaskTool{store: st, gw: gw, prober: prober, models: models}
}

// Register adds query_task to a Registry.
func (q *QueryTaskTool) Register(r *Registry) error {
	return r.Register("query_task", queryTaskDescription, QueryTaskInputSchema, q.handle)
}

func (q *QueryTaskTool) handle(ctx context.Context, callerTaskID string, input map[string]any) (string, bool) {
	targetTaskID, _ := input["task_id"].(string)
	question, _ := input["question"].(string)
	model, _ := input["model"].(string)
	if model == "" {
		model = "sonnet45"
	}

	rec, ok, err := q.store.GetTask(ctx, targetTaskID)
	if err != nil {
		return jsonRoundTrip(map[string]any{"error": err.Error()}), true
	}
	if !ok {
		return jsonRoundTrip(map[string]any{"error": fmt.Sprintf("Task %s not found", targetTaskID)}), true
	}

	status := "stopped"
	if rec.PID != 0 {
		if alive, err := q.prober.IsAlive(ctx, rec.PID, targetTaskID); err == nil && alive {
			status = "running"
		}
	}

	log, ok, err := q.store.GetConversation(ctx, targetTaskID)
	if err != nil {
		return jsonRoundTrip(map[string]any{"error": err.Error()}), true
	}
	if !ok {
		log = &store.ConversationLog{}
	}
	transcript := engine.Transcribe(log, true)

	modelARN, err := launch.ResolveModel(q.models, model)
	if err != nil {
		return jsonRoundTrip(map[string]any{"error": err.Error()}), true
	}

	prompt := fmt.Sprintf(
		"You are analyzing a task's conversation history and status.\n\n"+
			"Task ID: %s\nCurrent Status: %s\nPID: %d\n\n"+
			"Conversation Transcript:\n%s\n\nQuestion: %s\n\n"+
			"Please answer the question based on the conversation transcript and task status above.",
		targetTaskID, status, rec.PID, transcript, question,
	)

	callerRec, ok, err := q.store.GetTask(ctx, callerTaskID)
	if err != nil {
		return jsonRoundTrip(map[string]any{"error": err.Error()}), true
	}
	callerPID := 0
	if ok {
		callerPID = callerRec.PID
	}

	resp, err := q.gw.Call(ctx, gateway.Request{
		TaskID:   callerTaskID,
		PID:      callerPID,
		ModelARN: modelARN,
		Messages: []store.Message{{Role: store.RoleUser, Content: []store.ContentBlock{{Text: prompt}}}},
		System:   querySummarizerSystemPrompt,
	}, gateway.NewState())
	if err != nil {
		return jsonRoundTrip(map[string]any{"error": err.Error()}), true
	}

	answer := ""
	for _, block := range resp.Message.Content {
		if block.Text != "" {
			answer = block.Text
			break
		}
	}

	return jsonRoundTrip(map[string]any{
		"task_id":    targetTaskID,
		"status":     status,
		"question":   question,
		"answer":     answer,
		"model_used": model,
	}), false
}
