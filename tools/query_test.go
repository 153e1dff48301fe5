package tools

import (
	"context"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/taskweave/taskweave/gateway"
	"github.com/taskweave/taskweave/store"
)

type fakeRuntime struct {
	resp *bedrockruntime.ConverseOutput
}

func (f *fakeRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.resp, nil
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{},
	}
}

func TestQueryTaskAnswersUsingGatewayAndTranscript(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_root"] = &store.TaskRecord{TaskID: "conversation_root", PID: 1}
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", PID: 2}
	st.conversations["child_1"] = &store.ConversationLog{Turns: []store.Turn{
		{Turn: 0, Messages: []store.Message{
			{Role: store.RoleAssistant, Content: []store.ContentBlock{{Text: "I finished step one"}}},
		}},
	}}

	prober := &fakeProber{alivePIDs: map[int]bool{1: true, 2: true}}
	gw := gateway.New(&fakeRuntime{resp: textOutput("yes, step one is done")}, st, prober)
	models := map[string]string{"sonnet45": "us.anthropic.claude-sonnet"}

	tool := NewQueryTaskTool(st, gw, prober, models)
	r := NewRegistry()
	assert.NilError(t, tool.Register(r))

	out, isErr := r.Execute(context.Background(), "conversation_root", "query_task", map[string]any{
		"task_id":  "child_1",
		"question": "is step one done?",
	})
	assert.Assert(t, !isErr)
	assert.Assert(t, strings.Contains(out, "yes, step one is done"))
	assert.Assert(t, strings.Contains(out, `"status":"running"`))
}

func TestQueryTaskMissingTarget(t *testing.T) {
	st := newMemStore()
	gw := gateway.New(&fakeRuntime{}, st, &fakeProber{})
	tool := NewQueryTaskTool(st, gw, &fakeProber{}, nil)
	r := NewRegistry()
	assert.NilError(t, tool.Register(r))

	out, isErr := r.Execute(context.Background(), "conversation_root", "query_task", map[string]any{
		"task_id":  "missing",
		"question": "what happened?",
	})
	assert.Assert(t, isErr)
	assert.Assert(t, strings.Contains(out, "not found"))
}
