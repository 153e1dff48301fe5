package engine

import (
	"strings"
	"testing"

	"github.com/taskweave/taskweave/store"
)

func TestTranscribeOmitsToolDetailsByDefault(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Messages: []store.Message{
			{Role: store.RoleUser, Content: []store.ContentBlock{{Text: "do the thing"}}},
			{Role: store.RoleAssistant, Content: []store.ContentBlock{
				{Text: "on it"},
				{ToolUse: &store.ToolUse{ToolUseID: "t1", Name: "bash", Input: map[string]any{"command": "ls"}}},
			}},
			{Role: store.RoleUser, Content: []store.ContentBlock{
				{ToolResult: &store.ToolResult{ToolUseID: "t1", Content: []store.ToolResultContent{{Text: "file.txt"}}}},
			}},
		},
	}}}

	got := Transcribe(log, false)
	if !strings.Contains(got, "User: do the thing") {
		t.Errorf("expected user text, got %q", got)
	}
	if !strings.Contains(got, "[Used bash tool]") {
		t.Errorf("expected collapsed tool use marker, got %q", got)
	}
	if strings.Contains(got, "file.txt") {
		t.Errorf("expected tool result to be omitted, got %q", got)
	}
}

func TestTranscribeIncludesToolDetailsWhenRequested(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Messages: []store.Message{
			{Role: store.RoleAssistant, Content: []store.ContentBlock{
				{ToolUse: &store.ToolUse{ToolUseID: "t1", Name: "bash", Input: map[string]any{"command": "ls"}}},
			}},
			{Role: store.RoleUser, Content: []store.ContentBlock{
				{ToolResult: &store.ToolResult{ToolUseID: "t1", Content: []store.ToolResultContent{{Text: "file.txt"}}}},
			}},
		},
	}}}

	got := Transcribe(log, true)
	if !strings.Contains(got, "Tool Use: bash") {
		t.Errorf("expected tool use detail, got %q", got)
	}
	if !strings.Contains(got, "Tool Result (t1): file.txt") {
		t.Errorf("expected tool result detail, got %q", got)
	}
}

func TestTranscribeEmptyLog(t *testing.T) {
	got := Transcribe(&store.ConversationLog{}, false)
	if got != "No conversation found." {
		t.Errorf("Transcribe(empty) = %q", got)
	}
}
