package conv

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/taskweave/taskweave/store"
)

func textMsg(role store.Role, text string) store.Message {
	return store.Message{Role: role, Content: []store.ContentBlock{{Text: text}}}
}

func toolUseMsg(id, name string) store.Message {
	return store.Message{
		Role: store.RoleAssistant,
		Content: []store.ContentBlock{
			{ToolUse: &store.ToolUse{ToolUseID: id, Name: name, Input: map[string]any{}}},
		},
	}
}

func toolResultMsg(id, text string) store.Message {
	return store.Message{
		Role: store.RoleUser,
		Content: []store.ContentBlock{
			{ToolResult: &store.ToolResult{ToolUseID: id, Content: []store.ToolResultContent{{Text: text}}}},
		},
	}
}

func TestRepairAlreadyValid(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Turn: 0,
		Messages: []store.Message{
			textMsg(store.RoleUser, "hello"),
			textMsg(store.RoleAssistant, "hi"),
		},
	}}}

	repaired := Repair(log)
	assert.Assert(t, Valid(repaired))
	assert.Equal(t, len(repaired.Turns[0].Messages), 2)
}

func TestRepairInsertsMissingToolResult(t *testing.T) {
	// Two assistant messages back to back, with no tool result in between:
	// the repair must synthesize an interrupted-tool-use placeholder.
	log := &store.ConversationLog{Turns: []store.Turn{{
		Turn: 0,
		Messages: []store.Message{
			textMsg(store.RoleUser, "do something"),
			toolUseMsg("tool-1", "bash"),
			textMsg(store.RoleAssistant, "follow up"),
		},
	}}}

	repaired := Repair(log)
	assert.Assert(t, Valid(repaired))

	msgs := repaired.Turns[0].Messages
	assert.Equal(t, len(msgs), 4)
	assert.Equal(t, msgs[2].Role, store.RoleUser)
	assert.Equal(t, msgs[2].Content[0].ToolResult.ToolUseID, "tool-1")
	assert.Equal(t, msgs[2].Content[0].ToolResult.Status, "error")
}

func TestRepairDropsUnmatchedToolResult(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Turn: 0,
		Messages: []store.Message{
			textMsg(store.RoleUser, "hi"),
			textMsg(store.RoleAssistant, "ok"),
			toolResultMsg("never-requested", "stray"),
		},
	}}}

	repaired := Repair(log)
	assert.Assert(t, Valid(repaired))
	assert.Equal(t, len(repaired.Turns[0].Messages), 2)
}

func TestRepairIsIdempotent(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Turn: 0,
		Messages: []store.Message{
			textMsg(store.RoleUser, "do something"),
			toolUseMsg("tool-1", "bash"),
			toolUseMsg("tool-2", "read_file"),
			textMsg(store.RoleAssistant, "more"),
		},
	}}}

	once := Repair(log)
	twice := Repair(once)

	assert.Equal(t, len(once.Turns[0].Messages), len(twice.Turns[0].Messages))
	for i := range once.Turns[0].Messages {
		assert.Equal(t, once.Turns[0].Messages[i].Role, twice.Turns[0].Messages[i].Role)
		assert.Equal(t, once.Turns[0].Messages[i].MessageNumber, twice.Turns[0].Messages[i].MessageNumber)
	}
}

func TestRepairPreservesMatchedPairing(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Turn: 0,
		Messages: []store.Message{
			textMsg(store.RoleUser, "do something"),
			toolUseMsg("tool-1", "bash"),
			toolResultMsg("tool-1", "done"),
			textMsg(store.RoleAssistant, "thanks"),
		},
	}}}

	repaired := Repair(log)
	assert.Assert(t, Valid(repaired))
	assert.Equal(t, len(repaired.Turns[0].Messages), 4)
	assert.Equal(t, repaired.Turns[0].Messages[2].Content[0].ToolResult.Content[0].Text, "done")
}

func TestRepairDenseMessageNumbering(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{{
		Turn: 0,
		Messages: []store.Message{
			textMsg(store.RoleUser, "a"),
			textMsg(store.RoleAssistant, "b"),
			toolResultMsg("dropped", "x"),
		},
	}}}

	repaired := Repair(log)
	for i, msg := range repaired.Turns[0].Messages {
		assert.Equal(t, msg.MessageNumber, i)
	}
}
