// Package conv implements Conversation Repair: a pure, idempotent transform
// that restores the two structural invariants a conversation log must hold
// before it can be sent to the Converse API — strict user/assistant role
// alternation, and every toolUse paired with exactly one toolResult.
//
// Repair runs at read time, not write time: the Turn Engine calls Repair on
// whatever the store holds immediately before building a prompt, rather than
// relying on every writer to maintain the invariant. This keeps the
// invariant enforcement in one place even though several components (the
// Task Launcher, the Message Queue's auto-launch, a resumed task) can append
// to a conversation.
package conv

import "github.com/taskweave/taskweave/store"

// errorResultText is substituted for a toolUse whose matching toolResult was
// never produced — interrupted mid tool-call, or dropped by a crash.
const errorResultText = "Tool use was stopped by an error or a user interruption."

// Repair returns a new ConversationLog with every turn's messages rewritten
// to satisfy the alternation and pairing invariants. It never mutates its
// input.
//
// Repair is idempotent: Repair(Repair(log)) produces the same messages as
// Repair(log), byte for byte, because a log that already satisfies the
// invariants passes through unchanged.
func Repair(log *store.ConversationLog) *store.ConversationLog {
	out := &store.ConversationLog{Turns: make([]store.Turn, len(log.Turns))}
	for i, turn := range log.Turns {
		out.Turns[i] = repairTurn(turn)
	}
	return out
}

func repairTurn(turn store.Turn) store.Turn {
	toolResults := collectToolResults(turn.Messages)

	var repaired []store.Message
	lastRole := store.RoleAssistant

	for _, msg := range turn.Messages {
		switch {
		case msg.Role == store.RoleAssistant && lastRole == store.RoleUser:
			repaired = append(repaired, msg)
			lastRole = store.RoleAssistant

		case msg.Role == store.RoleAssistant && lastRole == store.RoleAssistant:
			// Two assistant messages in a row: the previous assistant
			// message's tool uses never got a result message inserted
			// before it. Synthesize one from whatever results exist (or an
			// interrupted-tool-use placeholder for whichever don't), then
			// keep this assistant message.
			prev := repaired[len(repaired)-1]
			if needed := toolUseIDs(prev); len(needed) > 0 {
				var content []store.ContentBlock
				for _, id := range needed {
					if block, ok := toolResults[id]; ok && block != nil {
						content = append(content, *block)
						toolResults[id] = nil
					} else {
						content = append(content, placeholderResult(id))
					}
				}
				repaired = append(repaired, store.Message{Role: store.RoleUser, Content: content})
				lastRole = store.RoleUser
			}
			repaired = append(repaired, msg)
			lastRole = store.RoleAssistant

		case msg.Role == store.RoleUser:
			// Keep only tool results that are still unconsumed and answer a
			// toolUse of the most recent assistant message, plus any
			// non-tool-result content (plain user text).
			requested := map[string]bool{}
			for j := len(repaired) - 1; j >= 0; j-- {
				if repaired[j].Role == store.RoleAssistant {
					for _, id := range toolUseIDs(repaired[j]) {
						requested[id] = true
					}
					break
				}
			}
			var kept []store.ContentBlock
			for _, block := range msg.Content {
				if block.ToolResult != nil {
					id := block.ToolResult.ToolUseID
					if existing, ok := toolResults[id]; ok && existing != nil && requested[id] {
						kept = append(kept, block)
						toolResults[id] = nil
					}
					continue
				}
				kept = append(kept, block)
			}
			if len(kept) > 0 {
				repaired = append(repaired, store.Message{Role: store.RoleUser, Content: kept})
				lastRole = store.RoleUser
			}

		default:
			// Unrecognized role: pass through rather than drop data.
			repaired = append(repaired, msg)
		}
	}

	for i := range repaired {
		repaired[i].MessageNumber = i
	}

	return store.Turn{
		Turn:       turn.Turn,
		Messages:   repaired,
		StopReason: turn.StopReason,
		Usage:      turn.Usage,
	}
}

// collectToolResults indexes every toolResult block in a turn by its
// toolUseId, so pairing can be checked regardless of ordering.
func collectToolResults(messages []store.Message) map[string]*store.ContentBlock {
	results := make(map[string]*store.ContentBlock)
	for _, msg := range messages {
		if msg.Role != store.RoleUser {
			continue
		}
		for i, block := range msg.Content {
			if block.ToolResult != nil {
				b := msg.Content[i]
				results[block.ToolResult.ToolUseID] = &b
			}
		}
	}
	return results
}

func toolUseIDs(msg store.Message) []string {
	var ids []string
	for _, block := range msg.Content {
		if block.ToolUse != nil {
			ids = append(ids, block.ToolUse.ToolUseID)
		}
	}
	return ids
}

func placeholderResult(toolUseID string) store.ContentBlock {
	return store.ContentBlock{
		ToolResult: &store.ToolResult{
			ToolUseID: toolUseID,
			Content:   []store.ToolResultContent{{Text: errorResultText}},
			Status:    "error",
		},
	}
}

// Valid reports whether a conversation log already satisfies the repair
// invariants, without allocating a repaired copy. Only the tests call it;
// the Turn Engine repairs the log before each send without checking it.
func Valid(log *store.ConversationLog) bool {
	for _, turn := range log.Turns {
		if !turnValid(turn) {
			return false
		}
	}
	return true
}

func turnValid(turn store.Turn) bool {
	lastRole := store.RoleAssistant
	pending := map[string]bool{}

	for i, msg := range turn.Messages {
		if msg.MessageNumber != i {
			return false
		}
		if msg.Role == lastRole && i > 0 {
			return false
		}
		if msg.Role == store.RoleAssistant {
			for _, id := range toolUseIDs(msg) {
				pending[id] = true
			}
		}
		if msg.Role == store.RoleUser {
			for _, block := range msg.Content {
				if block.ToolResult != nil {
					if !pending[block.ToolResult.ToolUseID] {
						return false
					}
					delete(pending, block.ToolResult.ToolUseID)
				}
			}
		}
		lastRole = msg.Role
	}

	return len(pending) == 0
}
