package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskweave/taskweave/store"
)

// Transcribe renders a conversation log as readable text, grounded on
// original_source/prompts.py's transcribe. With includeToolDetails false,
// tool results are omitted and tool uses collapse to "[Used <name> tool]" —
// spawn_task uses this when quoting a parent's history into a child's
// opening message. The dynamic system prompt's parent context and
// query_task set it true and carry tool inputs and results in full.
func Transcribe(log *store.ConversationLog, includeToolDetails bool) string {
	if log == nil || len(log.Turns) == 0 {
		return "No conversation found."
	}

	var lines []string
	for _, turn := range log.Turns {
		for _, msg := range turn.Messages {
			switch msg.Role {
			case store.RoleUser:
				lines = append(lines, transcribeUserMessage(msg, includeToolDetails)...)
			case store.RoleAssistant:
				lines = append(lines, transcribeAssistantMessage(msg, includeToolDetails)...)
			}
		}
	}
	return strings.Join(lines, "\n\n")
}

func transcribeUserMessage(msg store.Message, includeToolDetails bool) []string {
	var lines []string
	for _, block := range msg.Content {
		switch {
		case block.ToolResult != nil:
			if !includeToolDetails {
				continue
			}
			var resultText string
			for _, c := range block.ToolResult.Content {
				if c.Text != "" {
					resultText = c.Text
				}
			}
			lines = append(lines, fmt.Sprintf("Tool Result (%s): %s", block.ToolResult.ToolUseID, resultText))
		case block.Text != "":
			lines = append(lines, "User: "+block.Text)
		}
	}
	return lines
}

func transcribeAssistantMessage(msg store.Message, includeToolDetails bool) []string {
	var textParts []string
	var toolUses []*store.ToolUse
	for _, block := range msg.Content {
		switch {
		case block.Text != "":
			textParts = append(textParts, block.Text)
		case block.ToolUse != nil:
			toolUses = append(toolUses, block.ToolUse)
		}
	}

	var lines []string
	if len(textParts) > 0 {
		lines = append(lines, "Assistant: "+strings.Join(textParts, " "))
	}
	for _, tu := range toolUses {
		if includeToolDetails {
			args, _ := json.MarshalIndent(tu.Input, "", "  ")
			lines = append(lines, "Tool Use: "+tu.Name)
			lines = append(lines, "  Input: "+string(args))
		} else {
			lines = append(lines, fmt.Sprintf("Assistant: [Used %s tool]", tu.Name))
		}
	}
	return lines
}
