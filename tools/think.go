package tools

import "context"

// ThinkInputSchema is the think tool's input schema, grounded on
// original_source/tools/think_tool.py's THINK_SPEC.
var ThinkInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"thoughts":    map[string]any{"type": "string", "description": "Internal reasoning (discarded)"},
		"conclusions": map[string]any{"type": "string", "description": "Final conclusions (returned)"},
	},
	"required": []any{"thoughts", "conclusions"},
}

const thinkDescription = "Internal reasoning - thoughts discarded, conclusions kept"

// RegisterThink adds the think tool to a Registry: a scratchpad the model
// uses for private reasoning, whose "thoughts" field never appears in the
// result. Grounded on think_tool.py's think_tool.
func RegisterThink(r *Registry) error {
	return r.Register("think", thinkDescription, ThinkInputSchema, think)
}

func think(_ context.Context, _ string, input map[string]any) (string, bool) {
	conclusions, _ := input["conclusions"].(string)
	return jsonRoundTrip(map[string]any{"conclusions": conclusions}), false
}
