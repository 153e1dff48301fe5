// Package llm holds the small vocabulary shared between the Turn Engine and
// the LLM Gateway that isn't already Bedrock-Converse-shaped: tool schemas
// handed to Converse's ToolConfiguration, and model cost-estimation used by
// the CLI's status reporting.
package llm

// ToolSchema describes a tool for the LLM, the gateway's namespace-neutral
// equivalent of brtypes.ToolSpecification — kept here instead of in the
// gateway package so the tools package (which builds these) has no import
// cycle with it.
type ToolSchema struct {
	// Name of the tool
	Name string `json:"name"`

	// Description of what the tool does
	Description string `json:"description"`

	// InputSchema is the JSON Schema for parameters
	InputSchema map[string]any `json:"input_schema"`
}

// Model pricing for cost calculation (USD per 1M tokens).
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"claude-sonnet-4-20250514":   {3.00, 15.00},
	"claude-opus-4-20250514":     {15.00, 75.00},
	"claude-haiku-3-20240307":    {0.25, 1.25},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-opus-20240229":     {15.00, 75.00},
	"claude-3-sonnet-20240229":   {3.00, 15.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
}

// CalculateCost estimates the USD cost of a Converse call from its token
// counts, used by the CLI's status/tree views to surface a running task's
// approximate spend. Cache writes and reads aren't part of the Converse
// usage shape this design tracks (store.Usage has no cache fields), so this
// only prices plain input/output tokens.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = modelPricing["claude-sonnet-4-20250514"]
	}
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPer1M
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPer1M
	return inputCost + outputCost
}
