// Package tools implements the built-in tool set a task can call during a
// turn: spawn_task, query_task, think, and bash. It is the Go home for
// original_source/tools/*.py, registered behind the same fixed-signature
// dispatch style as the teacher's Tools.Execute, generalized from the
// teacher's reflection-based Register to a single handler shape since every
// tool here already has a uniform (ctx, taskID, input) -> (string, bool)
// signature.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taskweave/taskweave/llm"
)

// Handler executes one tool call and reports whether the result represents
// an error (surfaced to the model as a toolResult with status "error",
// mirroring the Converse API's error-content-block contract).
type Handler func(ctx context.Context, taskID string, input map[string]any) (result string, isError bool)

type registeredTool struct {
	schema  llm.ToolSchema
	handler Handler
	valid   *jsonschema.Schema
}

// Registry is the task-local tool dispatcher passed to engine.New as its
// engine.ToolExecutor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*registeredTool{}}
}

// Register adds a tool, compiling its input schema once up front so every
// call validates against an already-compiled jsonschema.Schema instead of
// recompiling per invocation. Grounded on goadesign-goa-ai's
// validatePayloadJSONAgainstSchema (NewCompiler/AddResource/Compile), with
// compilation moved to registration time since the schema here is static
// per tool rather than per request.
func (r *Registry) Register(name, description string, inputSchema map[string]any, handler Handler) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".schema.json", inputSchema); err != nil {
		return fmt.Errorf("tools: add schema resource for %s: %w", name, err)
	}
	compiled, err := c.Compile(name + ".schema.json")
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &registeredTool{
		schema:  llm.ToolSchema{Name: name, Description: description, InputSchema: inputSchema},
		handler: handler,
		valid:   compiled,
	}
	return nil
}

// Execute implements engine.ToolExecutor: validate the input against the
// tool's schema, then dispatch. A validation failure is reported as an
// error toolResult rather than a Go error, the same way an unknown tool
// name is, since both are model-facing outcomes rather than host failures.
func (r *Registry) Execute(ctx context.Context, taskID, name string, input map[string]any) (string, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name), true
	}

	if err := t.valid.Validate(input); err != nil {
		return fmt.Sprintf("invalid input for %s: %v", name, err), true
	}

	return t.handler(ctx, taskID, input)
}

// Schemas returns the tool schemas for every registered tool, in the shape
// the Turn Engine passes to the LLM Gateway's Converse tool configuration.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, t.schema)
	}
	return schemas
}

// jsonRoundTrip re-marshals a Go value through JSON, the way the tool
// handlers below build their result strings from structured data (the
// Python originals return dicts that get JSON-serialized for the toolResult
// content).
func jsonRoundTrip(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(b)
}
