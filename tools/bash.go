package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// BashInputSchema is the bash tool's input schema, grounded on
// original_source/tools/bash_tool.py's BASH_SPEC.
var BashInputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"command": map[string]any{"type": "string", "description": "The bash command to execute"},
	},
	"required": []any{"command"},
}

const bashDescription = "Execute a bash command and return stdout, stderr, and exit code"

// bashTimeout matches bash_tool.py's subprocess.run(..., timeout=60).
const bashTimeout = 60 * time.Second

// RegisterBash adds the bash tool to a Registry, running each command
// through the shell with a fixed timeout. Grounded on bash_tool.py's
// bash_tool (subprocess.run(shell=True, capture_output=True, timeout=60)).
func RegisterBash(r *Registry) error {
	return r.Register("bash", bashDescription, BashInputSchema, runBash)
}

func runBash(ctx context.Context, _ string, input map[string]any) (string, bool) {
	command, _ := input["command"].(string)

	ctx, cancel := context.WithTimeout(ctx, bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	returnCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		returnCode = exitErr.ExitCode()
	} else if runErr != nil && ctx.Err() == context.DeadlineExceeded {
		stderr.WriteString(fmt.Sprintf("\ncommand timed out after %s", bashTimeout))
		returnCode = -1
	}

	return jsonRoundTrip(map[string]any{
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returnCode,
	}), false
}
