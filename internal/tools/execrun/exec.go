// Package execrun implements the exec.run tool: a shell subprocess bounded
// by a default 30s timeout, killed and reported as a timeout value on
// expiry rather than left running.
package execrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/quietloop/agentd/internal/toolregistry"
	"github.com/quietloop/agentd/internal/toolsafety"
)

// DefaultTimeout bounds a single exec.run invocation per the concurrency
// model's named timeout.
const DefaultTimeout = 30 * time.Second

var schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string"},
		"args": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["command"]
}`)

// Register adds exec.run to reg. exec.run carries requires_write=true,
// requires_approval=true per the external interfaces contract: every
// invocation not already carrying approved=true is intercepted by the
// policy engine.
func Register(reg *toolregistry.Registry) {
	reg.Register(toolregistry.Descriptor{
		Name:             "exec.run",
		Description:      "Run a shell command on the local host and return its combined output.",
		ParameterSchema:  schema,
		RequiresWrite:    true,
		RequiresApproval: true,
		ApprovalSummary:  "Run a shell command on the local host.",
		Handler:          handler(),
	})
}

func handler() toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		command, ok := args["command"].(string)
		if !ok || command == "" {
			return nil, fmt.Errorf("exec.run: missing required argument \"command\"")
		}
		if !toolsafety.IsSafeCommand(command) {
			return nil, fmt.Errorf("exec.run: unsafe command value")
		}

		var cmdArgs []string
		if raw, ok := args["args"].([]any); ok {
			for _, a := range raw {
				s, ok := a.(string)
				if !ok {
					return nil, fmt.Errorf("exec.run: args must all be strings")
				}
				cmdArgs = append(cmdArgs, s)
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()

		cmd := exec.CommandContext(timeoutCtx, command, cmdArgs...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		err := cmd.Run()
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("exec.run: timed out after %s", DefaultTimeout)
		}
		if err != nil {
			return map[string]any{"output": out.String(), "error": err.Error()}, nil
		}
		return map[string]any{"output": out.String()}, nil
	}
}
