// Package contextbuilder assembles a system prompt, session history, and
// tool definitions into the provider-shaped payload the model provider
// adapter sends on each iteration.
package contextbuilder

import (
	"github.com/quietloop/agentd/internal/provider"
	"github.com/quietloop/agentd/internal/sessionlog"
)

// Build produces the provider-shape payload: a system entry followed by
// each history message in order. tool-role messages carry their
// tool_call_id; every other role carries only role and content. The
// context is recomputed fresh on every call — history is never rewritten
// in place.
func Build(systemPrompt string, history []sessionlog.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history)+1)
	out = append(out, provider.Message{Role: "system", Content: systemPrompt})

	for _, msg := range history {
		pm := provider.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == sessionlog.RoleTool {
			pm.ToolCallID = msg.ToolCallID
		}
		out = append(out, pm)
	}
	return out
}
