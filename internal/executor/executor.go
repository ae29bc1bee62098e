// Package executor implements the agent turn executor: the multi-iteration
// loop driving model, tools, and session history until a final reply,
// suspension pending approval, or iteration exhaustion.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/quietloop/agentd/internal/approvals"
	"github.com/quietloop/agentd/internal/contextbuilder"
	"github.com/quietloop/agentd/internal/eventhub"
	"github.com/quietloop/agentd/internal/policy"
	"github.com/quietloop/agentd/internal/provider"
	"github.com/quietloop/agentd/internal/sessionlog"
	"github.com/quietloop/agentd/internal/toolregistry"
)

// MaxIterations bounds the Thinking/Dispatch loop. After this many
// iterations without a Final state, the turn returns Exhausted.
const MaxIterations = 25

// Response is the executor's output for both a fresh turn and a resumed
// one. At most one pending approval is ever set; its presence means the
// turn is suspended, not finished.
type Response struct {
	Reply             string
	ToolCalls         []provider.ToolCall
	PendingApprovalID string
}

// Executor drives one session's turns. It holds no per-session state of
// its own; callers are responsible for serialising turns against the same
// session id (see the per-session-serialisation design note) — concurrent
// turns on one session are undefined behaviour the executor does not
// guard against.
type Executor struct {
	sessions  *sessionlog.Store
	approvals *approvals.Store
	registry  *toolregistry.Registry
	provider  provider.Provider
	hub       *eventhub.Hub
}

// New builds an Executor from its collaborators. None of them are package
// singletons; the caller (the boundary's AppState) owns and threads them
// through explicitly.
func New(
	sessions *sessionlog.Store,
	approvalStore *approvals.Store,
	registry *toolregistry.Registry,
	prov provider.Provider,
	hub *eventhub.Hub,
) *Executor {
	return &Executor{sessions: sessions, approvals: approvalStore, registry: registry, provider: prov, hub: hub}
}

// Run starts a new turn: appends userMessage to the session log, then
// drives the Thinking/Inspect/Dispatch loop until Final, Suspended, or
// Exhausted.
func (e *Executor) Run(ctx context.Context, auth policy.AuthContext, sessionID, systemPrompt, userMessage string) (Response, error) {
	if err := e.sessions.Append(sessionID, sessionlog.Message{Role: sessionlog.RoleUser, Content: userMessage}); err != nil {
		return Response{}, fmt.Errorf("executor: append user message: %w", err)
	}
	return e.loop(ctx, auth, sessionID, systemPrompt)
}

// Resume accepts a previously suspended turn's approval id. It verifies the
// approval belongs to this session and is allowed, replays the gated tool
// call with approved=true, consumes the approval, and re-enters the normal
// loop. Verification failure returns an error reply without advancing
// history.
func (e *Executor) Resume(ctx context.Context, auth policy.AuthContext, sessionID, systemPrompt, approvalID string) (Response, error) {
	a := e.approvals.Get(approvalID)
	if a == nil || a.SessionID != sessionID || a.Status != approvals.StatusAllow {
		return Response{Reply: "Invalid or non-allowed approval_id."}, nil
	}

	result, invokeErr := e.registry.Invoke(ctx, auth, sessionID, a.ToolName, a.ToolArguments, a.ToolCallID, true)
	if invokeErr != nil {
		// A MissingScope or a second ApprovalRequired at resume time
		// both terminate the turn the same way a first-pass failure
		// would.
		return e.terminateWithError(ctx, sessionID, invokeErr)
	}

	if err := e.sessions.Append(sessionID, sessionlog.Message{
		Role:       sessionlog.RoleTool,
		Content:    result.String(),
		ToolCallID: a.ToolCallID,
	}); err != nil {
		return Response{}, fmt.Errorf("executor: append tool result: %w", err)
	}

	if _, err := e.approvals.Consume(approvalID); err != nil {
		return Response{}, fmt.Errorf("executor: consume approval: %w", err)
	}
	e.emit(ctx, "approval.resolved", map[string]any{"id": approvalID, "decision": "allow"})

	return e.loop(ctx, auth, sessionID, systemPrompt)
}

// loop drives the Thinking/Inspect/Dispatch state machine starting from
// whatever history is currently on disk for sessionID.
func (e *Executor) loop(ctx context.Context, auth policy.AuthContext, sessionID, systemPrompt string) (Response, error) {
	var allCalls []provider.ToolCall

	for iteration := 0; iteration < MaxIterations; iteration++ {
		history, err := e.sessions.ReadAll(sessionID)
		if err != nil {
			return Response{}, fmt.Errorf("executor: read history: %w", err)
		}

		messages := contextbuilder.Build(systemPrompt, history)
		chatResp, err := e.provider.Chat(ctx, messages, e.registry.Definitions())
		if err != nil {
			return e.terminateWithError(ctx, sessionID, err)
		}

		if len(chatResp.ToolCalls) == 0 {
			if err := e.sessions.Append(sessionID, sessionlog.Message{Role: sessionlog.RoleAssistant, Content: chatResp.Content}); err != nil {
				return Response{}, fmt.Errorf("executor: append final reply: %w", err)
			}
			resp := Response{Reply: chatResp.Content, ToolCalls: allCalls}
			e.emit(ctx, "chat.reply", map[string]any{"session_id": sessionID})
			return resp, nil
		}

		allCalls = append(allCalls, chatResp.ToolCalls...)

		// Record the model's own turn — including the tool calls it
		// requested — before dispatching any of them, so every
		// subsequent tool message has a matching assistant message
		// with that call id already in history.
		if err := e.sessions.Append(sessionID, sessionlog.Message{
			Role:      sessionlog.RoleAssistant,
			Content:   chatResp.Content,
			ToolCalls: toLogToolCalls(chatResp.ToolCalls),
		}); err != nil {
			return Response{}, fmt.Errorf("executor: append assistant tool calls: %w", err)
		}

		suspended, resp, err := e.dispatch(ctx, auth, sessionID, chatResp.ToolCalls)
		if err != nil {
			return Response{}, err
		}
		if suspended {
			resp.ToolCalls = allCalls
			e.emit(ctx, "chat.reply", map[string]any{"session_id": sessionID, "pending_approval_id": resp.PendingApprovalID})
			return resp, nil
		}
		// else: continue the loop for the next Thinking iteration.
	}

	return Response{Reply: "Reached maximum iterations without a final answer.", ToolCalls: allCalls}, nil
}

// dispatch executes every tool call from one model turn, strictly in
// order. Parallel dispatch is forbidden: tool-result messages must land in
// history, in call order, before the next model call. The first
// ApprovalRequired short-circuits the remainder of the batch; any earlier
// calls in the same batch have already mutated history and stay there.
func (e *Executor) dispatch(ctx context.Context, auth policy.AuthContext, sessionID string, calls []provider.ToolCall) (bool, Response, error) {
	for _, call := range calls {
		result, err := e.registry.Invoke(ctx, auth, sessionID, call.Name, call.Arguments, call.ID, false)
		if err != nil {
			var apprErr *policy.ApprovalRequiredError
			if errors.As(err, &apprErr) {
				e.emit(ctx, "approval.created", map[string]any{"id": apprErr.ApprovalID, "tool_name": call.Name})
				return true, Response{
					Reply:             apprErr.Error(),
					ToolCalls:         calls,
					PendingApprovalID: apprErr.ApprovalID,
				}, nil
			}
			// MissingScope and any other non-control-flow error
			// terminate the turn.
			resp, termErr := e.terminateWithError(ctx, sessionID, err)
			return true, resp, termErr
		}

		if err := e.sessions.Append(sessionID, sessionlog.Message{
			Role:       sessionlog.RoleTool,
			Content:    result.String(),
			ToolCallID: call.ID,
		}); err != nil {
			return true, Response{}, fmt.Errorf("executor: append tool result: %w", err)
		}
	}
	return false, Response{}, nil
}

// terminateWithError converts a MissingScope or ProviderError into a
// best-effort human-readable reply and returns it as a terminal response;
// nothing is rolled back.
func (e *Executor) terminateWithError(ctx context.Context, sessionID string, err error) (Response, error) {
	var scopeErr *policy.MissingScopeError
	reply := err.Error()
	if errors.As(err, &scopeErr) {
		reply = scopeErr.Error()
	}
	if appendErr := e.sessions.Append(sessionID, sessionlog.Message{Role: sessionlog.RoleAssistant, Content: reply}); appendErr != nil {
		return Response{}, fmt.Errorf("executor: append terminal reply: %w", appendErr)
	}
	return Response{Reply: reply}, nil
}

func toLogToolCalls(calls []provider.ToolCall) []sessionlog.ToolCall {
	out := make([]sessionlog.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = sessionlog.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func (e *Executor) emit(ctx context.Context, event string, payload map[string]any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Broadcast(event, payload)
}
