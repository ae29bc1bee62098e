package executor

import (
	"context"
	"testing"

	"github.com/quietloop/agentd/internal/approvals"
	"github.com/quietloop/agentd/internal/eventhub"
	"github.com/quietloop/agentd/internal/policy"
	"github.com/quietloop/agentd/internal/provider"
	"github.com/quietloop/agentd/internal/sessionlog"
	"github.com/quietloop/agentd/internal/toolregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider replays a scripted sequence of responses, one per Chat call.
type stubProvider struct {
	responses []provider.ChatResponse
	calls     int
}

func (p *stubProvider) Chat(ctx context.Context, messages []provider.Message, tools []toolregistry.Definition) (provider.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return p.responses[len(p.responses)-1], nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

type harness struct {
	exec      *Executor
	sessions  *sessionlog.Store
	approvals *approvals.Store
	registry  *toolregistry.Registry
}

func newHarness(t *testing.T, stub *stubProvider) harness {
	t.Helper()
	sessions, err := sessionlog.NewStore(t.TempDir())
	require.NoError(t, err)

	approvalStore, err := approvals.NewStore(t.TempDir() + "/approvals.json")
	require.NoError(t, err)

	engine := policy.NewEngine(approvalStore, nil)
	registry := toolregistry.New(engine)
	registry.Register(toolregistry.Descriptor{
		Name: "fs.list_dir",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return []string{"a.txt", "b.txt"}, nil
		},
	})
	registry.Register(toolregistry.Descriptor{
		Name:             "exec.run",
		RequiresWrite:    true,
		RequiresApproval: true,
		ApprovalSummary:  "run a shell command",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	})
	registry.Register(toolregistry.Descriptor{
		Name:          "fs.write",
		RequiresWrite: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "written", nil
		},
	})

	exec := New(sessions, approvalStore, registry, stub, eventhub.New())
	return harness{exec: exec, sessions: sessions, approvals: approvalStore, registry: registry}
}

func TestS1_NoToolReply(t *testing.T) {
	stub := &stubProvider{responses: []provider.ChatResponse{{Content: "hi"}}}
	h := newHarness(t, stub)
	ctx := policy.NewAuthContext("tok", policy.ScopeRead)

	resp, err := h.exec.Run(context.Background(), ctx, "s1", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Reply)
	assert.Empty(t, resp.ToolCalls)
	assert.Empty(t, resp.PendingApprovalID)

	history, err := h.sessions.ReadAll("s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, sessionlog.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, sessionlog.RoleAssistant, history[1].Role)
	assert.Equal(t, "hi", history[1].Content)
}

func TestS2_LowRiskToolThenReply(t *testing.T) {
	stub := &stubProvider{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "fs.list_dir", Arguments: map[string]any{"path": "."}}}},
		{Content: "done"},
	}}
	h := newHarness(t, stub)
	ctx := policy.NewAuthContext("tok", policy.ScopeRead)

	resp, err := h.exec.Run(context.Background(), ctx, "s2", "", "list files")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Reply)

	history, err := h.sessions.ReadAll("s2")
	require.NoError(t, err)

	var toolMsg *sessionlog.Message
	for i := range history {
		if history[i].Role == sessionlog.RoleTool {
			toolMsg = &history[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
}

func TestS3_ApprovalRequired(t *testing.T) {
	stub := &stubProvider{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "exec.run", Arguments: map[string]any{"command": "ls"}}}},
	}}
	h := newHarness(t, stub)
	ctx := policy.NewAuthContext("tok", policy.ScopeWrite, policy.ScopeApprovals)

	resp, err := h.exec.Run(context.Background(), ctx, "s3", "", "run ls")
	require.NoError(t, err)
	require.NotEmpty(t, resp.PendingApprovalID)

	pending, err := h.approvals.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "exec.run", pending[0].ToolName)
	assert.Equal(t, "s3", pending[0].SessionID)
	assert.Equal(t, "c2", pending[0].ToolCallID)
	assert.Equal(t, "ls", pending[0].ToolArguments["command"])
}

func TestS4_ResumeAfterAllow(t *testing.T) {
	stub := &stubProvider{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "exec.run", Arguments: map[string]any{"command": "ls"}}}},
	}}
	h := newHarness(t, stub)
	ctx := policy.NewAuthContext("tok", policy.ScopeWrite, policy.ScopeApprovals)

	resp, err := h.exec.Run(context.Background(), ctx, "s4", "", "run ls")
	require.NoError(t, err)
	approvalID := resp.PendingApprovalID
	require.NotEmpty(t, approvalID)

	ok, err := h.approvals.Resolve(approvalID, approvals.DecisionAllow, "console")
	require.NoError(t, err)
	require.True(t, ok)

	stub.responses = append(stub.responses, provider.ChatResponse{Content: "ok"})
	resp, err = h.exec.Resume(context.Background(), ctx, "s4", "", approvalID)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Reply)

	consumed, err := h.approvals.Consume(approvalID)
	require.NoError(t, err)
	assert.False(t, consumed, "already consumed by Resume")

	resp, err = h.exec.Resume(context.Background(), ctx, "s4", "", approvalID)
	require.NoError(t, err)
	assert.Equal(t, "Invalid or non-allowed approval_id.", resp.Reply)
}

func TestS5_MissingScope(t *testing.T) {
	stub := &stubProvider{responses: []provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c3", Name: "fs.write", Arguments: map[string]any{"path": "x"}}}},
	}}
	h := newHarness(t, stub)
	ctx := policy.NewAuthContext("tok", policy.ScopeRead)

	resp, err := h.exec.Run(context.Background(), ctx, "s5", "", "write a file")
	require.NoError(t, err)
	assert.Contains(t, resp.Reply, "Missing scope: write")

	pending, err := h.approvals.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestS6_IterationCap(t *testing.T) {
	responses := make([]provider.ChatResponse, 0, MaxIterations)
	for i := 0; i < MaxIterations; i++ {
		responses = append(responses, provider.ChatResponse{
			ToolCalls: []provider.ToolCall{{ID: "c", Name: "fs.list_dir", Arguments: nil}},
		})
	}
	stub := &stubProvider{responses: responses}
	h := newHarness(t, stub)
	ctx := policy.NewAuthContext("tok", policy.ScopeRead)

	resp, err := h.exec.Run(context.Background(), ctx, "s6", "", "loop forever")
	require.NoError(t, err)
	assert.Equal(t, "Reached maximum iterations without a final answer.", resp.Reply)
	assert.Len(t, resp.ToolCalls, MaxIterations)
	assert.Empty(t, resp.PendingApprovalID)
}
