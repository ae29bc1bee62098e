package toolregistry

import (
	"context"
	"testing"

	"github.com/quietloop/agentd/internal/approvals"
	"github.com/quietloop/agentd/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *policy.Engine {
	t.Helper()
	store, err := approvals.NewStore(t.TempDir() + "/approvals.json")
	require.NoError(t, err)
	return policy.NewEngine(store, nil)
}

func TestInvoke_UnknownToolReturnsStructuredError(t *testing.T) {
	reg := New(newTestEngine(t))
	ctx := policy.NewAuthContext("tok", policy.ScopeRead)

	result, err := reg.Invoke(context.Background(), ctx, "sess-1", "fs.delete_everything", nil, "c1", false)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Error, "Unknown tool")
}

func TestInvoke_MissingWriteScope(t *testing.T) {
	reg := New(newTestEngine(t))
	reg.Register(Descriptor{
		Name:          "fs.write",
		RequiresWrite: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "written", nil
		},
	})

	ctx := policy.NewAuthContext("tok", policy.ScopeRead)
	_, err := reg.Invoke(context.Background(), ctx, "sess-1", "fs.write", nil, "c1", false)
	require.Error(t, err)
	var scopeErr *policy.MissingScopeError
	assert.ErrorAs(t, err, &scopeErr)
}

func TestInvoke_RequiresApprovalSuspends(t *testing.T) {
	reg := New(newTestEngine(t))
	reg.Register(Descriptor{
		Name:             "exec.run",
		RequiresWrite:    true,
		RequiresApproval: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "ran", nil
		},
	})

	ctx := policy.NewAuthContext("tok", policy.ScopeWrite, policy.ScopeApprovals)
	_, err := reg.Invoke(context.Background(), ctx, "sess-1", "exec.run", map[string]any{"command": "ls"}, "c2", false)
	require.Error(t, err)
	var apprErr *policy.ApprovalRequiredError
	require.ErrorAs(t, err, &apprErr)
	assert.NotEmpty(t, apprErr.ApprovalID)
}

func TestInvoke_ApprovedBypassesApproval(t *testing.T) {
	reg := New(newTestEngine(t))
	reg.Register(Descriptor{
		Name:             "exec.run",
		RequiresWrite:    true,
		RequiresApproval: true,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "ran", nil
		},
	})

	ctx := policy.NewAuthContext("tok", policy.ScopeWrite, policy.ScopeApprovals)
	result, err := reg.Invoke(context.Background(), ctx, "sess-1", "exec.run", map[string]any{"command": "ls"}, "c2", true)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestInvoke_HandlerPanicIsRecovered(t *testing.T) {
	reg := New(newTestEngine(t))
	reg.Register(Descriptor{
		Name: "fs.read",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			panic("boom")
		},
	})

	ctx := policy.NewAuthContext("tok", policy.ScopeRead)
	result, err := reg.Invoke(context.Background(), ctx, "sess-1", "fs.read", nil, "c1", false)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Error, "panicked")
}
