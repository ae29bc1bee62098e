// Package policy enforces scope checks and intercepts side-effecting tool
// calls for a two-phase human approval.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/quietloop/agentd/internal/approvals"
)

// Scope is a named capability granted to an AuthContext.
type Scope string

const (
	ScopeRead      Scope = "read"
	ScopeWrite     Scope = "write"
	ScopeApprovals Scope = "approvals"
	ScopeAdmin     Scope = "admin"
)

// AuthContext is produced by the boundary once per request and is immutable
// within a turn.
type AuthContext struct {
	Token  string
	Scopes map[Scope]bool
}

// HasScope reports whether ctx was granted scope.
func (ctx AuthContext) HasScope(scope Scope) bool {
	return ctx.Scopes != nil && ctx.Scopes[scope]
}

// NewAuthContext builds an AuthContext from a token and a set of scope
// names, tolerating unknown scope strings by simply not granting them.
func NewAuthContext(token string, scopes ...Scope) AuthContext {
	set := make(map[Scope]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return AuthContext{Token: token, Scopes: set}
}

// MissingScopeError terminates a turn: the caller lacked a scope a tool
// invocation required.
type MissingScopeError struct {
	Scope Scope
}

func (e *MissingScopeError) Error() string {
	return fmt.Sprintf("Missing scope: %s", e.Scope)
}

// ApprovalRequiredError is a control-flow signal, not a failure: it tells
// the executor to suspend the turn pending a human decision.
type ApprovalRequiredError struct {
	ApprovalID string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("Approval required: %s", e.ApprovalID)
}

// Engine wraps the approval store and performs the scope/approval
// interception ordering the executor relies on: a scope failure must never
// leave a dangling pending approval behind.
type Engine struct {
	approvals *approvals.Store

	// Resolver matches tool names against named profiles/groups so an
	// AuthContext's scopes can be derived from a small set of named
	// profiles (minimal/coding/messaging/full) plus allow/deny overrides
	// rather than being hand-assigned per caller.
	resolver *Resolver
}

// NewEngine builds a policy Engine over an approval store.
func NewEngine(store *approvals.Store, resolver *Resolver) *Engine {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Engine{approvals: store, resolver: resolver}
}

// Resolver returns the tool-name resolver backing this engine's profile
// evaluation.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// RequireScope fails with MissingScope unless scope is present on ctx.
func (e *Engine) RequireScope(ctx AuthContext, scope Scope) error {
	if !ctx.HasScope(scope) {
		return &MissingScopeError{Scope: scope}
	}
	return nil
}

// EnforceWriteScope is shorthand for RequireScope(ctx, write).
func (e *Engine) EnforceWriteScope(ctx AuthContext) error {
	return e.RequireScope(ctx, ScopeWrite)
}

// MaybeRequireApproval creates a pending approval and fails with
// ApprovalRequired when require is true. The scope check happens before
// approval creation, so an unauthorised caller never leaves a dangling
// pending record.
func (e *Engine) MaybeRequireApproval(
	ctx AuthContext,
	sessionID, toolName string,
	args map[string]any,
	summary string,
	require bool,
	toolCallID string,
) error {
	if !require {
		return nil
	}
	if err := e.RequireScope(ctx, ScopeApprovals); err != nil {
		return err
	}
	a, err := e.approvals.Create(sessionID, toolName, args, toolCallID, summary, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("policy: create approval: %w", err)
	}
	return &ApprovalRequiredError{ApprovalID: a.ID}
}

// Profile is a pre-configured tool access level, carried from the
// teacher's policy profiles so an AuthContext's scope set can be derived
// from a short name instead of enumerated by hand.
type Profile string

const (
	ProfileMinimal   Profile = "minimal"
	ProfileCoding    Profile = "coding"
	ProfileMessaging Profile = "messaging"
	ProfileFull      Profile = "full"
)

// Rule combines a profile with explicit allow/deny overrides. Deny always
// takes precedence over allow.
type Rule struct {
	Profile Profile
	Allow   []string
	Deny    []string
}

var defaultGroups = map[Profile][]string{
	ProfileMinimal:   {"fs.read", "fs.list_dir"},
	ProfileCoding:    {"fs.read", "fs.write", "fs.list_dir", "exec.run", "web.fetch"},
	ProfileMessaging: {"email.list_recent", "email.send"},
	ProfileFull:      {"fs.read", "fs.write", "fs.list_dir", "exec.run", "web.fetch", "email.list_recent", "email.send"},
}

// Resolver matches tool names against profile groups plus allow/deny glob
// patterns (`fs.*`, `email.*`).
type Resolver struct {
	groups map[Profile][]string
}

// NewResolver builds a Resolver seeded with the default profile groups.
func NewResolver() *Resolver {
	return &Resolver{groups: defaultGroups}
}

// Allowed reports whether tool is permitted under rule.
func (r *Resolver) Allowed(rule Rule, tool string) bool {
	for _, pattern := range rule.Deny {
		if matchPattern(pattern, tool) {
			return false
		}
	}
	for _, pattern := range rule.Allow {
		if matchPattern(pattern, tool) {
			return true
		}
	}
	for _, t := range r.groups[rule.Profile] {
		if matchPattern(t, tool) {
			return true
		}
	}
	return false
}

// matchPattern supports exact match, a trailing "*" prefix wildcard (e.g.
// "fs.*"), and a leading "*" suffix wildcard.
func matchPattern(pattern, tool string) bool {
	switch {
	case pattern == tool:
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(tool, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(tool, strings.TrimPrefix(pattern, "*"))
	default:
		return false
	}
}
