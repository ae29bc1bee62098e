// Package appstate composes the daemon's collaborators into a single
// explicitly-threaded struct. Per the design note on avoiding process-wide
// singletons, nothing here is a package-level var: every HTTP handler and
// CLI command receives the *AppState it needs as an argument.
package appstate

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/quietloop/agentd/internal/approvals"
	"github.com/quietloop/agentd/internal/audit"
	"github.com/quietloop/agentd/internal/authtoken"
	"github.com/quietloop/agentd/internal/config"
	"github.com/quietloop/agentd/internal/eventhub"
	"github.com/quietloop/agentd/internal/executor"
	"github.com/quietloop/agentd/internal/metrics"
	"github.com/quietloop/agentd/internal/policy"
	"github.com/quietloop/agentd/internal/provider"
	"github.com/quietloop/agentd/internal/sessionlog"
	"github.com/quietloop/agentd/internal/tools/email"
	"github.com/quietloop/agentd/internal/tools/execrun"
	"github.com/quietloop/agentd/internal/tools/fs"
	"github.com/quietloop/agentd/internal/tools/webfetch"
	"github.com/quietloop/agentd/internal/toolregistry"
	"github.com/quietloop/agentd/internal/workspace"
)

// AppState is every long-lived collaborator the daemon needs, wired up
// once at startup.
type AppState struct {
	Config    config.Config
	Guard     *workspace.Guard
	Sessions  *sessionlog.Store
	Approvals *approvals.Store
	Policy    *policy.Engine
	Resolver  *policy.Resolver
	Registry  *toolregistry.Registry
	Provider  provider.Provider
	Hub       *eventhub.Hub
	Audit     *audit.Sink
	Tokens    *authtoken.Service
	Metrics   *metrics.Metrics
	Executor  *executor.Executor
}

// New wires every collaborator from cfg and registers the daemon's full
// tool set: fs.read, fs.write, fs.list_dir, exec.run, web.fetch,
// email.list_recent, and email.send.
func New(cfg config.Config) (*AppState, error) {
	guard, err := workspace.NewGuard(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("appstate: workspace guard: %w", err)
	}

	sessions, err := sessionlog.NewStore(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("appstate: session store: %w", err)
	}

	approvalStore, err := approvals.NewStore(cfg.Approval.StorePath)
	if err != nil {
		return nil, fmt.Errorf("appstate: approval store: %w", err)
	}
	if err := approvalStore.StartExpirySweep("@every 1m"); err != nil {
		return nil, fmt.Errorf("appstate: approval expiry sweep: %w", err)
	}

	resolver := policy.NewResolver()
	engine := policy.NewEngine(approvalStore, resolver)

	registry := toolregistry.New(engine)
	fs.Register(registry, guard)
	execrun.Register(registry)
	webfetch.Register(registry, rate.Limit(1), 3)
	email.Register(registry, email.NoopTransport{})

	chatProvider := provider.NewOpenAIProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.Timeout)

	hub := eventhub.New()

	auditSink, err := audit.NewSink(cfg.Audit.LogPath)
	if err != nil {
		return nil, fmt.Errorf("appstate: audit sink: %w", err)
	}

	tokens, err := authtoken.NewService(cfg.Auth.SecretPath, cfg.Auth.Expiry)
	if err != nil {
		return nil, fmt.Errorf("appstate: auth token service: %w", err)
	}

	m := metrics.New()
	m.Subscribe(hub)

	exec := executor.New(sessions, approvalStore, registry, chatProvider, hub)

	return &AppState{
		Config:    cfg,
		Guard:     guard,
		Sessions:  sessions,
		Approvals: approvalStore,
		Policy:    engine,
		Resolver:  resolver,
		Registry:  registry,
		Provider:  chatProvider,
		Hub:       hub,
		Audit:     auditSink,
		Tokens:    tokens,
		Metrics:   m,
		Executor:  exec,
	}, nil
}

// Close releases every collaborator holding an open file handle and stops
// the approval expiry sweep.
func (a *AppState) Close() error {
	a.Approvals.Stop()
	if err := a.Sessions.Close(); err != nil {
		return err
	}
	return a.Audit.Close()
}

// WatchConfig starts a config.Watcher against path. The reloaded Config is
// discarded: no setting of the running AppState changes when the file
// changes. The caller owns the returned Watcher's lifetime.
func (a *AppState) WatchConfig(path string) (*config.Watcher, error) {
	return config.WatchFile(path, func(config.Config) {})
}

// PendingApprovalTimeout returns the configured default approval timeout,
// falling back to approvals.DefaultTimeout when unset.
func (a *AppState) PendingApprovalTimeout() time.Duration {
	if a.Config.Approval.Timeout > 0 {
		return a.Config.Approval.Timeout
	}
	return approvals.DefaultTimeout
}
