// Package doctor implements the health checks behind "agentd doctor":
// workspace writability, config validity, and auth token presence.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quietloop/agentd/internal/config"
)

// Check is one named diagnostic result.
type Check struct {
	Name    string
	OK      bool
	Detail  string
}

// Run executes every check against cfg and returns them in a fixed order.
func Run(cfg config.Config) []Check {
	return []Check{
		checkWorkspaceWritable(cfg),
		checkAuthSecret(cfg),
		checkAuditLogDir(cfg),
		checkApprovalStoreDir(cfg),
		checkProviderConfigured(cfg),
	}
}

func checkWorkspaceWritable(cfg config.Config) Check {
	root := cfg.Workspace.Root
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Check{Name: "workspace writable", OK: false, Detail: err.Error()}
	}
	probe := filepath.Join(root, ".agentd-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Check{Name: "workspace writable", OK: false, Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return Check{Name: "workspace writable", OK: true, Detail: root}
}

func checkAuthSecret(cfg config.Config) Check {
	if _, err := os.Stat(cfg.Auth.SecretPath); err != nil {
		if os.IsNotExist(err) {
			return Check{Name: "auth secret", OK: true, Detail: "will be created on first run"}
		}
		return Check{Name: "auth secret", OK: false, Detail: err.Error()}
	}
	return Check{Name: "auth secret", OK: true, Detail: cfg.Auth.SecretPath}
}

func checkAuditLogDir(cfg config.Config) Check {
	dir := filepath.Dir(cfg.Audit.LogPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "audit log directory", OK: false, Detail: err.Error()}
	}
	return Check{Name: "audit log directory", OK: true, Detail: dir}
}

func checkApprovalStoreDir(cfg config.Config) Check {
	dir := filepath.Dir(cfg.Approval.StorePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "approval store directory", OK: false, Detail: err.Error()}
	}
	return Check{Name: "approval store directory", OK: true, Detail: dir}
}

func checkProviderConfigured(cfg config.Config) Check {
	if cfg.Provider.BaseURL == "" {
		return Check{Name: "provider base url", OK: false, Detail: "provider.base_url is empty"}
	}
	if cfg.Provider.APIKey == "" {
		return Check{Name: "provider api key", OK: false, Detail: "provider.api_key is empty; requests will be unauthenticated"}
	}
	return Check{Name: "provider configured", OK: true, Detail: fmt.Sprintf("%s (%s)", cfg.Provider.BaseURL, cfg.Provider.Model)}
}
