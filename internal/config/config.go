// Package config loads the daemon's YAML configuration and watches it for
// changes relevant to hot-reloadable settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Provider  ProviderConfig  `yaml:"provider"`
	Auth      AuthConfig      `yaml:"auth"`
	Audit     AuditConfig     `yaml:"audit"`
	Approval  ApprovalConfig  `yaml:"approval"`
}

// ServerConfig configures the control-plane listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// WorkspaceConfig configures the filesystem root the workspace guard
// enforces containment against.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ProviderConfig configures the chat-completion backend.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures the bearer-token facade.
type AuthConfig struct {
	SecretPath string        `yaml:"secret_path"`
	Expiry     time.Duration `yaml:"expiry"`
}

// AuditConfig configures the audit sink location.
type AuditConfig struct {
	LogPath string `yaml:"log_path"`
}

// ApprovalConfig configures the approval store location and default
// timeout.
type ApprovalConfig struct {
	StorePath string        `yaml:"store_path"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Default returns a Config with every field populated from a sane
// default, suitable for a first run with no config file present.
func Default() Config {
	return Config{
		Server:    ServerConfig{ListenAddr: "127.0.0.1:8765"},
		Workspace: WorkspaceConfig{Root: "./workspace"},
		Provider:  ProviderConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", Timeout: 120 * time.Second},
		Auth:      AuthConfig{SecretPath: "./workspace/.agentd/token.secret"},
		Audit:     AuditConfig{LogPath: "./workspace/.agentd/audit.ndjson"},
		Approval:  ApprovalConfig{StorePath: "./workspace/.agentd/approvals.json", Timeout: 5 * time.Minute},
	}
}

// Load reads and decodes path, layering it over Default(). A missing file
// is not an error: the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Watcher reloads the config when the file changes on disk.
type Watcher struct {
	fs *fsnotify.Watcher
}

// WatchFile starts watching path and invokes onChange with the freshly
// reloaded Config whenever it changes. The returned Watcher must be
// closed by the caller.
func WatchFile(path string, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		for event := range fw.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)
		}
	}()

	return &Watcher{fs: fw}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fs.Close() }
