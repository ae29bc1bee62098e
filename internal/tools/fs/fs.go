// Package fs provides the fs.read, fs.write, and fs.list_dir tool handlers,
// all of which resolve their path argument through a workspace.Guard before
// touching the filesystem.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/quietloop/agentd/internal/toolregistry"
	"github.com/quietloop/agentd/internal/workspace"
)

var readSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"path": {"type": "string"}},
	"required": ["path"]
}`)

var writeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"content": {"type": "string"}
	},
	"required": ["path", "content"]
}`)

var listDirSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"path": {"type": "string"}},
	"required": ["path"]
}`)

// Register adds fs.read, fs.write, and fs.list_dir to reg, all rooted at
// guard.
func Register(reg *toolregistry.Registry, guard *workspace.Guard) {
	reg.Register(toolregistry.Descriptor{
		Name:            "fs.read",
		Description:     "Read the contents of a file inside the workspace.",
		ParameterSchema: readSchema,
		Handler:         readHandler(guard),
	})
	reg.Register(toolregistry.Descriptor{
		Name:             "fs.write",
		Description:      "Write (overwrite) a file inside the workspace.",
		ParameterSchema:  writeSchema,
		RequiresWrite:    true,
		RequiresApproval: false,
		Handler:          writeHandler(guard),
	})
	reg.Register(toolregistry.Descriptor{
		Name:            "fs.list_dir",
		Description:     "List entries of a directory inside the workspace.",
		ParameterSchema: listDirSchema,
		Handler:         listDirHandler(guard),
	})
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func readHandler(guard *workspace.Guard) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		resolved, err := guard.Resolve(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("fs.read: %w", err)
		}
		return string(data), nil
	}
}

func writeHandler(guard *workspace.Guard) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		resolved, err := guard.Resolve(path)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("fs.write: %w", err)
		}
		return "ok", nil
	}
}

func listDirHandler(guard *workspace.Guard) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		resolved, err := guard.Resolve(path)
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return nil, fmt.Errorf("fs.list_dir: %w", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return names, nil
	}
}
