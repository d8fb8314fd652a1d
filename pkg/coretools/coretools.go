// Package coretools registers the built-in local tools: workspace file
// access and a clock. Everything else is delegated to the sandbox
// service by the executor.
package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harun/minder/pkg/toolexec"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines file tools. Required.
	WorkspaceRoot string

	// MaxReadBytes caps read_file output. Zero means 256 KiB.
	MaxReadBytes int64
}

const defaultMaxReadBytes = 256 * 1024

// RegisterCoreTools registers the built-in tools on the executor.
func RegisterCoreTools(executor *toolexec.Executor, opts Options) error {
	if opts.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}
	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if opts.MaxReadBytes <= 0 {
		opts.MaxReadBytes = defaultMaxReadBytes
	}
	opts.WorkspaceRoot = root

	defs := []toolexec.ToolDefinition{
		readFileTool(opts),
		writeFileTool(opts),
		listDirTool(opts),
		currentTimeTool(),
	}
	for _, def := range defs {
		if err := executor.RegisterTool(def); err != nil {
			return err
		}
	}
	return nil
}

func readFileTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "read_file",
		Description: "Read a UTF-8 text file from the workspace",
		Parameters: []toolexec.ToolParameter{
			{Name: "path", Type: "string", Description: "workspace-relative file path", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			target, err := resolveWorkspacePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(target)
			if err != nil {
				return nil, fmt.Errorf("failed to read %q: %w", args["path"], err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%q is a directory", args["path"])
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, fmt.Errorf("failed to read %q: %w", args["path"], err)
			}

			truncated := false
			if int64(len(data)) > opts.MaxReadBytes {
				data = data[:opts.MaxReadBytes]
				truncated = true
			}

			return map[string]interface{}{
				"path":      args["path"],
				"content":   string(data),
				"truncated": truncated,
			}, nil
		},
	}
}

func writeFileTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "write_file",
		Description: "Write a UTF-8 text file inside the workspace, creating parent directories",
		Parameters: []toolexec.ToolParameter{
			{Name: "path", Type: "string", Description: "workspace-relative file path", Required: true},
			{Name: "content", Type: "string", Description: "full file content", Required: true},
			{Name: "append", Type: "boolean", Description: "append instead of overwrite", Required: false, Default: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			target, err := resolveWorkspacePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return nil, err
			}
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create parent directory: %w", err)
			}

			flags := os.O_WRONLY | os.O_CREATE
			if appendMode {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flags, 0o644)
			if err != nil {
				return nil, fmt.Errorf("failed to open %q: %w", args["path"], err)
			}
			defer f.Close()

			n, err := f.WriteString(content)
			if err != nil {
				return nil, fmt.Errorf("failed to write %q: %w", args["path"], err)
			}

			return map[string]interface{}{
				"path":    args["path"],
				"written": n,
				"append":  appendMode,
			}, nil
		},
	}
}

func listDirTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "list_dir",
		Description: "List entries of a workspace directory",
		Parameters: []toolexec.ToolParameter{
			{Name: "path", Type: "string", Description: "workspace-relative directory, defaults to the root", Required: false, Default: "."},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			pathArg := args["path"]
			if pathArg == nil || pathArg == "" {
				pathArg = "."
			}
			target, err := resolveWorkspacePath(opts.WorkspaceRoot, pathArg)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, fmt.Errorf("failed to list %q: %w", pathArg, err)
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)

			return map[string]interface{}{
				"path":    pathArg,
				"entries": names,
			}, nil
		},
	}
}

func currentTimeTool() toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name:        "current_time",
		Description: "Return the current UTC time",
		Parameters:  []toolexec.ToolParameter{},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			now := time.Now().UTC()
			return map[string]interface{}{
				"utc":  now.Format(time.RFC3339),
				"unix": now.Unix(),
			}, nil
		},
	}
}

// resolveWorkspacePath joins a relative path onto the workspace root
// and rejects anything that escapes it.
func resolveWorkspacePath(root string, value interface{}) (string, error) {
	rel, ok := value.(string)
	if !ok || rel == "" {
		return "", fmt.Errorf("path must be a non-empty string")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be workspace-relative")
	}

	joined := filepath.Clean(filepath.Join(root, rel))
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return joined, nil
}
