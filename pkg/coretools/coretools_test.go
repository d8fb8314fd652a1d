package coretools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/minder/pkg/toolexec"
)

func newTestExecutor(t *testing.T) (*toolexec.Executor, string) {
	t.Helper()

	root := t.TempDir()
	executor := toolexec.New(nil, zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, RegisterCoreTools(executor, Options{WorkspaceRoot: root}))
	return executor, root
}

func asMap(t *testing.T, result interface{}) map[string]interface{} {
	t.Helper()

	m, ok := result.(map[string]interface{})
	require.True(t, ok, "expected map result, got %T", result)
	return m
}

func TestRegisterCoreToolsRequiresRoot(t *testing.T) {
	executor := toolexec.New(nil, zerolog.New(nil).Level(zerolog.Disabled))
	assert.Error(t, RegisterCoreTools(executor, Options{}))
}

func TestRegisterCoreToolsRegistersAll(t *testing.T) {
	executor, _ := newTestExecutor(t)

	names := make(map[string]bool)
	for _, def := range executor.Tools() {
		names[def.Name] = true
	}
	for _, want := range []string{"read_file", "write_file", "list_dir", "current_time"} {
		assert.True(t, names[want], want)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	executor, _ := newTestExecutor(t)
	ctx := context.Background()

	result := asMap(t, executor.Execute(ctx, "write_file", map[string]interface{}{
		"path":    "notes/hello.txt",
		"content": "hello world",
	}))
	assert.Equal(t, 11, result["written"])

	read := asMap(t, executor.Execute(ctx, "read_file", map[string]interface{}{
		"path": "notes/hello.txt",
	}))
	assert.Equal(t, "hello world", read["content"])
	assert.Equal(t, false, read["truncated"])
}

func TestWriteAppendMode(t *testing.T) {
	executor, _ := newTestExecutor(t)
	ctx := context.Background()

	executor.Execute(ctx, "write_file", map[string]interface{}{"path": "log.txt", "content": "a"})
	executor.Execute(ctx, "write_file", map[string]interface{}{"path": "log.txt", "content": "b", "append": true})

	read := asMap(t, executor.Execute(ctx, "read_file", map[string]interface{}{"path": "log.txt"}))
	assert.Equal(t, "ab", read["content"])
}

func TestReadFileTruncation(t *testing.T) {
	root := t.TempDir()
	executor := toolexec.New(nil, zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, RegisterCoreTools(executor, Options{WorkspaceRoot: root, MaxReadBytes: 4}))

	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte("0123456789"), 0o644))

	read := asMap(t, executor.Execute(context.Background(), "read_file", map[string]interface{}{"path": "big.txt"}))
	assert.Equal(t, "0123", read["content"])
	assert.Equal(t, true, read["truncated"])
}

func TestListDir(t *testing.T) {
	executor, root := newTestExecutor(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	result := asMap(t, executor.Execute(context.Background(), "list_dir", map[string]interface{}{}))
	entries, ok := result["entries"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"a.txt", "sub/"}, entries)
}

func TestPathEscapeRejected(t *testing.T) {
	executor, _ := newTestExecutor(t)
	ctx := context.Background()

	for _, path := range []string{"../outside.txt", "/etc/passwd", "sub/../../escape"} {
		result := asMap(t, executor.Execute(ctx, "read_file", map[string]interface{}{"path": path}))
		assert.Equal(t, "tool_error", result["error"], path)
	}
}

func TestCurrentTime(t *testing.T) {
	executor, _ := newTestExecutor(t)

	result := asMap(t, executor.Execute(context.Background(), "current_time", map[string]interface{}{}))
	assert.NotEmpty(t, result["utc"])
	assert.NotZero(t, result["unix"])
}
