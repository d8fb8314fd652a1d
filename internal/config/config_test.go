package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8003, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Agent.MaxTurns)
	assert.Equal(t, "gateway", cfg.Agent.PlanSource)
	assert.Equal(t, []string{"Domain-KB", "Body-KB", "Soul-KB"}, cfg.Knowledge.Bases)
	assert.Equal(t, "Body-KB", cfg.Knowledge.DefaultBase)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server port",
		},
		{
			name:    "zero max turns",
			mutate:  func(c *Config) { c.Agent.MaxTurns = 0 },
			wantErr: "max_turns",
		},
		{
			name:    "unknown plan source",
			mutate:  func(c *Config) { c.Agent.PlanSource = "ouija" },
			wantErr: "plan_source",
		},
		{
			name:    "unknown embedding provider",
			mutate:  func(c *Config) { c.Knowledge.EmbeddingProvider = "psychic" },
			wantErr: "embedding_provider",
		},
		{
			name:    "no bases",
			mutate:  func(c *Config) { c.Knowledge.Bases = nil },
			wantErr: "knowledge base",
		},
		{
			name:    "default base not configured",
			mutate:  func(c *Config) { c.Knowledge.DefaultBase = "Ghost-KB" },
			wantErr: "not among configured bases",
		},
		{
			name:    "bad top_k",
			mutate:  func(c *Config) { c.Knowledge.TopK = -1 },
			wantErr: "top_k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Agent.MaxTurns)
	assert.NotEmpty(t, cfg.Knowledge.DBPath)
	assert.NotEmpty(t, cfg.Sessions.DBPath)
}

func TestLoader_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minder.json")
	body := `{"agent": {"max_turns": 5}, "server": {"port": 9999}, "data_dir": "` + dir + `"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Agent.MaxTurns)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "knowledge.db"), cfg.Knowledge.DBPath)
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"max_turns": -2}}`), 0600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
