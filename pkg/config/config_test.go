package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"OLLAMA_BASE_URL", "DATABASE_URL", "DOC_CONVERTER_URL", "DOC_PARSER_URL", "CLM_LOG_MODE"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "clm.yaml")

	configData := `
database:
  driver: postgres
  url: "postgres://localhost:5432/clm"
  vector_dim: 1024

embedder:
  base_url: "http://gpu:11434"
  model: "bge-m3"
  batch_size: 8

processor:
  child_threshold: 800
  chunk_size: 400
  chunk_overlap: 40

converter:
  url: "http://converter:8001"
  timeout_seconds: 120

log:
  mode: prod
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, config.Database.Driver)
	assert.Equal(t, "postgres://localhost:5432/clm", config.Database.URL)
	assert.Equal(t, 1024, config.Database.VectorDim)
	assert.Equal(t, "documents", config.Database.DocumentTable)
	assert.Equal(t, "rooms", config.Database.RoomTable)
	assert.True(t, config.Embedder.Enabled)
	assert.Equal(t, "bge-m3", config.Embedder.Model)
	assert.Equal(t, 8, config.Embedder.BatchSize)
	assert.Equal(t, 800, config.Processor.ChildThreshold)
	assert.Equal(t, "http://converter:8001", config.Converter.URL)
	assert.Equal(t, 120, config.Converter.TimeoutSeconds)
	assert.Equal(t, "http://localhost:8002", config.Parser.URL)
	assert.Equal(t, 600, config.Parser.TimeoutSeconds)
	assert.Equal(t, "prod", config.Log.Mode)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("database: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, config.Database.Driver)
	assert.Equal(t, "clm.db", config.Database.Path)
	assert.Equal(t, 768, config.Database.VectorDim)
	assert.True(t, config.Embedder.Enabled)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 50, config.Processor.ChunkOverlap)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	config, err := getDefaultConfig()
	require.NoError(t, err)
	config.Embedder.Enabled = false

	path := filepath.Join(t.TempDir(), "nested", "clm.yaml")
	require.NoError(t, config.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{Embedder: EmbedderConfig{Enabled: true}}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Database.Driver = "mysql" },
			fields: []string{"database.driver"},
		},
		{
			name:   "postgres without url",
			mutate: func(c *Config) { c.Database.Driver = DriverPostgres },
			fields: []string{"database.url"},
		},
		{
			name: "bad numbers",
			mutate: func(c *Config) {
				c.Database.VectorDim = -1
				c.Processor.ChunkOverlap = c.Processor.ChunkSize
			},
			fields: []string{"database.vector_dim", "processor.chunk_overlap"},
		},
		{
			name:   "disabled embedder skips url check",
			mutate: func(c *Config) { c.Embedder.Enabled = false; c.Embedder.BaseURL = "nope" },
		},
		{
			name:   "invalid embedder url",
			mutate: func(c *Config) { c.Embedder.BaseURL = "invalid-url" },
			fields: []string{"embedder.base_url"},
		},
		{
			name: "services",
			mutate: func(c *Config) {
				c.Converter.URL = "localhost"
				c.Parser.RateLimit = -1
			},
			fields: []string{"converter.url", "parser.rate_limit"},
		},
		{
			name:   "log mode",
			mutate: func(c *Config) { c.Log.Mode = "verbose" },
			fields: []string{"log.mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)

			var fields []string
			for _, e := range c.Validate() {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("DOC_CONVERTER_URL", "http://env-converter:8001")
	t.Setenv("DOC_PARSER_URL", "http://env-parser:8002")
	t.Setenv("CLM_LOG_MODE", "prod")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, DriverPostgres, config.Database.Driver)
	assert.Equal(t, "http://env-converter:8001", config.Converter.URL)
	assert.Equal(t, "http://env-parser:8002", config.Parser.URL)
	assert.Equal(t, "prod", config.Log.Mode)
}
