package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // sqlite or postgres
	URL           string `yaml:"url"`    // postgres connection string
	Path          string `yaml:"path"`   // sqlite file
	DocumentTable string `yaml:"document_table"`
	ChunkTable    string `yaml:"chunk_table"`
	RoomTable     string `yaml:"room_table"`
	VectorDim     int    `yaml:"vector_dim"`
	SearchLimit   int    `yaml:"search_limit"`
}

type EmbedderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type ProcessorConfig struct {
	ChildThreshold int `yaml:"child_threshold"`
	ChunkSize      int `yaml:"chunk_size"`
	ChunkOverlap   int `yaml:"chunk_overlap"`
}

type ServiceConfig struct {
	URL            string  `yaml:"url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RateLimit      float64 `yaml:"rate_limit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Mode string `yaml:"mode"` // dev or prod
}

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Processor ProcessorConfig `yaml:"processor"`
	Converter ServiceConfig   `yaml:"converter"`
	Parser    ServiceConfig   `yaml:"parser"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// DefaultLocations are searched in order when LoadConfig gets no path.
func DefaultLocations() []string {
	return []string{
		"clm.yaml",
		"clm.yml",
		filepath.Join(os.Getenv("HOME"), ".config/clm/config.yaml"),
		"/etc/clm/config.yaml",
	}
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		for _, loc := range DefaultLocations() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Config{Embedder: EmbedderConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	config, _ := getDefaultConfig()
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{Embedder: EmbedderConfig{Enabled: true}}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Database.Driver == "" {
		if config.Database.URL != "" {
			config.Database.Driver = DriverPostgres
		} else {
			config.Database.Driver = DriverSQLite
		}
	}
	if config.Database.Path == "" {
		config.Database.Path = "clm.db"
	}
	if config.Database.DocumentTable == "" {
		config.Database.DocumentTable = "documents"
	}
	if config.Database.ChunkTable == "" {
		config.Database.ChunkTable = "chunks"
	}
	if config.Database.RoomTable == "" {
		config.Database.RoomTable = "rooms"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}

	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 16
	}

	if config.Processor.ChildThreshold == 0 {
		config.Processor.ChildThreshold = 500
	}
	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 50
	}

	applyServiceDefaults(&config.Converter, "http://localhost:8001")
	applyServiceDefaults(&config.Parser, "http://localhost:8002")

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Log.Mode == "" {
		config.Log.Mode = "dev"
	}
}

func applyServiceDefaults(s *ServiceConfig, url string) {
	if s.URL == "" {
		s.URL = url
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = 600
	}
	if s.RateLimit == 0 {
		s.RateLimit = 2.0
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
		config.Database.Driver = DriverPostgres
	}
	if u := os.Getenv("DOC_CONVERTER_URL"); u != "" {
		config.Converter.URL = u
	}
	if u := os.Getenv("DOC_PARSER_URL"); u != "" {
		config.Parser.URL = u
	}
	if mode := os.Getenv("CLM_LOG_MODE"); mode != "" {
		config.Log.Mode = mode
	}
}
