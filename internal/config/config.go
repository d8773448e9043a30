// Package config loads legalqa's configuration.
//
// Sources, highest priority first:
//  1. environment variables (LEGALQA_*, OPENAI_API_KEY, ANTHROPIC_API_KEY, ...),
//     including those set by a .env file in the working directory
//  2. the file named by --config
//  3. ~/.config/legalqa/config.yaml
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BackendConfig configures one model backend. Local backends need BaseURL
// (a llama.cpp server); remote ones need an API key, from here or per
// request.
type BackendConfig struct {
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	SystemPrompt string `yaml:"system_prompt"`

	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	TopP        float64  `yaml:"top_p"`
	Stop        []string `yaml:"stop"`

	// Disabled leaves the backend out of the registry.
	Disabled bool `yaml:"disabled"`
}

// DatabaseConfig selects conversation storage.
type DatabaseConfig struct {
	// Driver is "sqlite" (default), "postgres" or "none".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite, a lib/pq connection string for postgres.
	DSN string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
	File   string `yaml:"file"`
}

// SearchConfig configures web retrieval.
type SearchConfig struct {
	// Provider is "tavily", "exa" or "jina". Empty picks from the keys set.
	Provider     string        `yaml:"provider"`
	APIKey       string        `yaml:"api_key"`
	MaxResults   int           `yaml:"max_results"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	SnippetChars int           `yaml:"snippet_chars"`
}

// Config is the complete legalqa configuration.
type Config struct {
	Listen        string        `yaml:"listen"`
	MetricsListen string        `yaml:"metrics_listen"`
	MaxTokens     int           `yaml:"max_tokens"`
	Tokenizer     string        `yaml:"tokenizer"`
	SystemPrompt  string        `yaml:"system_prompt"`
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	Database DatabaseConfig            `yaml:"database"`
	Log      LogConfig                 `yaml:"log"`
	Search   SearchConfig              `yaml:"search"`
	Backends map[string]*BackendConfig `yaml:"backends"`
}

// DefaultSystemPrompt frames every backend as a legal information assistant.
const DefaultSystemPrompt = "You are a careful legal information assistant. " +
	"Answer clearly, name the jurisdiction when it matters, and say when a question needs a qualified lawyer. " +
	"You do not give legal advice."

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        ":8080",
		MaxTokens:     64000,
		Tokenizer:     "cl100k_base",
		SystemPrompt:  DefaultSystemPrompt,
		InvokeTimeout: 3 * time.Minute,
		Database:      DatabaseConfig{Driver: "sqlite"},
		Log:           LogConfig{Level: "info", Format: "console"},
		Search: SearchConfig{
			MaxResults:   3,
			FetchTimeout: 5 * time.Second,
			SnippetChars: 300,
		},
		Backends: map[string]*BackendConfig{
			"gemma":     {BaseURL: "http://127.0.0.1:8081/v1/"},
			"gemma3":    {BaseURL: "http://127.0.0.1:8082/v1/"},
			"phi":       {BaseURL: "http://127.0.0.1:8083/v1/"},
			"openai":    {},
			"anthropic": {},
			"gemini":    {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/"},
		},
	}
}

// DefaultPath returns ~/.config/legalqa/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "legalqa", "config.yaml")
}

// Load reads the configuration file, then applies .env and environment
// overrides. A missing file is not an error unless it was named explicitly.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		case explicit || !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Backends == nil {
		cfg.Backends = make(map[string]*BackendConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and obscurely.
func (c *Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	switch c.Log.Format {
	case "console", "json", "":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must not be negative")
	}
	return nil
}

// Backend returns the named backend's configuration, or an empty one.
func (c *Config) Backend(name string) *BackendConfig {
	if bc, ok := c.Backends[name]; ok && bc != nil {
		return bc
	}
	return &BackendConfig{}
}

func (c *Config) backend(name string) *BackendConfig {
	bc, ok := c.Backends[name]
	if !ok || bc == nil {
		bc = &BackendConfig{}
		c.Backends[name] = bc
	}
	return bc
}

func applyEnvOverrides(cfg *Config) error {
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]*BackendConfig)
	}

	if v := os.Getenv("LEGALQA_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("LEGALQA_METRICS_LISTEN"); v != "" {
		cfg.MetricsListen = v
	}
	if v := os.Getenv("LEGALQA_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEGALQA_MAX_TOKENS: %w", err)
		}
		cfg.MaxTokens = n
	}
	if v := os.Getenv("LEGALQA_TOKENIZER"); v != "" {
		cfg.Tokenizer = v
	}
	if v := os.Getenv("LEGALQA_INVOKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LEGALQA_INVOKE_TIMEOUT: %w", err)
		}
		cfg.InvokeTimeout = d
	}
	if v := os.Getenv("LEGALQA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LEGALQA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Storage
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LEGALQA_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LEGALQA_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Remote keys
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.backend("openai").APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.backend("anthropic").APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.backend("gemini").APIKey = v
	}

	// Per-backend: LEGALQA_<NAME>_BASE_URL, _MODEL, _API_KEY
	for name := range cfg.Backends {
		prefix := "LEGALQA_" + strings.ToUpper(name) + "_"
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			cfg.backend(name).BaseURL = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			cfg.backend(name).Model = v
		}
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			cfg.backend(name).APIKey = v
		}
	}

	// Search
	if v := os.Getenv("LEGALQA_SEARCH_PROVIDER"); v != "" {
		cfg.Search.Provider = v
	}
	if cfg.Search.APIKey == "" {
		switch {
		case os.Getenv("TAVILY_API_KEY") != "" && (cfg.Search.Provider == "" || cfg.Search.Provider == "tavily"):
			cfg.Search.APIKey = os.Getenv("TAVILY_API_KEY")
			cfg.Search.Provider = "tavily"
		case os.Getenv("EXA_API_KEY") != "" && (cfg.Search.Provider == "" || cfg.Search.Provider == "exa"):
			cfg.Search.APIKey = os.Getenv("EXA_API_KEY")
			cfg.Search.Provider = "exa"
		case os.Getenv("JINA_API_KEY") != "" && (cfg.Search.Provider == "" || cfg.Search.Provider == "jina"):
			cfg.Search.APIKey = os.Getenv("JINA_API_KEY")
			cfg.Search.Provider = "jina"
		}
	}
	return nil
}
