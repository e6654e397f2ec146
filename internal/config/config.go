// Package config loads and validates ThinkDrop configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ThinkDrop configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Router    RouterConfig    `yaml:"router"`
	Agents    AgentsConfig    `yaml:"agents"`
	Memory    MemoryConfig    `yaml:"memory"`
	Cascade   CascadeConfig   `yaml:"cascade"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the text-completion collaborator.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama or genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	NEREndpoint    string `yaml:"ner_endpoint"` // entity-extraction service, optional
}

// RouterConfig holds the abstention gates for intent scoring.
type RouterConfig struct {
	ConfidenceFloor      float64 `yaml:"confidence_floor"`       // default gate
	ShortConfidenceFloor float64 `yaml:"short_confidence_floor"` // stricter gate for very short utterances
	ShortTokenLimit      int     `yaml:"short_token_limit"`
	MinMargin            float64 `yaml:"min_margin"`
	StoreTieDelta        float64 `yaml:"store_tie_delta"` // memory_store promotion window
}

// AgentsConfig configures the capability registry.
type AgentsConfig struct {
	CatalogPath string   `yaml:"catalog_path"` // sqlite file; empty = memory-only mode
	WatchDir    string   `yaml:"watch_dir"`    // descriptor hot-reload directory, optional
	Prewarm     []string `yaml:"prewarm"`      // critical agents loaded at startup
}

// MemoryConfig configures the semantic memory store.
type MemoryConfig struct {
	DBPath        string  `yaml:"db_path"`
	SearchLimit   int     `yaml:"search_limit"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// CascadeConfig holds the per-stage confidence gates.
type CascadeConfig struct {
	MinContextChars     int     `yaml:"min_context_chars"`
	CurrentThreshold    float64 `yaml:"current_threshold"`
	SessionThreshold    float64 `yaml:"session_threshold"`
	CrossThreshold      float64 `yaml:"cross_threshold"`
	CompletionTimeout   string  `yaml:"completion_timeout"`
	MaxPromptChars      int     `yaml:"max_prompt_chars"`
	MaxSnippetsPerStage int     `yaml:"max_snippets_per_stage"`
}

// LoggingConfig configures the categorized logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file is present.
// Thresholds mirror the tuned production values.
func DefaultConfig() *Config {
	return &Config{
		Name:    "thinkdrop",
		Version: "0.4.0",
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "llama3.2:3b",
			Timeout:     "30s",
			MaxTokens:   512,
			Temperature: 0.2,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Router: RouterConfig{
			ConfidenceFloor:      0.25,
			ShortConfidenceFloor: 0.40,
			ShortTokenLimit:      3,
			MinMargin:            0.05,
			StoreTieDelta:        0.10,
		},
		Agents: AgentsConfig{
			CatalogPath: filepath.Join(".thinkdrop", "agents.db"),
			Prewarm:     []string{"ScreenCaptureAgent", "UserMemoryAgent"},
		},
		Memory: MemoryConfig{
			DBPath:        filepath.Join(".thinkdrop", "memory.db"),
			SearchLimit:   10,
			MinSimilarity: 0.30,
		},
		Cascade: CascadeConfig{
			MinContextChars:     40,
			CurrentThreshold:    0.18,
			SessionThreshold:    0.35,
			CrossThreshold:      0.45,
			CompletionTimeout:   "15s",
			MaxPromptChars:      4000,
			MaxSnippetsPerStage: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from a YAML file, applying defaults for absent fields
// and environment overrides last. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to disk as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets deployment environments win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("THINKDROP_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("THINKDROP_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("THINKDROP_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("THINKDROP_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("THINKDROP_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("THINKDROP_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("THINKDROP_AGENT_CATALOG"); v != "" {
		c.Agents.CatalogPath = v
	}
	if v := os.Getenv("THINKDROP_MEMORY_DB"); v != "" {
		c.Memory.DBPath = v
	}
	if v := os.Getenv("THINKDROP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetLLMTimeout parses the LLM timeout with a safe fallback.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetCompletionTimeout parses the cascade completion timeout.
func (c *Config) GetCompletionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Cascade.CompletionTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// Validate checks configured gates for sanity.
func (c *Config) Validate() error {
	if c.Router.ConfidenceFloor < 0 || c.Router.ConfidenceFloor > 1 {
		return fmt.Errorf("router.confidence_floor must be in [0,1], got %v", c.Router.ConfidenceFloor)
	}
	if c.Router.ShortConfidenceFloor < c.Router.ConfidenceFloor {
		return fmt.Errorf("router.short_confidence_floor must be >= confidence_floor")
	}
	if c.Router.MinMargin < 0 {
		return fmt.Errorf("router.min_margin must be non-negative")
	}
	if c.Cascade.CurrentThreshold <= 0 || c.Cascade.SessionThreshold <= 0 || c.Cascade.CrossThreshold <= 0 {
		return fmt.Errorf("cascade thresholds must be positive")
	}
	if c.Cascade.CrossThreshold < c.Cascade.SessionThreshold {
		return fmt.Errorf("cascade.cross_threshold must be at least session_threshold")
	}
	return nil
}
