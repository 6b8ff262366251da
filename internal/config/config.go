// Package config loads and manages loom configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (LLM_API_KEY, LLM_BASE_URL, LOOM_PROVIDER, ...)
// 2. Config file path specified via --config flag
// 3. ~/.config/loom/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// KnownProviderBaseURLs maps provider names to their OpenAI-compatible
// endpoints. Anthropic uses its own SDK and is not listed here.
var KnownProviderBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"kimi":     "https://api.moonshot.cn/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"groq":     "https://api.groq.com/openai/v1",
}

// KnownProviderModels maps provider names to a sensible default model.
var KnownProviderModels = map[string]string{
	"openai":    "gpt-4o",
	"deepseek":  "deepseek-chat",
	"kimi":      "kimi-k2-0711-preview",
	"qwen":      "qwen-plus",
	"groq":      "llama-3.3-70b-versatile",
	"anthropic": "claude-sonnet-4-20250514",
}

// ProviderConfig holds configuration for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// SessionConfig holds limits and policies for the conversation engine.
type SessionConfig struct {
	// MaxBranches is the branch ceiling including main. 0 = default (10).
	MaxBranches int `yaml:"max_branches"`

	// PreserveRecent is how many trailing messages summarization keeps
	// untouched. 0 = default (4).
	PreserveRecent int `yaml:"preserve_recent"`

	// MaxContextTokens overrides the provider's context window as the
	// token budget. 0 = use provider default.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// MaxResponseTokens caps the tokens requested per model response.
	// 0 = no cap beyond the remaining budget.
	MaxResponseTokens int `yaml:"max_response_tokens"`
}

// RAGConfig holds settings for the retrieved-context document store.
type RAGConfig struct {
	// Path to the sqlite document store. Empty = ~/.local/share/loom/docs.db.
	Path string `yaml:"path"`

	// TopK is how many snippets a retrieval returns. 0 = default (5).
	TopK int `yaml:"top_k"`
}

// Config is the complete configuration structure for loom.
type Config struct {
	// Provider is the active provider name (e.g. "openai", "anthropic").
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// SystemPrompt is a custom system prompt (empty uses default).
	SystemPrompt string `yaml:"system_prompt"`

	// Session holds conversation engine limits.
	Session SessionConfig `yaml:"session"`

	// RAG holds document retrieval settings.
	RAG RAGConfig `yaml:"rag"`

	// EventLog path for the structured session event log. Empty = default
	// under ~/.local/share/loom/events.
	EventLog string `yaml:"event_log"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  "openai",
		Providers: make(map[string]*ProviderConfig),
		Session: SessionConfig{
			MaxBranches:    10,
			PreserveRecent: 4,
		},
		RAG: RAGConfig{TopK: 5},
	}
}

// Load reads the config file and merges environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "loom", "config.yaml")
		}
	}

	// Read config file (use defaults if not found).
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	return cfg, nil
}

// GetProviderConfig returns the config for the named provider, or an empty
// config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].BaseURL = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if cfg.Providers["anthropic"] == nil {
			cfg.Providers["anthropic"] = &ProviderConfig{}
		}
		cfg.Providers["anthropic"].APIKey = v
	}

	if v := os.Getenv("LOOM_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("LOOM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("LOOM_MAX_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Session.MaxContextTokens = n
		}
	}
	if v := os.Getenv("LOOM_MAX_BRANCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Session.MaxBranches = n
		}
	}
}
