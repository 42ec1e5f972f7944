// Package config loads and persists the single JSON configuration document
// at ~/.Skippy/Skippy.json. The Config value is immutable after load except
// through Save, which the model/loop_limit slash commands use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds all daemon configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// Discord configures the chat gateway.
	Discord DiscordConfig `json:"discord"`

	// Ollama configures the LLM endpoint.
	Ollama OllamaConfig `json:"ollama"`

	// Prompt configures the agentic loop.
	Prompt PromptConfig `json:"prompt"`

	// Memory configures context auto-injection.
	Memory MemoryConfig `json:"memory"`

	// Tools holds tool-specific sub-configs.
	Tools ToolsConfig `json:"tools"`

	// path is where the config was loaded from, for Save.
	path string
}

// DiscordConfig holds chat platform settings.
type DiscordConfig struct {
	// Token is the bot token.
	Token string `json:"token"`

	// GuildID is the home guild (server) identifier.
	GuildID string `json:"guildId"`

	// MessageHistoryLimit is how many platform messages to fetch as
	// conversation history per inbound message.
	MessageHistoryLimit int `json:"messageHistoryLimit"`

	// DefaultUser identifies the owner for skill visibility and IPC prompts.
	DefaultUser string `json:"default_user"`
}

// OllamaConfig holds LLM endpoint settings.
type OllamaConfig struct {
	// Host is the Ollama-compatible base URL (e.g. http://localhost:11434).
	Host string `json:"host"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `json:"apiKey"`

	// Model is the default model name.
	Model string `json:"model"`

	// TimeoutSeconds is the total wall-clock budget for one chat call.
	TimeoutSeconds int `json:"timeout"`

	// StreamInactivitySeconds aborts a stream when no chunk arrives
	// within this window.
	StreamInactivitySeconds int `json:"stream_inactivity_timeout"`

	// MaxRetries bounds retry attempts on transient failures.
	MaxRetries int `json:"max_retries"`

	// ContextWindow, when > 0, overrides the detected context length.
	ContextWindow int `json:"context_window,omitempty"`
}

// PromptConfig holds agentic loop settings.
type PromptConfig struct {
	// LoopLimit is the per-prompt iteration budget (1..200).
	LoopLimit int `json:"loop_limit"`

	// EnforceBudget gates per-iteration token budget enforcement.
	// Default false: accounting is observational only.
	EnforceBudget bool `json:"enforce_budget,omitempty"`
}

// MemoryConfig holds memory auto-injection settings.
type MemoryConfig struct {
	// ContextCategories is the ordered list of memory categories injected
	// into every prompt's system block.
	ContextCategories []string `json:"context_categories"`
}

// ToolsConfig holds per-tool sub-configs.
type ToolsConfig struct {
	Bash      BashToolConfig      `json:"bash"`
	Weather   WeatherToolConfig   `json:"weather"`
	Trello    TrelloToolConfig    `json:"trello"`
	WebSearch WebSearchToolConfig `json:"web_search"`
}

// BashToolConfig configures the shell tool.
type BashToolConfig struct {
	// Unsafe allows running the daemon (and thus the shell tool) as root.
	Unsafe bool `json:"unsafe"`

	// WorkDir is the working directory for commands; defaults to $HOME.
	WorkDir string `json:"workdir,omitempty"`
}

// WeatherToolConfig configures the weather tool.
type WeatherToolConfig struct {
	// Endpoint is the forecast API base URL.
	Endpoint string `json:"endpoint,omitempty"`

	// Latitude/Longitude are the default location.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// TrelloToolConfig configures the Trello tool.
type TrelloToolConfig struct {
	Key   string `json:"key,omitempty"`
	Token string `json:"token,omitempty"`
}

// WebSearchToolConfig configures the web search tool.
type WebSearchToolConfig struct {
	// Endpoint overrides the default search endpoint.
	Endpoint string `json:"endpoint,omitempty"`
}

// Defaults applied when fields are missing from the document.
const (
	DefaultTimeoutSeconds    = 600
	DefaultInactivitySeconds = 120
	DefaultMaxRetries        = 3
	DefaultLoopLimit         = 25
	DefaultHistoryLimit      = 20
	MinLoopLimit             = 1
	MaxLoopLimit             = 200
)

// Load reads the config document at path. A .env file next to it is
// loaded first so SKIPPY_DISCORD_TOKEN / SKIPPY_OLLAMA_KEY can override
// secrets without editing the JSON.
func Load(path string) (*Config, error) {
	// Missing .env is fine; a malformed one is not.
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.path = path
	cfg.applyDefaults()

	if tok := os.Getenv("SKIPPY_DISCORD_TOKEN"); tok != "" {
		cfg.Discord.Token = tok
	}
	if key := os.Getenv("SKIPPY_OLLAMA_KEY"); key != "" {
		cfg.Ollama.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks startup preconditions. Failures here are fatal.
func (c *Config) Validate() error {
	if c.Ollama.Host == "" {
		return fmt.Errorf("config: ollama.host is required")
	}
	if c.Ollama.Model == "" {
		return fmt.Errorf("config: ollama.model is required")
	}
	if c.Prompt.LoopLimit < MinLoopLimit || c.Prompt.LoopLimit > MaxLoopLimit {
		return fmt.Errorf("config: prompt.loop_limit must be in [%d,%d], got %d",
			MinLoopLimit, MaxLoopLimit, c.Prompt.LoopLimit)
	}
	return nil
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Ollama.TimeoutSeconds <= 0 {
		c.Ollama.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Ollama.StreamInactivitySeconds <= 0 {
		c.Ollama.StreamInactivitySeconds = DefaultInactivitySeconds
	}
	if c.Ollama.MaxRetries <= 0 {
		c.Ollama.MaxRetries = DefaultMaxRetries
	}
	if c.Prompt.LoopLimit == 0 {
		c.Prompt.LoopLimit = DefaultLoopLimit
	}
	if c.Discord.MessageHistoryLimit <= 0 {
		c.Discord.MessageHistoryLimit = DefaultHistoryLimit
	}
	if len(c.Memory.ContextCategories) == 0 {
		c.Memory.ContextCategories = []string{"general"}
	}
}

// Save writes the config back to the file it was loaded from.
// Used by the model/loop_limit slash commands to persist changes.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config: not loaded from a file")
	}
	return c.SaveTo(c.path)
}

// SaveTo writes the config document to path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp, path)
}
