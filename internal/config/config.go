package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// DefaultMaxRounds is the round ceiling applied when a topic is created without one
	DefaultMaxRounds int `json:"default_max_rounds"`

	// MaxRoundsLimit is the largest round ceiling a topic may request
	MaxRoundsLimit int `json:"max_rounds_limit"`

	// MaxComments is the per-round comment count that triggers summarization
	MaxComments int `json:"max_comments"`

	// MaxCommentChars is the maximum character count for comment content
	MaxCommentChars int `json:"max_comment_chars"`

	// SummarizerTimeoutSeconds bounds each summarizer call
	SummarizerTimeoutSeconds int `json:"summarizer_timeout_seconds"`

	// ConflictRetries is how many times an operation that lost a store race is attempted
	ConflictRetries int `json:"conflict_retries"`

	// AutoAdvance locks the round and opens the next one once a threshold summary exists.
	AutoAdvance bool `json:"auto_advance,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format,omitempty"`

	// AI configures the OpenAI-compatible summarizer endpoint.
	AI AIConfig `json:"ai"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside ~/.agora/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// ExportsDir is the default export directory. Set at startup, not read from file.
	ExportsDir string `json:"-"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// All tools are enabled by default. Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// All tools belonging to disabled types are excluded from registration.
	// Known types: "topic", "comment", "round", "summary". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// AIConfig holds the summarizer model settings.
type AIConfig struct {
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// MaxAttempts counts calls per summarization, retrying only transient failures
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Enabled reports whether a model endpoint is configured.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultMaxRounds:         3,
		MaxRoundsLimit:           20,
		MaxComments:              10,
		MaxCommentChars:          4000,
		SummarizerTimeoutSeconds: 30,
		ConflictRetries:          3,
		LogLevel:                 "info",
		LogFormat:                "text",
		AI: AIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1000,
			Temperature: 0.3,
			MaxAttempts: 2,
		},
	}
}

// SummarizerTimeout returns the per-call summarizer deadline.
func (c *Config) SummarizerTimeout() time.Duration {
	return time.Duration(c.SummarizerTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.agora.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.agora) and repo (.agora) directories.
// Repo config is found by walking upward from startDir to find the nearest .agora/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	// Walk upward from startDir to find repo config
	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .agora/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".agora", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

// LoadEnv overlays environment variables on cfg. Files in envFiles are read
// first with godotenv; variables already set in the process win over them.
// Missing env files are ignored.
func LoadEnv(cfg *Config, envFiles ...string) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	cfg.AI.BaseURL = getEnv("AI_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.APIKey = getEnv("AI_API_KEY", cfg.AI.APIKey)
	cfg.AI.Model = getEnv("AI_MODEL", cfg.AI.Model)
	cfg.LogLevel = getEnv("AGORA_LOG_LEVEL", cfg.LogLevel)
	cfg.AutoAdvance = getEnvBool("AGORA_AUTO_ADVANCE", cfg.AutoAdvance)
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.DefaultMaxRounds = pickInt(overlay.DefaultMaxRounds, base.DefaultMaxRounds)
	result.MaxRoundsLimit = pickInt(overlay.MaxRoundsLimit, base.MaxRoundsLimit)
	result.MaxComments = pickInt(overlay.MaxComments, base.MaxComments)
	result.MaxCommentChars = pickInt(overlay.MaxCommentChars, base.MaxCommentChars)
	result.SummarizerTimeoutSeconds = pickInt(overlay.SummarizerTimeoutSeconds, base.SummarizerTimeoutSeconds)
	result.ConflictRetries = pickInt(overlay.ConflictRetries, base.ConflictRetries)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)
	result.ExportsDir = pickString(overlay.ExportsDir, base.ExportsDir)

	result.AI = AIConfig{
		BaseURL:     pickString(overlay.AI.BaseURL, base.AI.BaseURL),
		APIKey:      pickString(overlay.AI.APIKey, base.AI.APIKey),
		Model:       pickString(overlay.AI.Model, base.AI.Model),
		MaxTokens:   pickInt(overlay.AI.MaxTokens, base.AI.MaxTokens),
		Temperature: overlay.AI.Temperature,
		MaxAttempts: pickInt(overlay.AI.MaxAttempts, base.AI.MaxAttempts),
	}
	if result.AI.Temperature == 0 {
		result.AI.Temperature = base.AI.Temperature
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.AutoAdvance = base.AutoAdvance || overlay.AutoAdvance

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
