package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider-specific default model constants
const (
	DefaultOpenRouterModel = "deepseek/deepseek-chat-v3-0324"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultMockModel       = "mock-model"
)

// Defaults for the turn loop.
const (
	DefaultHistoryLimit     = 10
	DefaultSnapshotLines    = 40
	DefaultMaxContinuations = 3
)

var knownProviders = []string{"openrouter", "gemini", "mock"}

// SSH describes the remote terminal used when backend is "ssh".
type SSH struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	User                  string `yaml:"user"`
	KeyPath               string `yaml:"key_path"`
	KnownHosts            string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"`
}

// Config captures the tunable runtime settings for the assistant.
type Config struct {
	Provider              string            `yaml:"provider"`
	Model                 string            `yaml:"model"`
	ProviderModels        map[string]string `yaml:"provider_models"`
	BaseURL               string            `yaml:"base_url"`
	Temperature           float64           `yaml:"temperature"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	ShellTimeoutSeconds   int               `yaml:"shell_timeout_seconds"`
	HistoryLimit          int               `yaml:"history_limit"`
	SnapshotLines         int               `yaml:"snapshot_lines"`
	MaxContinuations      int               `yaml:"max_continuations"`
	Persona               string            `yaml:"persona"`
	Backend               string            `yaml:"backend"`
	WorkDir               string            `yaml:"work_dir"`
	SSH                   SSH               `yaml:"ssh"`
	ConversationDir       string            `yaml:"conversation_dir"`
	LedgerPath            string            `yaml:"ledger_path"`
	HistoryPath           string            `yaml:"history_path"`
	LogPath               string            `yaml:"log_path"`
	LogMaxSizeMB          int               `yaml:"log_max_size_mb"`
	LogMaxBackups         int               `yaml:"log_max_backups"`
	LogJSON               bool              `yaml:"log_json"`
}

// ConfigPath returns the config file location, honouring ANTSHELL_CONFIG_PATH.
func ConfigPath() string {
	if configPath := os.Getenv("ANTSHELL_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// EnsureDefaultConfig creates config.yaml with provider-appropriate defaults if it doesn't exist
func EnsureDefaultConfig(provider string) error {
	configPath := ConfigPath()

	// If config already exists, ensure all providers have defaults
	if _, err := os.Stat(configPath); err == nil {
		return EnsureAllProviderDefaults(configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Config{}
	cfg.ProviderModels = make(map[string]string, len(knownProviders))
	for _, p := range knownProviders {
		cfg.ProviderModels[p] = defaultModel(p)
	}
	switch strings.ToLower(provider) {
	case "gemini", "mock":
		cfg.Provider = strings.ToLower(provider)
	default:
		cfg.Provider = "openrouter"
	}
	cfg.Model = defaultModel(cfg.Provider)
	cfg.applyDefaults()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EnsureAllProviderDefaults ensures provider_models has an entry for every known provider
func EnsureAllProviderDefaults(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ProviderModels == nil {
		cfg.ProviderModels = make(map[string]string)
	}
	changed := false
	for _, provider := range knownProviders {
		if cfg.ProviderModels[provider] == "" {
			cfg.ProviderModels[provider] = defaultModel(provider)
			changed = true
		}
	}
	if !changed {
		return nil
	}

	updatedData, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal updated config: %w", err)
	}
	if err := os.WriteFile(configPath, updatedData, 0644); err != nil {
		return fmt.Errorf("write updated config: %w", err)
	}
	return nil
}

// LoadUserConfig loads configuration from ~/.antshell/config.yaml.
// If the file doesn't exist, returns defaults
func LoadUserConfig() (Config, error) {
	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}
	return Load(configPath)
}

// Load reads the YAML configuration from path and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "openrouter"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = 60
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.SnapshotLines <= 0 {
		c.SnapshotLines = DefaultSnapshotLines
	}
	if c.MaxContinuations <= 0 {
		c.MaxContinuations = DefaultMaxContinuations
	}
	if c.Backend == "" {
		c.Backend = "local"
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.KnownHosts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.SSH.KnownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
	dir := GetConfigDir()
	if c.ConversationDir == "" {
		c.ConversationDir = filepath.Join(dir, "conversations")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(dir, "ledger.db")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(dir, "input_history")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(dir, "antshell.log")
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 10
	}
	if c.LogMaxBackups <= 0 {
		c.LogMaxBackups = 3
	}
}

func (c Config) validate() error {
	switch strings.ToLower(c.Provider) {
	case "openrouter", "gemini", "mock":
	default:
		return fmt.Errorf("provider must be one of %s (got %q)", strings.Join(knownProviders, ", "), c.Provider)
	}
	// Temperature validation (typical LLM range is 0-2.0)
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.ShellTimeoutSeconds > 600 {
		return fmt.Errorf("shell_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.HistoryLimit > 200 {
		return fmt.Errorf("history_limit cannot exceed 200")
	}
	if c.SnapshotLines > 1000 {
		return fmt.Errorf("snapshot_lines cannot exceed 1000")
	}
	if c.MaxContinuations > 20 {
		return fmt.Errorf("max_continuations cannot exceed 20")
	}
	switch c.Backend {
	case "local":
	case "ssh":
		if strings.TrimSpace(c.SSH.Host) == "" || strings.TrimSpace(c.SSH.User) == "" {
			return fmt.Errorf("ssh backend requires ssh.host and ssh.user")
		}
		if c.SSH.Port < 1 || c.SSH.Port > 65535 {
			return fmt.Errorf("ssh.port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("backend must be local or ssh (got %q)", c.Backend)
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		return fmt.Errorf("ledger_path must be set")
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		return fmt.Errorf("history_path must be set")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for model calls.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShellTimeout bounds each executed command.
func (c Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

func GetConfigDir() string {
	if configDir := os.Getenv("ANTSHELL_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".antshell"
	}
	return filepath.Join(home, ".antshell")
}

func defaultModel(provider string) string {
	switch provider {
	case "openrouter":
		return DefaultOpenRouterModel
	case "gemini":
		return DefaultGeminiModel
	case "mock":
		return DefaultMockModel
	default:
		return ""
	}
}

// ModelFor returns the configured model for the given provider key, falling back to provider-appropriate defaults.
func (c Config) ModelFor(provider string) string {
	provider = strings.ToLower(provider)

	if len(c.ProviderModels) > 0 {
		if model := strings.TrimSpace(c.ProviderModels[provider]); model != "" {
			return model
		}
	}
	if model := defaultModel(provider); model != "" {
		return model
	}
	return c.Model
}

// Save writes the config to the user's config file
func Save(c Config) error {
	configPath := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
