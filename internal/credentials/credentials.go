package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials stores API keys and terminal secrets
type Credentials struct {
	DefaultProvider string              `yaml:"default_provider"`
	Providers       map[string]Provider `yaml:"providers"`
	Hosts           map[string]Host     `yaml:"hosts,omitempty"`
}

// Provider stores authentication details for a single provider
type Provider struct {
	APIKey string `yaml:"api_key"`
}

// Host stores the SSH secret for one user@host. Password doubles as the key
// passphrase when a private key is configured.
type Host struct {
	Password string `yaml:"password"`
}

// envKeys are consulted when a provider has no stored key.
var envKeys = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

// Manager handles credential storage and retrieval
type Manager struct {
	path string
}

// NewManager creates a new credential manager.
// Checks ANTSHELL_CREDENTIALS_PATH first; defaults to ~/.antshell/credentials.yaml
func NewManager() (*Manager, error) {
	credPath := os.Getenv("ANTSHELL_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = filepath.Join(getConfigDir(), "credentials.yaml")
	}
	return &Manager{path: credPath}, nil
}

func getConfigDir() string {
	if configDir := os.Getenv("ANTSHELL_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".antshell"
	}
	return filepath.Join(home, ".antshell")
}

// Load reads credentials from disk
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{
				Providers: make(map[string]Provider),
				Hosts:     make(map[string]Host),
			}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Providers == nil {
		creds.Providers = make(map[string]Provider)
	}
	if creds.Hosts == nil {
		creds.Hosts = make(map[string]Host)
	}
	return &creds, nil
}

// Save writes credentials to disk
func (m *Manager) Save(creds *Credentials) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	// Write with restricted permissions (user-only read/write)
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the credentials file path
func (m *Manager) Path() string {
	return m.path
}

// IsConfigured checks if a provider has a key, stored or from the environment
func (c *Credentials) IsConfigured(provider string) bool {
	return c.GetAPIKey(provider) != ""
}

// GetAPIKey returns the API key for a provider, falling back to its
// environment variable.
func (c *Credentials) GetAPIKey(provider string) string {
	if c.Providers != nil {
		if key := c.Providers[provider].APIKey; key != "" {
			return key
		}
	}
	if env := envKeys[provider]; env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// SetProvider sets the API key for a provider
func (c *Credentials) SetProvider(name, apiKey string) {
	if c.Providers == nil {
		c.Providers = make(map[string]Provider)
	}
	c.Providers[name] = Provider{APIKey: apiKey}
}

// RemoveProvider removes a provider
func (c *Credentials) RemoveProvider(name string) {
	if c.Providers != nil {
		delete(c.Providers, name)
	}
}

// HasAnyProvider checks if any provider is configured
func (c *Credentials) HasAnyProvider() bool {
	return len(c.ListProviders()) > 0
}

// ListProviders returns configured provider names in order
func (c *Credentials) ListProviders() []string {
	seen := make(map[string]bool)
	var names []string
	for name, p := range c.Providers {
		if p.APIKey != "" {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range envKeys {
		if !seen[name] && c.GetAPIKey(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HostKey is the map key used for an SSH login.
func HostKey(user, host string) string {
	return user + "@" + host
}

// GetHostPassword returns the stored password for user@host; ANTSHELL_SSH_PASSWORD
// overrides it.
func (c *Credentials) GetHostPassword(user, host string) string {
	if env := os.Getenv("ANTSHELL_SSH_PASSWORD"); env != "" {
		return env
	}
	if c.Hosts == nil {
		return ""
	}
	return c.Hosts[HostKey(user, host)].Password
}

// SetHostPassword stores the password for user@host
func (c *Credentials) SetHostPassword(user, host, password string) {
	if c.Hosts == nil {
		c.Hosts = make(map[string]Host)
	}
	c.Hosts[HostKey(user, host)] = Host{Password: password}
}
