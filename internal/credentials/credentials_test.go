package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "credentials.yaml")
	t.Setenv("ANTSHELL_CREDENTIALS_PATH", path)
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTSHELL_SSH_PASSWORD", "")

	m, err := NewManager()
	require.NoError(t, err)
	assert.False(t, m.Exists())

	creds, err := m.Load()
	require.NoError(t, err)
	assert.False(t, creds.HasAnyProvider())

	creds.DefaultProvider = "gemini"
	creds.SetProvider("gemini", "g-key")
	creds.SetHostPassword("admin", "10.0.0.1", "cisco123")
	require.NoError(t, m.Save(creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "gemini", loaded.DefaultProvider)
	assert.Equal(t, "g-key", loaded.GetAPIKey("gemini"))
	assert.Equal(t, "cisco123", loaded.GetHostPassword("admin", "10.0.0.1"))
	assert.Equal(t, []string{"gemini"}, loaded.ListProviders())
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-env")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTSHELL_SSH_PASSWORD", "from-env")

	creds := &Credentials{}
	assert.True(t, creds.IsConfigured("openrouter"))
	assert.Equal(t, "sk-env", creds.GetAPIKey("openrouter"))
	assert.False(t, creds.IsConfigured("gemini"))
	assert.Equal(t, []string{"openrouter"}, creds.ListProviders())

	creds.SetProvider("openrouter", "sk-stored")
	assert.Equal(t, "sk-stored", creds.GetAPIKey("openrouter"))
	assert.Equal(t, []string{"openrouter"}, creds.ListProviders())

	creds.SetHostPassword("u", "h", "stored")
	assert.Equal(t, "from-env", creds.GetHostPassword("u", "h"))
}

func TestParseProvider(t *testing.T) {
	for input, want := range map[string]string{"1": "openrouter", "OR": "openrouter", "2": "gemini", "Gemini": "gemini"} {
		got, ok := parseProvider(input)
		assert.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}
	_, ok := parseProvider("zai")
	assert.False(t, ok)
}
