package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[config]
port = 9000
shared_secret = "s3cr3t"
default_big_model = "anthropic:claude-opus-4"
default_middle_model = "anthropic:claude-sonnet-4"
default_small_model = "anthropic:claude-haiku-4"

[[provider]]
name = "anthropic"
base_url = "https://api.anthropic.com"
api_key = "sk-ant-test"
provider_type = "anthropic"
big_models = ["claude-opus-4"]
middle_models = ["claude-sonnet-4"]
small_models = ["claude-haiku-4"]

[[provider]]
name = "deepseek"
base_url = "https://api.deepseek.com/v1"
env_key = "DEEPSEEK_API_KEY"
provider_type = "openai"
big_models = ["deepseek-chat"]

[transformers.deepseek]
enabled = true
providers = ["deepseek"]

[transformers.deepseek.options]
max_tokens = 8192
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesProvidersAndDefaults(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 90, cfg.Server.RequestTimeoutSeconds, "unset knob falls back to default")
	assert.Equal(t, "anthropic:claude-opus-4", cfg.CurrentSelection(TierBig))
	assert.Equal(t, "anthropic:claude-sonnet-4", cfg.CurrentSelection(TierMiddle))
}

func TestProviderResolvedAPIKeyPrefersEnvKey(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "from-env")
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	p, ok := cfg.ProviderByName("deepseek")
	require.True(t, ok)
	assert.Equal(t, "from-env", p.ResolvedAPIKey())

	anthropic, ok := cfg.ProviderByName("anthropic")
	require.True(t, ok)
	assert.Equal(t, "sk-ant-test", anthropic.ResolvedAPIKey())
}

func TestProviderResolvedAPIKeyFallsBackWhenEnvUnset(t *testing.T) {
	os.Unsetenv("DEEPSEEK_API_KEY")
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	p, ok := cfg.ProviderByName("deepseek")
	require.True(t, ok)
	assert.Equal(t, "", p.ResolvedAPIKey())
}

func TestSetCurrentSelectionIsObservedImmediately(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.SetCurrentSelection(TierSmall, "deepseek:deepseek-chat"))
	assert.Equal(t, "deepseek:deepseek-chat", cfg.CurrentSelection(TierSmall))
}

func TestSetCurrentSelectionRejectsUnknownTier(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.SetCurrentSelection(Tier("huge"), "x")
	assert.Error(t, err)
}

func TestValidateRequiresProvidersAndFields(t *testing.T) {
	cfg := fromFile(File{Config: Server{}})
	assert.Error(t, cfg.Validate(), "no providers")

	cfg = fromFile(File{
		Config:    Server{},
		Providers: []Provider{{Name: "a", BaseURL: "http://x", ProviderType: ProviderOpenAI}, {Name: "a", BaseURL: "http://y", ProviderType: ProviderOpenAI}},
	})
	assert.Error(t, cfg.Validate(), "duplicate provider names")

	cfg = fromFile(File{
		Config:    Server{},
		Providers: []Provider{{Name: "a", BaseURL: "http://x"}},
	})
	assert.Error(t, cfg.Validate(), "missing provider_type")
}

func TestTransformerConfigNameIsKeyedFromTable(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Transformers, 1)
	assert.Equal(t, "deepseek", cfg.Transformers[0].Name)
	assert.True(t, cfg.Transformers[0].Enabled)
	assert.Equal(t, int64(8192), cfg.Transformers[0].Options["max_tokens"])
}
