package router

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/config.toml"
	content := `
[config]
default_big_model = "anthropic:claude-opus-4"
default_middle_model = "deepseek-chat"
default_small_model = "anthropic:claude-haiku-4"

[[provider]]
name = "anthropic"
base_url = "https://api.anthropic.com"
api_key = "k"
provider_type = "anthropic"
big_models = ["claude-opus-4"]
small_models = ["claude-haiku-4"]

[[provider]]
name = "deepseek"
base_url = "https://api.deepseek.com/v1"
api_key = "k"
provider_type = "openai"
middle_models = ["deepseek-chat"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestTierForClassifiesByPrecedence(t *testing.T) {
	assert.Equal(t, config.TierSmall, TierFor("claude-3-5-haiku-20241022"))
	assert.Equal(t, config.TierMiddle, TierFor("claude-sonnet-4-20250514"))
	assert.Equal(t, config.TierBig, TierFor("claude-opus-4-20250514"))
	assert.Equal(t, config.TierBig, TierFor("some-unknown-model"))
}

func TestResolveQualifiedSelection(t *testing.T) {
	r := New(testConfig(t))
	res, err := r.Resolve("claude-opus-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", res.Provider.Name)
	assert.Equal(t, "claude-opus-4", res.ConcreteModel)
	assert.Equal(t, config.TierBig, res.Tier)
}

func TestResolveBareSelectionFindsFirstListingProvider(t *testing.T) {
	r := New(testConfig(t))
	res, err := r.Resolve("claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "deepseek", res.Provider.Name)
	assert.Equal(t, "deepseek-chat", res.ConcreteModel)
}

func TestResolveUnknownProviderInSelection(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.SetCurrentSelection(config.TierBig, "nosuch:model-x"))
	r := New(cfg)
	_, err := r.Resolve("claude-opus-4-20250514")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnknownModel, appErr.Kind)
}

func TestResolveNoProviderAdvertisesModel(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.SetCurrentSelection(config.TierSmall, "nonexistent-model"))
	r := New(cfg)
	_, err := r.Resolve("claude-3-5-haiku-20241022")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNoProvider, appErr.Kind)
}

func TestSetSelectionValidatesBeforeInstalling(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg)

	_, err := r.SetSelection(config.TierBig, "deepseek:not-listed")
	require.Error(t, err)
	// the invalid attempt must not have clobbered the existing selection
	assert.Equal(t, "anthropic:claude-opus-4", cfg.CurrentSelection(config.TierBig))

	res, err := r.SetSelection(config.TierBig, "anthropic:claude-opus-4")
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", res.ConcreteModel)
}
