// Package config models the proxy's TOML configuration file: server knobs,
// the provider catalog, and the transformer pipeline configuration. Shape
// and field naming follow the teacher's config.Config (env/YAML driven),
// adapted to the file format spec.md §6 requires (TOML, BurntSushi/toml)
// and to the provider/tier model from spec.md §4.1.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
)

// ProviderType distinguishes an OpenAI-compatible upstream from one that
// speaks Claude's native wire protocol, per spec §4.1.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

// Provider is one [[provider]] TOML table.
type Provider struct {
	Name         string       `toml:"name"`
	BaseURL      string       `toml:"base_url"`
	APIKey       string       `toml:"api_key"`
	EnvKey       string       `toml:"env_key"`
	ProviderType ProviderType `toml:"provider_type"`
	BigModels    []string     `toml:"big_models"`
	MiddleModels []string     `toml:"middle_models"`
	SmallModels  []string     `toml:"small_models"`
}

// ResolvedAPIKey returns the provider's API key, preferring the environment
// variable named by EnvKey when both EnvKey and APIKey are set, per
// spec §4.4 ("the latter taking priority when both are set").
func (p Provider) ResolvedAPIKey() string {
	if p.EnvKey != "" {
		if v := os.Getenv(p.EnvKey); v != "" {
			return v
		}
	}
	return p.APIKey
}

// ModelsForTier returns the provider's advertised models for the given tier.
func (p Provider) ModelsForTier(tier Tier) []string {
	switch tier {
	case TierBig:
		return p.BigModels
	case TierMiddle:
		return p.MiddleModels
	case TierSmall:
		return p.SmallModels
	default:
		return nil
	}
}

// TransformerConfig is one [transformers.<name>] TOML table.
type TransformerConfig struct {
	Name      string                 `toml:"-"`
	Enabled   bool                   `toml:"enabled"`
	Providers []string               `toml:"providers"`
	Models    []string               `toml:"models"`
	Options   map[string]interface{} `toml:"options"`
}

// Server holds the [config] TOML table's server/limit knobs.
type Server struct {
	Port                   int    `toml:"port"`
	SharedSecret           string `toml:"shared_secret"`
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`
	RetryBudget            int    `toml:"retry_budget"`
	MaxTokensLimit         int    `toml:"max_tokens_limit"`
	MinTokensLimit         int    `toml:"min_tokens_limit"`
	DefaultBigModel        string `toml:"default_big_model"`
	DefaultMiddleModel     string `toml:"default_middle_model"`
	DefaultSmallModel      string `toml:"default_small_model"`
	DatabasePath           string `toml:"database_path"`
	LogLevel               string `toml:"log_level"`
	MaskSecretsInLogs      bool   `toml:"mask_secrets_in_logs"`
}

// File is the root of config.toml.
type File struct {
	Config       Server                       `toml:"config"`
	Providers    []Provider                   `toml:"provider"`
	Transformers map[string]TransformerConfig `toml:"transformers"`
}

func defaultServer() Server {
	return Server{
		Port:                  8080,
		RequestTimeoutSeconds: 90,
		RetryBudget:           2,
		MaxTokensLimit:        1 << 20,
		MinTokensLimit:        1,
		DatabasePath:          "ccproxy.db",
		LogLevel:              "info",
		MaskSecretsInLogs:     true,
	}
}

// Tier is one of the three model-routing tiers from spec §4.1.
type Tier string

const (
	TierBig    Tier = "big"
	TierMiddle Tier = "middle"
	TierSmall  Tier = "small"
)

// Config is the fully loaded, runtime-mutable configuration object threaded
// through the orchestrator, router, and translator (the "passed context"
// Design Note - Config itself is one of the few things still centralized,
// since §4.1 requires its current-selection cells to be observable process
// wide and persisted through the history store's config table).
type Config struct {
	Server       Server
	Providers    []Provider
	Transformers []TransformerConfig // in configuration (= execution) order

	big    atomic.Value // string
	middle atomic.Value // string
	small  atomic.Value // string
}

// Load reads and parses a TOML config file into a ready-to-use Config.
func Load(path string) (*Config, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return fromFile(file), nil
}

func fromFile(f File) *Config {
	if f.Config.Port == 0 {
		d := defaultServer()
		f.Config.Port = d.Port
	}
	d := defaultServer()
	if f.Config.RequestTimeoutSeconds == 0 {
		f.Config.RequestTimeoutSeconds = d.RequestTimeoutSeconds
	}
	if f.Config.RetryBudget == 0 {
		f.Config.RetryBudget = d.RetryBudget
	}
	if f.Config.MaxTokensLimit == 0 {
		f.Config.MaxTokensLimit = d.MaxTokensLimit
	}
	if f.Config.MinTokensLimit == 0 {
		f.Config.MinTokensLimit = d.MinTokensLimit
	}
	if f.Config.DatabasePath == "" {
		f.Config.DatabasePath = d.DatabasePath
	}
	if f.Config.LogLevel == "" {
		f.Config.LogLevel = d.LogLevel
	}

	cfg := &Config{Server: f.Config, Providers: f.Providers}
	for name, t := range f.Transformers {
		t.Name = name
		cfg.Transformers = append(cfg.Transformers, t)
	}

	cfg.big.Store(f.Config.DefaultBigModel)
	cfg.middle.Store(f.Config.DefaultMiddleModel)
	cfg.small.Store(f.Config.DefaultSmallModel)
	return cfg
}

// CurrentSelection returns the current selection string for tier - of the
// form "ProviderName:concreteModel" or a bare concrete model - as a
// read-locked snapshot (atomic.Value load), per the copy-on-write rule in
// spec §5.
func (c *Config) CurrentSelection(tier Tier) string {
	var v atomic.Value
	switch tier {
	case TierBig:
		v = c.big
	case TierMiddle:
		v = c.middle
	case TierSmall:
		v = c.small
	}
	if s, ok := v.Load().(string); ok {
		return s
	}
	return ""
}

// SetCurrentSelection atomically updates the tier's current selection. The
// caller is responsible for persisting the new value through the history
// store's config table (see history.Store.SetConfig) so it survives a
// restart.
func (c *Config) SetCurrentSelection(tier Tier, selection string) error {
	switch tier {
	case TierBig:
		c.big.Store(selection)
	case TierMiddle:
		c.middle.Store(selection)
	case TierSmall:
		c.small.Store(selection)
	default:
		return fmt.Errorf("config: unknown tier %q", tier)
	}
	return nil
}
