package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// loadFile decodes path into a File, grounded on the teacher's config.go
// LoadConfig (which used yaml.v3); this proxy's config format is TOML per
// spec §6, so decoding goes through BurntSushi/toml instead.
func loadFile(path string) (File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		// Unknown keys are tolerated (forward-compatible config files); they
		// are ignored and not reported.
		_ = undecoded
	}
	return f, nil
}

// Validate checks the loaded Config for the structural requirements spec §6
// places on a config file: at least one provider, every provider uniquely
// named, with a base_url and a known provider_type. API keys are not
// checked.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: no providers configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %q missing base_url", p.Name)
		}
		switch p.ProviderType {
		case ProviderOpenAI, ProviderAnthropic:
		case "":
			return fmt.Errorf("config: provider %q missing provider_type", p.Name)
		default:
			return fmt.Errorf("config: provider %q has unknown provider_type %q", p.Name, p.ProviderType)
		}
	}
	return nil
}

// ProviderByName looks up a configured provider by its exact name.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}
