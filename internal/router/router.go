// Package router resolves a requested model string to a tier, a current
// selection, and a concrete (provider, model) pair, per spec §4.1. Shape is
// grounded on the teacher's provider-selection logic in
// proxy/handler.go (selectProvider/isBigModelEndpoint) generalized from a
// two-tier (big/small) scheme to the three-tier scheme spec.md requires,
// and on mihaisavezi-claude-code-open's internal/providers/registry.go
// Registry for the provider catalog shape.
package router

import (
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
)

// Resolution is the outcome of routing a request: which provider handles it,
// which concrete model name goes on the wire, and the tier it was routed by.
type Resolution struct {
	Tier           config.Tier
	Provider       config.Provider
	ConcreteModel  string
	Selection      string // the raw "ProviderName:model" or bare-model string used
}

// Router resolves models against a live Config.
type Router struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// TierFor classifies a requested model name by substring match, in the
// fixed precedence order spec §4.1 gives: haiku, then sonnet, then opus;
// anything else defaults to big.
func TierFor(requestedModel string) config.Tier {
	m := strings.ToLower(requestedModel)
	switch {
	case strings.Contains(m, "haiku"):
		return config.TierSmall
	case strings.Contains(m, "sonnet"):
		return config.TierMiddle
	case strings.Contains(m, "opus"):
		return config.TierBig
	default:
		return config.TierBig
	}
}

// Resolve classifies requestedModel into a tier, reads that tier's current
// selection, and resolves it to a concrete provider and model.
func (r *Router) Resolve(requestedModel string) (Resolution, error) {
	tier := TierFor(requestedModel)
	selection := r.cfg.CurrentSelection(tier)
	if selection == "" {
		return Resolution{}, apperr.New(apperr.KindNoProvider, "no current selection configured for tier "+string(tier))
	}
	return r.resolveSelection(tier, selection)
}

// resolveSelection implements the "ProviderName:concreteModel, or a bare
// concrete model" rule from spec §4.1.
func (r *Router) resolveSelection(tier config.Tier, selection string) (Resolution, error) {
	if providerName, model, ok := strings.Cut(selection, ":"); ok {
		provider, found := r.cfg.ProviderByName(providerName)
		if !found {
			return Resolution{}, apperr.New(apperr.KindUnknownModel, "selection references unknown provider "+providerName)
		}
		if !modelListed(provider.ModelsForTier(tier), model) {
			return Resolution{}, apperr.New(apperr.KindUnknownModel, "provider "+providerName+" does not advertise model "+model+" for tier "+string(tier))
		}
		return Resolution{Tier: tier, Provider: provider, ConcreteModel: model, Selection: selection}, nil
	}

	// Bare model: the first provider listing it for this tier wins.
	for _, p := range r.cfg.Providers {
		if modelListed(p.ModelsForTier(tier), selection) {
			return Resolution{Tier: tier, Provider: p, ConcreteModel: selection, Selection: selection}, nil
		}
	}
	return Resolution{}, apperr.New(apperr.KindNoProvider, "no provider advertises model "+selection+" for tier "+string(tier))
}

func modelListed(models []string, name string) bool {
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}

// SetSelection validates and installs a new current selection for tier,
// returning the resolved (provider, model) pair so the caller can persist
// it through the history store's config table.
func (r *Router) SetSelection(tier config.Tier, selection string) (Resolution, error) {
	res, err := r.resolveSelection(tier, selection)
	if err != nil {
		return Resolution{}, err
	}
	if err := r.cfg.SetCurrentSelection(tier, selection); err != nil {
		return Resolution{}, apperr.Wrap(apperr.KindInternal, err, "setting current selection")
	}
	return res, nil
}
