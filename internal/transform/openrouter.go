package transform

import (
	"context"
	"encoding/json"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/types"
)

// newOpenRouterTransformer implements the OpenRouter cache-control
// transformer from spec §4.3: in request_out, attach an
// extra_query.cache_control object built from the transformer's options.
func newOpenRouterTransformer(cfg config.TransformerConfig) Transformer {
	cacheControl := map[string]interface{}{}
	if ttl, ok := cfg.Options["ttl"]; ok {
		cacheControl["ttl"] = ttl
	}
	if refresh, ok := cfg.Options["refresh"]; ok {
		cacheControl["refresh"] = refresh
	}
	if len(cacheControl) == 0 {
		cacheControl["ttl"] = 3600
		cacheControl["refresh"] = "force"
	}

	return Transformer{
		Name: "openrouter",
		RequestOut: func(_ context.Context, req *types.OpenAIRequest, _ *State) error {
			data, err := json.Marshal(map[string]interface{}{"cache_control": cacheControl})
			if err != nil {
				return err
			}
			req.ExtraQuery = data
			return nil
		},
	}
}
