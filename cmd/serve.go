package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/history"
	"github.com/ccproxy/ccproxy/internal/httpapi"
	"github.com/ccproxy/ccproxy/internal/logging"
	"github.com/ccproxy/ccproxy/internal/orchestrator"
	"github.com/ccproxy/ccproxy/internal/router"
	"github.com/ccproxy/ccproxy/internal/transform"
	"github.com/ccproxy/ccproxy/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy server in the foreground",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := history.Open(cfg.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	restoreSelections(cfg, store)

	r := router.New(cfg)
	pipeline, err := transform.Build(cfg.Transformers)
	if err != nil {
		return fmt.Errorf("building transformer pipeline: %w", err)
	}
	client := upstream.New(upstream.Options{
		Timeout:     time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		RetryBudget: cfg.Server.RetryBudget,
	})
	orch := orchestrator.New(cfg, r, pipeline, client, store)

	srv := httpapi.NewServer(&httpapi.Server{Config: cfg, Router: r, Orchestrator: orch, History: store})

	color.Green("Starting %s...", appName)

	base := logging.NewBase(logLevel(cfg.Server.LogLevel), cfg.Server.MaskSecretsInLogs)
	log := logging.New(cmd.Context(), base)
	log.Info("ccproxy listening on %s (%d provider(s), %d transformer(s) enabled)", srv.Addr, len(cfg.Providers), enabledTransformerCount(cfg))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// restoreSelections overlays any tier selections persisted through a prior
// run's /api/config/update calls on top of the file's defaults, so the
// current selection survives a restart per spec §6.
func restoreSelections(cfg *config.Config, store *history.Store) {
	ctx := context.Background()
	for _, tier := range []config.Tier{config.TierBig, config.TierMiddle, config.TierSmall} {
		key := tierConfigKey(tier)
		if value, found, err := store.GetConfig(ctx, key); err == nil && found {
			_ = cfg.SetCurrentSelection(tier, value)
		}
	}
}

func enabledTransformerCount(cfg *config.Config) int {
	n := 0
	for _, t := range cfg.Transformers {
		if t.Enabled {
			n++
		}
	}
	return n
}

func tierConfigKey(tier config.Tier) string {
	switch tier {
	case config.TierBig:
		return "BIG_MODEL"
	case config.TierMiddle:
		return "MIDDLE_MODEL"
	default:
		return "SMALL_MODEL"
	}
}

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.DebugLevel
	case "warn", "warning":
		return logging.WarnLevel
	case "error":
		return logging.ErrorLevel
	default:
		return logging.InfoLevel
	}
}
