package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/history"
	"github.com/ccproxy/ccproxy/internal/router"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the proxy's current model selections",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current big/middle/small model selections",
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <big|middle|small> <selection>",
	Short: "Set a tier's current selection (\"ProviderName:model\" or a bare model name)",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigGet(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	restoreSelections(cfg, store)
	fmt.Printf("BIG_MODEL=%s\n", cfg.CurrentSelection(config.TierBig))
	fmt.Printf("MIDDLE_MODEL=%s\n", cfg.CurrentSelection(config.TierMiddle))
	fmt.Printf("SMALL_MODEL=%s\n", cfg.CurrentSelection(config.TierSmall))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	tier, err := parseTier(args[0])
	if err != nil {
		return err
	}
	selection := args[1]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	r := router.New(cfg)
	if _, err := r.SetSelection(tier, selection); err != nil {
		return fmt.Errorf("rejecting selection: %w", err)
	}

	store, err := history.Open(cfg.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SetConfig(context.Background(), tierConfigKey(tier), selection); err != nil {
		return err
	}

	fmt.Printf("%s=%s\n", tierConfigKey(tier), selection)
	return nil
}

func parseTier(s string) (config.Tier, error) {
	switch s {
	case "big":
		return config.TierBig, nil
	case "middle":
		return config.TierMiddle, nil
	case "small":
		return config.TierSmall, nil
	default:
		return "", fmt.Errorf("unknown tier %q (want big, middle, or small)", s)
	}
}
