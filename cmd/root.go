// Package cmd wires the proxy's command-line surface with cobra, the way
// mihaisavezi-claude-code-open's cmd/ package does for its own LLM router:
// a root command carrying the shared --config flag, with serve and config
// subcommands hung off it.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "ccproxy"

var configPath string

var rootCmd = &cobra.Command{
	Use:     appName,
	Short:   "ccproxy - a Claude-compatible proxy for OpenAI-compatible and native providers",
	Long:    "ccproxy sits between Claude-compatible clients and upstream model providers, translating requests between Claude's messages format and OpenAI-compatible chat completions.",
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to the TOML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command, exiting non-zero on failure per spec §6.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
