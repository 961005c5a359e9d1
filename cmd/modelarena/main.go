// Package main provides the modelarena CLI, the client-side engine for
// comparing model outputs side by side.
//
// # Basic Usage
//
// Run a saved experiment against the hosted backend:
//
//	modelarena run --experiment exp-123
//
// Run an ad-hoc prompt locally against configured providers:
//
//	modelarena run --local --prompt "Return a JSON object" \
//	  --model openai/gpt-4o --model anthropic/claude-sonnet-4-5
//
// Validate captured output:
//
//	modelarena validate --strict < output.txt
//
// # Environment Variables
//
//   - MODELARENA_CONFIG: Path to configuration file
//   - MODELARENA_TOKEN: Bearer token for the hosted backend
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY: provider
//     credentials for local execution
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modelarena",
		Short: "modelarena - side-by-side model comparison engine",
		Long: `modelarena drives concurrent model invocations, folds their streamed
output into per-item state, validates structured responses, and caches
results locally so they survive restarts.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MODELARENA_CONFIG"),
		"Path to configuration file (YAML or JSON5)")

	rootCmd.AddCommand(
		buildExperimentsCmd(),
		buildRunCmd(),
		buildValidateCmd(),
		buildPlanCmd(),
		buildGenerateCmd(),
		buildCacheCmd(),
	)
	return rootCmd
}
