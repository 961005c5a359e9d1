// commands.go contains the cobra command definitions and their flags.
// Each builder wires a command to its handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Experiments
// =============================================================================

func buildExperimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiments",
		Aliases: []string{"exp"},
		Short:   "Manage saved experiments in the remote store",
	}

	var (
		page     int
		pageSize int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentsList(cmd.Context(), page, pageSize)
		},
	}
	listCmd.Flags().IntVar(&page, "page", 1, "Page number")
	listCmd.Flags().IntVar(&pageSize, "page-size", 20, "Items per page")

	var create createFlags
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an experiment",
		Example: `  modelarena experiments create --name "json shapes" \
    --prompt "Return a JSON object" \
    --model openai/gpt-4o --model anthropic/claude-sonnet-4-5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentsCreate(cmd.Context(), create)
		},
	}
	createCmd.Flags().StringVar(&create.name, "name", "", "Experiment name")
	createCmd.Flags().StringVar(&create.suite, "suite", "", "Suite the experiment belongs to")
	createCmd.Flags().StringVar(&create.prompt, "prompt", "", "Prompt text")
	createCmd.Flags().StringArrayVar(&create.models, "model", nil, "Model as platform/modelId (repeatable)")
	createCmd.Flags().IntVar(&create.repeatN, "repeat", 1, "Invocations per model")
	createCmd.MarkFlagRequired("name")   //nolint:errcheck
	createCmd.MarkFlagRequired("prompt") //nolint:errcheck
	createCmd.MarkFlagRequired("model")  //nolint:errcheck

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentsShow(cmd.Context(), args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentsDelete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(listCmd, createCmd, showCmd, deleteCmd)
	return cmd
}

// =============================================================================
// Run
// =============================================================================

func buildRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a comparison and stream results",
		Long: `Run one prompt against multiple models concurrently and fold the
multiplexed event stream into per-item results.

With --experiment the saved experiment's prompt, models and parameters
are used. Ad-hoc runs take --prompt and repeated --model flags.
Interrupting with Ctrl-C freezes items at their last state.`,
		Example: `  # Run a saved experiment against the hosted backend
  modelarena run --experiment exp-123

  # Ad-hoc local run
  modelarena run --local --prompt "Return JSON" --model openai/gpt-4o`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.experimentID, "experiment", "", "Saved experiment id")
	cmd.Flags().StringVar(&flags.prompt, "prompt", "", "Prompt text for an ad-hoc run")
	cmd.Flags().StringArrayVar(&flags.models, "model", nil, "Model as platform/modelId (repeatable)")
	cmd.Flags().StringVar(&flags.expectedFormat, "expect", "", "Expected output format: json | json-strict | function-call | tool-call")
	cmd.Flags().IntVar(&flags.repeatN, "repeat", 0, "Invocations per model (default from config)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Max concurrent invocations (default from config)")
	cmd.Flags().BoolVar(&flags.local, "local", false, "Execute in-process against configured providers")
	return cmd
}

// =============================================================================
// Validate
// =============================================================================

func buildValidateCmd() *cobra.Command {
	var flags validateFlags
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate model output against a structured shape",
		Long: `Validate text (from a file or stdin) as structured model output.

The default tolerant mode salvages JSON from prose and code fences.
--strict requires the whole text to be a single JSON document. --shape
additionally checks the recovered value against a known call shape, and
--schema validates it against a JSON Schema file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runValidate(file, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Require the whole text to be one JSON document")
	cmd.Flags().StringVar(&flags.shape, "shape", "", "Check call shape: function-call | tool-call | plan")
	cmd.Flags().StringVar(&flags.schemaFile, "schema", "", "Validate against a JSON Schema file")
	return cmd
}

// =============================================================================
// Images: plan and generate
// =============================================================================

func buildPlanCmd() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "plan <instruction>",
		Short: "Resolve a batch image instruction into a plan",
		Long: `Resolve free-form batch instructions into discrete generation tasks.
Planning is read-only: it never triggers generation spend. The printed
plan is what "generate batch" executes after confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), args[0], flags)
		},
	}
	cmd.Flags().BoolVar(&flags.local, "local", false, "Plan with a locally configured model")
	cmd.Flags().StringVar(&flags.systemPrompt, "system", "", "Override the planning system prompt")
	return cmd
}

func buildGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate images across models",
	}

	var batch generateBatchFlags
	batchCmd := &cobra.Command{
		Use:   "batch <instruction>",
		Short: "Plan and run a batch generation across models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateBatch(cmd.Context(), args[0], batch)
		},
	}
	batchCmd.Flags().StringArrayVar(&batch.models, "model", nil, "Image model as platform/modelId (repeatable)")
	batchCmd.Flags().IntVar(&batch.concurrency, "concurrency", 2, "Per-model concurrency budget")
	batchCmd.Flags().BoolVar(&batch.local, "local", false, "Execute in-process against configured providers")
	batchCmd.Flags().BoolVarP(&batch.yes, "yes", "y", false, "Skip plan confirmation")
	batchCmd.MarkFlagRequired("model") //nolint:errcheck

	var single generateSingleFlags
	singleCmd := &cobra.Command{
		Use:   "single <prompt>",
		Short: "Generate variants of one prompt per model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateSingle(cmd.Context(), args[0], single)
		},
	}
	singleCmd.Flags().StringArrayVar(&single.models, "model", nil, "Image model as platform/modelId (repeatable)")
	singleCmd.Flags().StringVar(&single.size, "size", "", `Requested size ("WxH") or aspect ratio ("W:H")`)
	singleCmd.Flags().IntVarP(&single.perModel, "n", "n", 1, "Variants per model")
	singleCmd.Flags().BoolVar(&single.local, "local", false, "Execute in-process against configured providers")
	singleCmd.MarkFlagRequired("model") //nolint:errcheck

	cmd.AddCommand(batchCmd, singleCmd)
	return cmd
}

// =============================================================================
// Cache
// =============================================================================

func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the local cache tiers",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the local cache holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStatus(cmd.Context())
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the snapshot and blob tiers for the configured user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd.Context())
		},
	}

	cmd.AddCommand(statusCmd, clearCmd)
	return cmd
}
