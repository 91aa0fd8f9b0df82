// File: cmd/run.go
package cmd

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/agent"
	"github.com/xkilldash9x/strata-cli/internal/llmclient"
	"github.com/xkilldash9x/strata-cli/internal/observability"
	"github.com/xkilldash9x/strata-cli/internal/toolrepo"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		maxRepairs int
		workingDir string
		asJSON     bool
	)

	runCmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Plans and executes a goal end to end",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-repairs") {
				cfg.Agent.MaxRepairIterations = maxRepairs
			}
			if cmd.Flags().Changed("working-dir") {
				cfg.Environment.WorkingDir = workingDir
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			goal := strings.Join(args, " ")

			llm, err := llmclient.NewRouterFromConfig(cfg.Agent.LLM, logger)
			if err != nil {
				return fmt.Errorf("initialize LLM router: %w", err)
			}

			tools, closeRepo, err := toolrepo.NewFromConfig(ctx, cfg.ToolRepo, logger)
			if err != nil {
				return fmt.Errorf("initialize tool repository: %w", err)
			}
			defer closeRepo()

			ag, err := agent.NewFromConfig(logger, cfg, llm, tools)
			if err != nil {
				return err
			}
			defer ag.Close()

			result, err := ag.Run(ctx, goal)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("encode run result: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else {
				printRunResult(cmd, result)
			}

			if !result.Succeeded() {
				logger.Error("Run failed", zap.String("run_id", result.RunID), zap.Error(result.Failure))
				return fmt.Errorf("run %s failed: %s", result.RunID, result.Failure.Reason)
			}
			return nil
		},
	}

	runCmd.Flags().IntVar(&maxRepairs, "max-repairs", 3, "repair attempts per subtask before giving up")
	runCmd.Flags().StringVar(&workingDir, "working-dir", "", "working directory shared by all subtasks")
	runCmd.Flags().BoolVar(&asJSON, "json", false, "emit the run result as JSON")
	return runCmd
}

func printRunResult(cmd *cobra.Command, result schemas.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n", result.RunID, result.EndedAt.Sub(result.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "Goal: %s\n", result.Goal)
	fmt.Fprintf(out, "Completed subtasks: %d\n", len(result.Completed))
	if result.Succeeded() {
		fmt.Fprintf(out, "Result:\n%s\n", result.Result)
		return
	}
	fmt.Fprintf(out, "Failed at %s (%s): %s\n", result.Failure.NodeID, result.Failure.Kind, result.Failure.Reason)
	if result.Failure.Critique != "" {
		fmt.Fprintf(out, "Critique: %s\n", result.Failure.Critique)
	}
}
