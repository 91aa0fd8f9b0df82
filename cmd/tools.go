// File: cmd/tools.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/strata-cli/internal/observability"
	"github.com/xkilldash9x/strata-cli/internal/toolrepo"
)

// newToolsCmd groups inspection commands for the generated-tool repository.
func newToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspects the generated-tool repository",
	}
	toolsCmd.AddCommand(newToolsSearchCmd(), newToolsShowCmd())
	return toolsCmd
}

func newToolsSearchCmd() *cobra.Command {
	var topK int

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Ranks stored tools against a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			repo, closeRepo, err := toolrepo.NewFromConfig(ctx, cfg.ToolRepo, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("initialize tool repository: %w", err)
			}
			defer closeRepo()

			ids, err := repo.SimilaritySearch(ctx, args[0], topK)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching tools.")
				return nil
			}
			for _, id := range ids {
				desc, err := repo.GetDescription(ctx, id)
				if err != nil {
					desc = "(description unavailable)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, desc)
			}
			return nil
		},
	}

	searchCmd.Flags().IntVar(&topK, "top", 10, "maximum number of results")
	return searchCmd
}

func newToolsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Prints a stored tool's code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			repo, closeRepo, err := toolrepo.NewFromConfig(ctx, cfg.ToolRepo, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("initialize tool repository: %w", err)
			}
			defer closeRepo()

			code, err := repo.GetCode(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}
