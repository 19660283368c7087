package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRecommendCmd(opts *globalOptions) *cobra.Command {
	var ruleID string
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Rank the catalog against the current data state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if ruleID != "" {
					rec, err := a.service.GetRecommendationForRule(ctx, ruleID)
					if err != nil {
						return err
					}
					if rec == nil {
						return fmt.Errorf("no rule with id %q", ruleID)
					}
					return printJSON(cmd.OutOrStdout(), rec)
				}

				plan, err := a.service.GenerateRecommendations(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), plan)
			})
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "score a single rule")
	return cmd
}

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Measure terminology, metadata, cleanup and structure completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if refresh {
					if err := a.service.ClearCache(ctx); err != nil {
						return err
					}
				}
				analysis, err := a.service.AnalyzeDataState(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), analysis)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore a cached analysis")
	return cmd
}
