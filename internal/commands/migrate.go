package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/David-Botos/lexicon-migrate/pkg/executor"
	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

func newPreviewCmd(opts *globalOptions) *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "preview <rule-id>",
		Short: "Show what a rule would change without touching data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manual, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				preview, err := a.service.PreviewMigration(ctx, args[0], manual)
				if err != nil {
					return fmt.Errorf("preview failed: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), preview)
			})
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "manual input as key=value (repeatable)")
	return cmd
}

func newExecuteCmd(opts *globalOptions) *cobra.Command {
	var (
		inputs     []string
		skipSafety bool
		yes        bool
	)
	cmd := &cobra.Command{
		Use:   "execute <rule-id>",
		Short: "Run a rule against the lexicon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manual, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rule, err := a.catalog.Get(args[0])
				if err != nil {
					return err
				}
				if rule.HasCheck(model.CheckUserConfirmation) && !yes && !a.cfg.Automated {
					check, _ := rule.Check(model.CheckUserConfirmation)
					return fmt.Errorf("rule %s needs confirmation (%s); rerun with --yes", rule.ID, check.Message)
				}

				ctx, cancel := context.WithTimeout(ctx, a.cfg.ExecutionTimeout)
				defer cancel()

				exec, execErr := a.service.ExecuteMigration(ctx, rule.ID, manual, executor.ExecuteOptions{
					SkipSafetyChecks: skipSafety,
					Automated:        a.cfg.Automated,
				})
				if exec.ID != "" {
					if err := printJSON(cmd.OutOrStdout(), exec); err != nil {
						return err
					}
				}
				if execErr != nil {
					a.logger.Error("Execution failed",
						zap.String("ruleId", rule.ID),
						zap.Stringer("kind", model.KindOf(execErr)),
						zap.Error(execErr))
					return execErr
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "manual input as key=value (repeatable)")
	cmd.Flags().BoolVar(&skipSafety, "skip-safety", false, "bypass safety checks, including manual input validation")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm rules that require operator confirmation")
	return cmd
}

func newRollbackCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <execution-id>",
		Short: "Roll back a completed execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				exec, err := a.service.RollbackMigration(ctx, args[0])
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), exec)
			})
		},
	}
}

func newExecutionsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "executions [execution-id]",
		Short: "List recorded executions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					exec, err := a.runner.Execution(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), exec)
				}
				execs, err := a.runner.Executions(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), execs)
			})
		},
	}
}
