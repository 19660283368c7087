package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

type ruleSummary struct {
	ID                  string                   `json:"id"`
	Name                string                   `json:"name"`
	Category            model.Category           `json:"category"`
	Priority            model.Priority           `json:"priority"`
	Table               string                   `json:"table"`
	Transformation      model.TransformationType `json:"transformation"`
	Rollback            model.RollbackType       `json:"rollback"`
	AutoExecutable      bool                     `json:"autoExecutable"`
	RequiresManualInput bool                     `json:"requiresManualInput"`
}

func summarize(r model.Rule) ruleSummary {
	return ruleSummary{
		ID:                  r.ID,
		Name:                r.Name,
		Category:            r.Category,
		Priority:            r.Priority,
		Table:               r.Pattern.Table,
		Transformation:      r.Transformation.Type,
		Rollback:            r.RollbackStrategy.Type,
		AutoExecutable:      r.AutoExecutable,
		RequiresManualInput: r.RequiresManualInput,
	}
}

func newRulesCmd(opts *globalOptions) *cobra.Command {
	var (
		category string
		priority string
		auto     bool
		manual   bool
		full     bool
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rules in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if auto && manual {
				return fmt.Errorf("--auto and --manual are mutually exclusive")
			}
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				var rules []model.Rule
				switch {
				case auto:
					rules = a.catalog.AutoExecutable()
				case manual:
					rules = a.catalog.RequiringManualInput()
				default:
					rules = a.catalog.List()
				}

				out := make([]any, 0, len(rules))
				for _, r := range rules {
					if category != "" && string(r.Category) != category {
						continue
					}
					if priority != "" && string(r.Priority) != priority {
						continue
					}
					if full {
						out = append(out, r)
					} else {
						out = append(out, summarize(r))
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only rules in this category")
	cmd.Flags().StringVar(&priority, "priority", "", "only rules with this priority")
	cmd.Flags().BoolVar(&auto, "auto", false, "only auto-executable rules")
	cmd.Flags().BoolVar(&manual, "manual", false, "only rules requiring manual input")
	cmd.Flags().BoolVar(&full, "full", false, "print complete rule definitions")
	return cmd
}
