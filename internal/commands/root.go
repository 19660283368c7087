package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the lexmigrate command tree
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "lexmigrate",
		Short: "Preview, run and roll back data migrations on the Italian lexicon",
		Long: `lexmigrate applies declarative migration rules to the dictionary tables.
Every rule can be previewed without touching data, executed behind safety
checks with a backup or reverse rollback, and ranked against the current
data quality by the recommendation engine.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&opts.demo, "demo", false,
		"run against a seeded in-memory lexicon; data and execution history are discarded on exit, so rollback and executions never see earlier invocations")
	flags.StringVar(&opts.envFile, "env-file", "", "read environment variables from this file (default .env)")
	flags.BoolVar(&opts.metrics, "metrics", false, "print the execution metrics report to stderr")

	root.AddCommand(
		newRulesCmd(opts),
		newPreviewCmd(opts),
		newExecuteCmd(opts),
		newRollbackCmd(opts),
		newRecommendCmd(opts),
		newAnalyzeCmd(opts),
		newExecutionsCmd(opts),
	)
	return root
}
