// Package cli implements the leadscore command line: the API server, the
// sweep worker, migrations and one-off scoring and segment operations.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

var cfgFile string

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadscore",
		Short: "Lead scoring and segmentation engine",
		Long: `leadscore scores CRM leads, decays the scores of inactive leads and keeps
lead-segment membership in line with each segment's rules.

Configuration is read from a YAML file; DATABASE_URL, REDIS_URL and the
other documented environment variables override it.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newDecayCmd(),
		newSyncCmd(),
		newRecomputeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "leadscore "+Version)
			},
		},
	)
	return root
}

// Execute runs the command tree with ctx, which is cancelled on shutdown
// signals by the caller.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
