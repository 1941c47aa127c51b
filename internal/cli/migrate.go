package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/leadscore/internal/config"
	"github.com/ignite/leadscore/internal/pkg/logger"
	"github.com/ignite/leadscore/internal/repository/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			return runMigrate(cmd, cfg)
		},
	}
}

func runMigrate(cmd *cobra.Command, cfg *config.Config) error {
	db, err := openDB(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := postgres.Migrate(cmd.Context(), db)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
	}
	logger.Info("migrations applied", "count", len(applied))
	return nil
}
