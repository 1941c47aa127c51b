package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/leadscore/internal/api"
	"github.com/ignite/leadscore/internal/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			handlers := api.NewHandlers(a.mutator, a.decay, a.sync, a.archive).WithSweeps(a.sweeper)
			srv := api.NewServer(a.cfg.Server, handlers, api.NewHealthChecker(a.db, a.redis, Version))

			if withWorker {
				if err := a.sweeper.Start(); err != nil {
					return err
				}
				defer a.sweeper.Stop()
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("api server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down api server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-errCh
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the scheduled decay and sync sweeps in this process")
	return cmd
}
