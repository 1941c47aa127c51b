package cli

import (
	"github.com/spf13/cobra"

	"github.com/ignite/leadscore/internal/pkg/logger"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduled decay and segment sync sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sweeper.Start(); err != nil {
				return err
			}
			<-cmd.Context().Done()
			logger.Info("shutting down worker")
			a.sweeper.Stop()

			st := a.sweeper.Stats()
			logger.Info("worker stopped", "decay_runs", st.DecayRuns, "sync_runs", st.SyncRuns)
			return nil
		},
	}
}
