package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ignite/leadscore/internal/worker"
)

type syncFlags struct {
	leadID    string
	segmentID string
	all       bool
	from      string
}

func (f syncFlags) validate() error {
	set := 0
	for _, on := range []bool{f.leadID != "", f.segmentID != "", f.all} {
		if on {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of --lead, --segment or --all is required")
	}
	if f.from != "" && !f.all {
		return errors.New("--from is only valid with --all")
	}
	return nil
}

func newSyncCmd() *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "Synchronize lead-segment membership",
		PreRunE: func(cmd *cobra.Command, args []string) error { return f.validate() },
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			switch {
			case f.leadID != "":
				res, err := a.sync.SynchronizeLead(ctx, f.leadID)
				if err != nil {
					return err
				}
				return printJSON(out, res)
			case f.segmentID != "":
				res, err := a.sync.SynchronizeSegment(ctx, f.segmentID)
				if err != nil {
					return err
				}
				return printJSON(out, res)
			}
			rep, err := a.sweeper.RunSync(ctx, worker.TriggerCLI, f.from)
			if err != nil {
				return err
			}
			return printJSON(out, rep)
		},
	}
	cmd.Flags().StringVar(&f.leadID, "lead", "", "synchronize one lead against every active segment")
	cmd.Flags().StringVar(&f.segmentID, "segment", "", "re-evaluate one segment against every lead")
	cmd.Flags().BoolVar(&f.all, "all", false, "synchronize every lead")
	cmd.Flags().StringVar(&f.from, "from", "", "with --all, resume after this lead ID")
	return cmd
}
