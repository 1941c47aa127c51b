package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ignite/leadscore/internal/worker"
)

type decayFlags struct {
	leadID       string
	inactiveDays int
	stats        bool
}

func (f decayFlags) validate() error {
	set := 0
	if f.leadID != "" {
		set++
	}
	if f.inactiveDays != 0 {
		set++
	}
	if f.stats {
		set++
	}
	if set > 1 {
		return errors.New("--lead, --inactive-days and --stats are mutually exclusive")
	}
	if f.inactiveDays < 0 {
		return errors.New("--inactive-days must be positive")
	}
	return nil
}

func newDecayCmd() *cobra.Command {
	var f decayFlags
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Apply inactivity decay now",
		Long: `Without flags, runs a full decay sweep under the sweep lock and archives
its report. --lead decays a single lead, --inactive-days sweeps with a custom
inactivity threshold and --stats only reports how many leads are eligible.`,
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
			case f.stats:
				st, err := a.decay.Statistics(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, st)
			case f.leadID != "":
				decayed, err := a.decay.DecayOne(ctx, f.leadID)
				if err != nil {
					return err
				}
				return printJSON(out, map[string]any{"lead_id": f.leadID, "decayed": decayed})
			case f.inactiveDays > 0:
				rep, err := a.sweeper.RunDecayInactive(ctx, worker.TriggerCLI, f.inactiveDays)
				if err != nil {
					return err
				}
				return printJSON(out, rep)
			}
			rep, err := a.sweeper.RunDecay(ctx, worker.TriggerCLI)
			if err != nil {
				return err
			}
			return printJSON(out, rep)
		},
	}
	cmd.Flags().StringVar(&f.leadID, "lead", "", "decay a single lead")
	cmd.Flags().IntVar(&f.inactiveDays, "inactive-days", 0, "decay leads inactive for at least N days")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "print decay statistics without changing scores")
	return cmd
}
