package cli

import (
	"github.com/spf13/cobra"
)

func newRecomputeCmd() *cobra.Command {
	var leadID string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute a lead's score from its attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			lead, err := a.mutator.Recompute(ctx, leadID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"lead_id": lead.ID, "score": lead.Score})
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead ID")
	_ = cmd.MarkFlagRequired("lead")
	return cmd
}
