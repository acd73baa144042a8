package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ledgerly/internal/app"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recover lost jobs once and exit",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			st, err := a.Sweeper().SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d (released %d), reclaimed %d queue entries\n",
				st.Requeued, st.Released, st.Reclaimed)
			return nil
		}),
	}
}
