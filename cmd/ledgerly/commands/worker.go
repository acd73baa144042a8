package commands

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ledgerly/internal/app"
)

func newWorkerCommand() *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run job workers and the recovery sweeper",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			ctx := cmd.Context()

			var wg sync.WaitGroup
			if !noSweep {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.Sweeper().Run(ctx)
				}()
			}
			log.Info().Int("workers", a.Config.WorkerCount).Str("queue", a.Config.QueueBackend).Msg("starting workers")
			a.Pool().Run(ctx)
			wg.Wait()
			return nil
		}),
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "Do not run the recovery sweeper in this process")
	return cmd
}
