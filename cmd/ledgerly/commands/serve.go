package commands

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ledgerly/internal/app"
)

func newServeCommand() *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, with workers and the sweeper unless --no-worker",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var wg sync.WaitGroup
			if !noWorker {
				wg.Add(2)
				go func() {
					defer wg.Done()
					a.Pool().Run(ctx)
				}()
				go func() {
					defer wg.Done()
					a.Sweeper().Run(ctx)
				}()
			}

			srv := &http.Server{
				Addr:              a.Config.HTTPAddr,
				Handler:           a.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", a.Config.HTTPAddr).Bool("workers", !noWorker).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)

			cancel()
			wg.Wait()
			return serveErr
		}),
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Serve the API only")
	return cmd
}
