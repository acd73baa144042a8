package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ledgerly/internal/app"
	"ledgerly/internal/config"
	"ledgerly/internal/logging"
)

const cliExecutable = "ledgerly"

type appKey struct{}

// openApp connects the application for a subcommand.
var openApp = app.New

// NewCommand builds the ledgerly CLI. Every subcommand gets a connected
// application from the persistent pre-run and closes it through withApp.
func NewCommand() *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Ledgerly API, job workers and maintenance",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "json or console (overrides LOG_FORMAT)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newSweepCommand())
	return cmd
}

// withApp runs fn with the application from the pre-run and closes it when fn
// returns, also on error. Cobra skips post-run hooks after a failed RunE.
func withApp(fn func(cmd *cobra.Command, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, _ := cmd.Context().Value(appKey{}).(*app.App)
		if a == nil {
			return fmt.Errorf("%s: application not initialized", cmd.Name())
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Warn().Err(err).Msg("shutdown")
			}
		}()
		return fn(cmd, a)
	}
}
