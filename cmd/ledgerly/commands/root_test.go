package commands

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerly/internal/app"
	"ledgerly/internal/config"
	"ledgerly/internal/testdb"
)

func TestCommandTree(t *testing.T) {
	cmd := NewCommand()

	for _, name := range []string{"serve", "worker", "sweep"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NotNil(t, serve.Flags().Lookup("no-worker"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestMissingConfigFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cmd := NewCommand()
	cmd.SetArgs([]string{"sweep"})
	cmd.SilenceErrors = true
	require.ErrorContains(t, cmd.Execute(), "missing env")
}

func TestAppClosedWhenCommandFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://unused")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("S3_ENDPOINT", "")
	t.Setenv("LOG_LEVEL", "disabled")

	// no tables, so the sweep query fails
	gdb := testdb.Open(t)
	prev := openApp
	openApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
		return app.Assemble(ctx, cfg, gdb)
	}
	t.Cleanup(func() { openApp = prev })

	cmd := NewCommand()
	cmd.SetArgs([]string{"sweep"})
	cmd.SilenceErrors = true
	require.Error(t, cmd.Execute())

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.ErrorContains(t, sqlDB.Ping(), "database is closed")
}
