package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerly/internal/testdb"
)

func TestAutoMigrateAndIndexes(t *testing.T) {
	gdb := testdb.Open(t)
	require.NoError(t, AutoMigrateAndIndexes(gdb))
	// idempotent
	require.NoError(t, AutoMigrateAndIndexes(gdb))

	for _, table := range []string{"users", "account_shares", "jobs", "transactions", "category_migrations", "phone_links"} {
		require.True(t, gdb.Migrator().HasTable(table), table)
	}
}
