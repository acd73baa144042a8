package db

import (
	"fmt"
	"time"

	"ledgerly/internal/auth"
	"ledgerly/internal/finance"
	"ledgerly/internal/jobs"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// Models lists every table ledgerly owns.
func Models() []any {
	models := []any{
		&auth.User{},
		&auth.Share{},
		&jobs.Job{},
	}
	return append(models, finance.Models()...)
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return err
	}

	stmts := []string{
		// sweeper scans
		`create index if not exists idx_jobs_status_updated on jobs(status, updated_at);`,
		`create index if not exists idx_jobs_status_locked on jobs(status, locked_at);`,
		// GET /jobs
		`create index if not exists idx_jobs_owner_created on jobs(owner_id, created_at desc);`,
		`create index if not exists idx_tx_owner_date on transactions(owner_id, date desc);`,
		`create index if not exists idx_tx_owner_category on transactions(owner_id, category_id);`,
		`create index if not exists idx_of_tx_pending on open_finance_transactions(link_id, imported_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}
