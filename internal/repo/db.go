// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver), query tracing and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	// Connection-scoped PRAGMAs also go in the DSN so every pooled
	// connection gets them, not only the one the Exec calls below hit.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newQueryLogger()})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// queryLogWriter forwards GORM's log lines to the process logger.
type queryLogWriter struct{}

func (queryLogWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newQueryLogger reports failed and slow statements. A lookup that finds no
// row is an expected outcome here (callers map it to ErrNotFound) and is not
// logged.
func newQueryLogger() logger.Interface {
	return logger.New(queryLogWriter{}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// EnableTracing registers the GORM OpenTelemetry plugin so every statement
// becomes a child span of the request or job that issued it.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates every table and the partial unique index
// that allows a single published snapshot per (year, scenario).
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Management{},
		&domain.Unit{},
		&domain.Head{},
		&domain.HeadTenure{},
		&domain.ServiceAssignment{},
		&domain.Service{},
		&domain.CalendarDay{},
		&domain.SeasonalityMonth{},
		&domain.OpsActualDaily{},
		&domain.BudgetSnapshot{},
		&domain.BudgetAnnual{},
		&domain.BudgetDaily{},
		&domain.RecomputeJob{},
		&domain.Trigger{},
		&domain.Response{},
		&domain.Setting{},
		&domain.AuditLog{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_snapshot_published
		ON budget_snapshots (year, scenario) WHERE status = 'published'`).Error
}
