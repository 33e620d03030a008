package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/perfmon-backend/internal/config"
	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/events"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

var testDefaults = config.EngineDefaults{Threshold: 10, ConsecutiveDays: 1, CooldownDays: 5, DueHours: 24}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func jday(s string) time.Time { return jalali.MustParse(s).Time() }

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TriggerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.TriggerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// seedOrg creates one management, unit and head and returns their ids.
func seedOrg(t *testing.T, db *gorm.DB) (mgmt, unit, head uint) {
	t.Helper()
	m := domain.Management{Name: "North"}
	mustCreate(t, db, &m)
	u := domain.Unit{ManagementID: m.ID, Name: "Branch 1"}
	mustCreate(t, db, &u)
	h := domain.Head{FullName: "Reza Ahmadi"}
	mustCreate(t, db, &h)
	return m.ID, u.ID, h.ID
}
