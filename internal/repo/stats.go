// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer and for the dashboard summary.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// TriggersStats returns the number of triggers matching f and the greatest
// UpdatedAt among them. When nothing matches, maxUpdatedAt is nil.
func TriggersStats(ctx context.Context, db *gorm.DB, f TriggerFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := f.apply(db.WithContext(ctx).Model(&domain.Trigger{}))

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	q = f.apply(db.WithContext(ctx).Model(&domain.Trigger{}))
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// DashboardCounts aggregates the headline numbers of the dashboard.
type DashboardCounts struct {
	OpenTriggers  int64
	HighOpen      int64
	TotalTriggers int64
	Responded     int64
}

// CountDashboard fills DashboardCounts with four count queries.
func CountDashboard(ctx context.Context, db *gorm.DB) (DashboardCounts, error) {
	var c DashboardCounts
	base := func() *gorm.DB { return db.WithContext(ctx).Model(&domain.Trigger{}) }
	if err := base().Where("status = ?", domain.TriggerOpen).Count(&c.OpenTriggers).Error; err != nil {
		return c, err
	}
	if err := base().Where("status = ? AND severity = ?", domain.TriggerOpen, domain.SeverityHigh).Count(&c.HighOpen).Error; err != nil {
		return c, err
	}
	if err := base().Count(&c.TotalTriggers).Error; err != nil {
		return c, err
	}
	err := db.WithContext(ctx).Model(&domain.Response{}).
		Distinct("trigger_id").
		Count(&c.Responded).Error
	return c, err
}
