// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for budget
// snapshots, their lines and the recompute queue.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// ErrStaleSnapshot is returned when the snapshot being archived is no longer
// the published one (another commit won the race).
var ErrStaleSnapshot = errors.New("published snapshot changed concurrently")

// PublishedSnapshot returns the published snapshot for (year, scenario), or
// ErrNotFound.
func PublishedSnapshot(ctx context.Context, db *gorm.DB, year int, scenario string) (*domain.BudgetSnapshot, error) {
	var s domain.BudgetSnapshot
	err := db.WithContext(ctx).
		Where("year = ? AND scenario = ? AND status = ?", year, scenario, domain.SnapshotPublished).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PublishedSnapshots returns every published snapshot of year.
func PublishedSnapshots(ctx context.Context, db *gorm.DB, year int) ([]domain.BudgetSnapshot, error) {
	var out []domain.BudgetSnapshot
	err := db.WithContext(ctx).
		Where("year = ? AND status = ?", year, domain.SnapshotPublished).
		Order("scenario ASC").
		Find(&out).Error
	return out, err
}

// ListSnapshots returns snapshots newest first.
func ListSnapshots(ctx context.Context, db *gorm.DB) ([]domain.BudgetSnapshot, error) {
	var out []domain.BudgetSnapshot
	err := db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

// SnapshotLines returns the budget lines owned by a snapshot.
func SnapshotLines(ctx context.Context, db *gorm.DB, snapshotID uint) ([]domain.BudgetAnnual, error) {
	var out []domain.BudgetAnnual
	err := db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("service_code ASC, unit_id ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ArchiveSnapshot flips a published snapshot to archived. The update is
// guarded on the current status so a concurrent commit that already archived
// it makes this call fail with ErrStaleSnapshot.
func ArchiveSnapshot(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).
		Model(&domain.BudgetSnapshot{}).
		Where("id = ? AND status = ?", id, domain.SnapshotPublished).
		Update("status", domain.SnapshotArchived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrStaleSnapshot
	}
	return nil
}

// CreateSnapshot inserts s and maps a unique violation on the published
// index to ErrDuplicate.
func CreateSnapshot(ctx context.Context, db *gorm.DB, s *domain.BudgetSnapshot) error {
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// NextSnapshotVersion returns 1 + the highest version of (year, scenario).
func NextSnapshotVersion(ctx context.Context, db *gorm.DB, year int, scenario string) (int, error) {
	var row struct{ V int }
	err := db.WithContext(ctx).Model(&domain.BudgetSnapshot{}).
		Select("COALESCE(MAX(version), 0) AS v").
		Where("year = ? AND scenario = ?", year, scenario).
		Scan(&row).Error
	return row.V + 1, err
}

// EnqueueRecompute queues a recompute job.
func EnqueueRecompute(ctx context.Context, db *gorm.DB, kind string, snapshotID *uint) (*domain.RecomputeJob, error) {
	job := &domain.RecomputeJob{Kind: kind, SnapshotID: snapshotID, Status: domain.JobPending, CreatedAt: time.Now().UTC()}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// PendingRecomputeJobs returns queued jobs oldest first.
func PendingRecomputeJobs(ctx context.Context, db *gorm.DB) ([]domain.RecomputeJob, error) {
	var out []domain.RecomputeJob
	err := db.WithContext(ctx).
		Where("status = ?", domain.JobPending).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// FinishRecomputeJob records the outcome of a job.
func FinishRecomputeJob(ctx context.Context, db *gorm.DB, id uint, runErr error) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": domain.JobDone, "finished_at": now, "error": ""}
	if runErr != nil {
		updates["status"] = domain.JobFailed
		updates["error"] = runErr.Error()
	}
	return db.WithContext(ctx).Model(&domain.RecomputeJob{}).Where("id = ?", id).Updates(updates).Error
}
