// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for triggers and
// the responses heads leave on them.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// TriggerView is a trigger joined with the display names of its service,
// unit, management and assigned head.
type TriggerView struct {
	domain.Trigger
	ServiceName    string `json:"service_name"`
	UnitName       string `json:"unit_name"`
	ManagementName string `json:"management_name"`
	HeadName       string `json:"head_name"`
}

// TriggerFilter narrows trigger listings. Zero values match everything.
type TriggerFilter struct {
	Status      string
	Severity    string
	ServiceCode string
	UnitID      *uint
	UpdatedOnly bool
	From        *time.Time
	To          *time.Time
}

func (f TriggerFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("triggers.status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("triggers.severity = ?", f.Severity)
	}
	if f.ServiceCode != "" {
		q = q.Where("triggers.service_code = ?", f.ServiceCode)
	}
	if f.UnitID != nil {
		q = q.Where("triggers.unit_id = ?", *f.UnitID)
	}
	if f.UpdatedOnly {
		q = q.Where("triggers.updated = ?", true)
	}
	if f.From != nil {
		q = q.Where("triggers.date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("triggers.date <= ?", *f.To)
	}
	return q
}

func triggerViewQuery(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ctx).
		Table("triggers").
		Select(`triggers.*,
			COALESCE(services.name, '')    AS service_name,
			COALESCE(units.name, '')       AS unit_name,
			COALESCE(managements.name, '') AS management_name,
			COALESCE(heads.full_name, '')  AS head_name`).
		Joins("LEFT JOIN services ON services.code = triggers.service_code").
		Joins("LEFT JOIN units ON units.id = triggers.unit_id").
		Joins("LEFT JOIN managements ON managements.id = units.management_id").
		Joins("LEFT JOIN heads ON heads.id = triggers.assigned_head_id")
}

// CountTriggers returns the number of triggers matching f.
func CountTriggers(ctx context.Context, db *gorm.DB, f TriggerFilter) (int64, error) {
	var n int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Trigger{})).Count(&n).Error
	return n, err
}

// ListTriggerViews returns a page of triggers, newest day first.
func ListTriggerViews(ctx context.Context, db *gorm.DB, f TriggerFilter, offset, limit int) ([]TriggerView, error) {
	var out []TriggerView
	err := f.apply(triggerViewQuery(ctx, db)).
		Order("triggers.date DESC, triggers.id ASC").
		Offset(offset).
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// GetTriggerView loads one trigger with names, or ErrNotFound.
func GetTriggerView(ctx context.Context, db *gorm.DB, id uint) (*TriggerView, error) {
	var out []TriggerView
	if err := triggerViewQuery(ctx, db).Where("triggers.id = ?", id).Limit(1).Scan(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

// MarkTriggerSeen clears the updated flag of a trigger.
func MarkTriggerSeen(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Model(&domain.Trigger{}).Where("id = ?", id).Update("updated", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionTrigger moves a trigger from one status to another. It returns
// false when the trigger was not in the expected status anymore.
func TransitionTrigger(ctx context.Context, db *gorm.DB, id uint, from, to string) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Trigger{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TriggersByServices returns triggers of the given services.
func TriggersByServices(ctx context.Context, db *gorm.DB, codes []string) ([]domain.Trigger, error) {
	if len(codes) == 0 {
		return []domain.Trigger{}, nil
	}
	var out []domain.Trigger
	err := db.WithContext(ctx).
		Where("service_code IN ?", codes).
		Order("service_code ASC, date ASC, unit_id ASC").
		Find(&out).Error
	return out, err
}

// ServiceUnit identifies a planning pair. UnitID nil stands for every unit of
// the service.
type ServiceUnit struct {
	ServiceCode string
	UnitID      *uint
}

// FlagTriggersUpdated sets updated=true on every trigger of the given pairs
// and returns the number of rows touched.
func FlagTriggersUpdated(ctx context.Context, db *gorm.DB, pairs []ServiceUnit) (int64, error) {
	var total int64
	for _, p := range pairs {
		q := db.WithContext(ctx).Model(&domain.Trigger{}).Where("service_code = ?", p.ServiceCode)
		if p.UnitID != nil {
			q = q.Where("unit_id = ?", *p.UnitID)
		}
		res := q.Update("updated", true)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// TopDeviations returns triggers dated within [from, to] ordered by the
// magnitude of their deviation.
func TopDeviations(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]TriggerView, error) {
	var out []TriggerView
	err := triggerViewQuery(ctx, db).
		Where("triggers.date >= ? AND triggers.date <= ? AND triggers.deviation_pct IS NOT NULL", from, to).
		Order("ABS(triggers.deviation_pct) DESC, triggers.id ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// CreateResponse inserts a response.
func CreateResponse(ctx context.Context, db *gorm.DB, r *domain.Response) error {
	return db.WithContext(ctx).Create(r).Error
}

// ListResponses returns responses newest first, optionally for one trigger.
func ListResponses(ctx context.Context, db *gorm.DB, triggerID *uint) ([]domain.Response, error) {
	q := db.WithContext(ctx).Order("submitted_at DESC, id DESC")
	if triggerID != nil {
		q = q.Where("trigger_id = ?", *triggerID)
	}
	var out []domain.Response
	err := q.Find(&out).Error
	return out, err
}
