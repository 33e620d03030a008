// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// organizational structure: managements, units, heads, tenures and service
// assignments.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Missing rows return gorm.ErrRecordNotFound (exported as ErrNotFound).
//   - Rows still referenced by foreign keys return ErrInUse on delete.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/temporal"
)

// ErrNotFound is an alias for gorm.ErrRecordNotFound.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrInUse is returned when a delete is refused by a foreign key.
var ErrInUse = errors.New("record is referenced by other records")

// GetByID loads one row of T by primary key.
func GetByID[T any](ctx context.Context, db *gorm.DB, id uint) (*T, error) {
	var v T
	if err := db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// ListAll returns every row of T ordered by its primary key, whatever that
// column is called (services are keyed by code).
func ListAll[T any](ctx context.Context, db *gorm.DB) ([]T, error) {
	var out []T
	err := db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Table: clause.CurrentTable, Name: clause.PrimaryKey}}).
		Find(&out).Error
	return out, err
}

// DeleteByID removes one row of T. It returns ErrNotFound when nothing was
// deleted and ErrInUse when a foreign key blocks the delete.
func DeleteByID[T any](ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(new(T), id)
	if res.Error != nil {
		if isForeignKeyViolation(res.Error) {
			return ErrInUse
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Save writes every column of v (insert when the primary key is zero).
func Save[T any](ctx context.Context, db *gorm.DB, v *T) error {
	return db.WithContext(ctx).Save(v).Error
}

// Create inserts v.
func Create[T any](ctx context.Context, db *gorm.DB, v *T) error {
	return db.WithContext(ctx).Create(v).Error
}

// ListUnits returns units, optionally filtered by management.
func ListUnits(ctx context.Context, db *gorm.DB, managementID *uint) ([]domain.Unit, error) {
	q := db.WithContext(ctx).Order("id ASC")
	if managementID != nil {
		q = q.Where("management_id = ?", *managementID)
	}
	var out []domain.Unit
	err := q.Find(&out).Error
	return out, err
}

// ListTenures returns tenures filtered by unit and/or head, ordered by start.
func ListTenures(ctx context.Context, db *gorm.DB, unitID, headID *uint) ([]domain.HeadTenure, error) {
	q := db.WithContext(ctx).Order("valid_from ASC, id ASC")
	if unitID != nil {
		q = q.Where("unit_id = ?", *unitID)
	}
	if headID != nil {
		q = q.Where("head_id = ?", *headID)
	}
	var out []domain.HeadTenure
	err := q.Find(&out).Error
	return out, err
}

// ListAssignments returns service assignments, optionally for one service.
func ListAssignments(ctx context.Context, db *gorm.DB, serviceCode string) ([]domain.ServiceAssignment, error) {
	q := db.WithContext(ctx).Order("service_code ASC, valid_from ASC, id ASC")
	if serviceCode != "" {
		q = q.Where("service_code = ?", serviceCode)
	}
	var out []domain.ServiceAssignment
	err := q.Find(&out).Error
	return out, err
}

// AssignmentSource reads the interval history of a subject key from db.
// Bind it to the transaction that performs the guarded write.
type AssignmentSource struct {
	DB *gorm.DB
}

// Intervals implements temporal.Source.
func (s AssignmentSource) Intervals(ctx context.Context, key temporal.SubjectKey) ([]temporal.Record, error) {
	switch key.Kind {
	case temporal.KindTenure:
		var rows []domain.HeadTenure
		q := s.DB.WithContext(ctx).Model(&domain.HeadTenure{})
		q = whereUint(q, "head_id", key.HeadID)
		q = whereUint(q, "unit_id", key.UnitID)
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]temporal.Record, 0, len(rows))
		for _, r := range rows {
			out = append(out, temporal.Record{ID: r.ID, Interval: temporal.Interval{From: r.ValidFrom, To: r.ValidTo}})
		}
		return out, nil

	case temporal.KindServiceAssignment:
		var rows []domain.ServiceAssignment
		q := s.DB.WithContext(ctx).Model(&domain.ServiceAssignment{}).Where("service_code = ?", key.ServiceCode)
		q = whereUint(q, "unit_id", key.UnitID)
		if key.Scoped {
			q = whereUint(q, "management_id", key.ManagementID)
			q = whereUint(q, "head_id", key.HeadID)
		}
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]temporal.Record, 0, len(rows))
		for _, r := range rows {
			out = append(out, temporal.Record{ID: r.ID, Interval: temporal.Interval{From: r.ValidFrom, To: r.ValidTo}})
		}
		return out, nil
	}
	return nil, errors.New("unknown subject kind")
}

// CurrentHead resolves the head responsible for (service, unit) on day: the
// service assignment with a head wins, then the unit's tenure. Nil when
// nobody is assigned.
func CurrentHead(ctx context.Context, db *gorm.DB, serviceCode string, unitID uint, day time.Time) (*uint, error) {
	var sa domain.ServiceAssignment
	err := db.WithContext(ctx).
		Where("service_code = ? AND unit_id = ? AND head_id IS NOT NULL", serviceCode, unitID).
		Where("valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)", day, day).
		Order("valid_from DESC").
		First(&sa).Error
	if err == nil {
		return sa.HeadID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var ht domain.HeadTenure
	err = db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Where("valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)", day, day).
		Order("valid_from DESC").
		First(&ht).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := ht.HeadID
	return &id, nil
}

func whereUint(q *gorm.DB, col string, v *uint) *gorm.DB {
	if v == nil {
		return q.Where(col + " IS NULL")
	}
	return q.Where(col+" = ?", *v)
}

func isForeignKeyViolation(err error) bool {
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrForeignKeyViolated) ||
		strings.Contains(low, "foreign key constraint failed") ||
		strings.Contains(low, "constraint failed: foreign key")
}
