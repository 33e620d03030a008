package importer

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

type opsRow struct {
	Day         jalali.Date `col:"date_shamsi"`
	ServiceCode string      `col:"service_code" validate:"required,max=64"`
	UnitID      *uint       `col:"unit_id"      validate:"required"`
	ActualQty   *float64    `col:"actual_qty"   validate:"omitempty,gte=0"`
	ActualFin   *float64    `col:"actual_fin"   validate:"omitempty,gte=0"`
}

func opsKey(day, code string, unit uint) string {
	return fmt.Sprintf("%s/%s/%d", day, code, unit)
}

func (r opsRow) key() string {
	if r.UnitID == nil {
		return ""
	}
	return opsKey(r.Day.String(), r.ServiceCode, *r.UnitID)
}

func (r opsRow) model() domain.OpsActualDaily {
	return domain.OpsActualDaily{
		Day:         r.Day.String(),
		Date:        r.Day.Time(),
		ServiceCode: r.ServiceCode,
		UnitID:      *r.UnitID,
		ActualQty:   r.ActualQty,
		ActualFin:   r.ActualFin,
	}
}

type opsVariant struct{}

func (opsVariant) columns() []string {
	return []string{"date_shamsi", "service_code", "unit_id", "actual_qty", "actual_fin"}
}

func (opsVariant) required() []string { return []string{"date_shamsi", "service_code", "unit_id"} }

func (opsVariant) prepare(ctx context.Context, db *gorm.DB, _ *Pipeline, tbl *Table, _ Options) (*plan, error) {
	ref, err := loadRefs(ctx, db)
	if err != nil {
		return nil, err
	}
	items, issues, _ := collect(tbl, rowSpec[opsRow]{
		decode: func(r *rowReader) opsRow {
			return opsRow{
				Day:         r.day("date_shamsi"),
				ServiceCode: r.str("service_code"),
				UnitID:      r.uint("unit_id"),
				ActualQty:   r.float("actual_qty"),
				ActualFin:   r.float("actual_fin"),
			}
		},
		key: opsRow.key,
		check: func(r opsRow) []string {
			var errs []string
			if !r.Day.Valid() {
				errs = append(errs, "date_shamsi is required")
			}
			errs = append(errs, ref.service(r.ServiceCode)...)
			errs = append(errs, ref.unit(r.UnitID)...)
			return append(errs, oneOf("actual_qty", r.ActualQty, "actual_fin", r.ActualFin)...)
		},
	})

	existing := map[string]domain.OpsActualDaily{}
	if len(items) > 0 {
		lo, hi := items[0].val.Day.String(), items[0].val.Day.String()
		for _, it := range items[1:] {
			d := it.val.Day.String()
			if d < lo {
				lo = d
			}
			if d > hi {
				hi = d
			}
		}
		var rows []domain.OpsActualDaily
		err := db.WithContext(ctx).Where("date_shamsi BETWEEN ? AND ?", lo, hi).Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, o := range rows {
			existing[opsKey(o.Day, o.ServiceCode, o.UnitID)] = o
		}
	}

	created, updated, entries := classify(items, existing, func(r opsRow, o domain.OpsActualDaily) bool {
		return ptrEq(r.ActualQty, o.ActualQty) && ptrEq(r.ActualFin, o.ActualFin)
	})

	return &plan{
		issues:  issues,
		entries: entries,
		apply: func(ctx context.Context, tx *gorm.DB, actor string, rep *Report) error {
			var audit []repo.AuditEntry
			for _, it := range created {
				m := it.val.model()
				if err := tx.WithContext(ctx).Create(&m).Error; err != nil {
					return err
				}
				audit = append(audit, repo.AuditEntry{Entity: "ops_actual", EntityID: it.key, Action: domain.ActionCreate, Payload: m})
			}
			for _, it := range updated {
				m := it.val.model()
				m.ID = existing[it.key].ID
				err := tx.WithContext(ctx).Model(&m).
					Select("actual_qty", "actual_fin").
					Updates(&m).Error
				if err != nil {
					return err
				}
				audit = append(audit, repo.AuditEntry{Entity: "ops_actual", EntityID: it.key, Action: domain.ActionUpdate, Payload: m})
			}
			if len(created)+len(updated) > 0 {
				job, err := repo.EnqueueRecompute(ctx, tx, domain.RecomputeDeviations, nil)
				if err != nil {
					return err
				}
				rep.Jobs = append(rep.Jobs, job.ID)
			}
			return repo.WriteAudit(ctx, tx, actor, audit...)
		},
	}, nil
}
