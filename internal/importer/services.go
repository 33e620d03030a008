package importer

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

type serviceRow struct {
	Code     string   `col:"code"      validate:"required,max=64"`
	Name     string   `col:"name"      validate:"required,max=255"`
	UOM      string   `col:"uom"       validate:"required,max=32"`
	BaseQty  *float64 `col:"base_qty"  validate:"omitempty,gte=0"`
	BaseFin  *float64 `col:"base_fin"  validate:"omitempty,gte=0"`
	IsActive *bool    `col:"is_active" validate:"required"`
}

func (r serviceRow) model() domain.Service {
	return domain.Service{
		Code:     r.Code,
		Name:     r.Name,
		UOM:      r.UOM,
		BaseQty:  r.BaseQty,
		BaseFin:  r.BaseFin,
		IsActive: r.IsActive != nil && *r.IsActive,
	}
}

type servicesVariant struct{}

func (servicesVariant) columns() []string {
	return []string{"code", "name", "uom", "base_qty", "base_fin", "is_active"}
}

func (servicesVariant) required() []string { return []string{"code", "name", "uom", "is_active"} }

func (servicesVariant) prepare(ctx context.Context, db *gorm.DB, _ *Pipeline, tbl *Table, opts Options) (*plan, error) {
	existing, err := repo.ListAll[domain.Service](ctx, db)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]domain.Service, len(existing))
	for _, s := range existing {
		byCode[s.Code] = s
	}

	items, issues, keys := collect(tbl, rowSpec[serviceRow]{
		decode: func(r *rowReader) serviceRow {
			return serviceRow{
				Code:     r.str("code"),
				Name:     r.str("name"),
				UOM:      r.str("uom"),
				BaseQty:  r.float("base_qty"),
				BaseFin:  r.float("base_fin"),
				IsActive: r.flag("is_active"),
			}
		},
		key: func(r serviceRow) string { return r.Code },
	})

	created, updated, entries := classify(items, byCode, func(r serviceRow, s domain.Service) bool {
		m := r.model()
		return m.Name == s.Name && m.UOM == s.UOM && m.IsActive == s.IsActive &&
			ptrEq(m.BaseQty, s.BaseQty) && ptrEq(m.BaseFin, s.BaseFin)
	})

	var deactivate []string
	if opts.ConfirmDeactivate {
		for _, s := range existing {
			if s.IsActive && !keys[s.Code] {
				deactivate = append(deactivate, s.Code)
			}
		}
		sort.Strings(deactivate)
		for _, code := range deactivate {
			entries = append(entries, DiffEntry{Code: code, Status: ChangeDeactivated})
		}
	}

	return &plan{
		issues:  issues,
		entries: entries,
		apply: func(ctx context.Context, tx *gorm.DB, actor string, _ *Report) error {
			var audit []repo.AuditEntry
			for _, it := range created {
				m := it.val.model()
				if err := tx.WithContext(ctx).Create(&m).Error; err != nil {
					return err
				}
				audit = append(audit, repo.AuditEntry{Entity: "service", EntityID: m.Code, Action: domain.ActionCreate, Payload: m})
			}
			for _, it := range updated {
				m := it.val.model()
				err := tx.WithContext(ctx).Model(&domain.Service{Code: m.Code}).
					Select("name", "uom", "base_qty", "base_fin", "is_active").
					Updates(&m).Error
				if err != nil {
					return err
				}
				audit = append(audit, repo.AuditEntry{
					Entity: "service", EntityID: m.Code, Action: domain.ActionUpdate,
					Payload: map[string]any{"before": byCode[m.Code], "after": m},
				})
			}
			if len(deactivate) > 0 {
				err := tx.WithContext(ctx).Model(&domain.Service{}).
					Where("code IN ?", deactivate).
					Update("is_active", false).Error
				if err != nil {
					return err
				}
				for _, code := range deactivate {
					audit = append(audit, repo.AuditEntry{Entity: "service", EntityID: code, Action: domain.ActionDeactivate})
				}
			}
			return repo.WriteAudit(ctx, tx, actor, audit...)
		},
	}, nil
}
