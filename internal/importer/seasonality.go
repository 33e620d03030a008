package importer

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

type seasonalityRow struct {
	ServiceCode string   `col:"service_code" validate:"max=64"`
	Month       int      `col:"month"        validate:"required,gte=1,lte=12"`
	Actual1403  *float64 `col:"actual_1403"  validate:"required,gte=0"`
}

// seasonKey names a seasonality cell; the global series has no code.
func seasonKey(code string, month int) string {
	if code == "" {
		return fmt.Sprintf("*/%d", month)
	}
	return fmt.Sprintf("%s/%d", code, month)
}

type seasonalityVariant struct{}

func (seasonalityVariant) columns() []string {
	return []string{"service_code", "month", "actual_1403", "season_weight"}
}

func (seasonalityVariant) required() []string { return []string{"month", "actual_1403"} }

func (seasonalityVariant) prepare(ctx context.Context, db *gorm.DB, _ *Pipeline, tbl *Table, _ Options) (*plan, error) {
	ref, err := loadRefs(ctx, db)
	if err != nil {
		return nil, err
	}
	items, issues, _ := collect(tbl, rowSpec[seasonalityRow]{
		decode: func(r *rowReader) seasonalityRow {
			return seasonalityRow{
				ServiceCode: r.str("service_code"),
				Month:       r.int("month"),
				Actual1403:  r.float("actual_1403"),
			}
		},
		key: func(r seasonalityRow) string {
			if r.Month == 0 {
				return ""
			}
			return seasonKey(r.ServiceCode, r.Month)
		},
		check: func(r seasonalityRow) []string { return ref.service(r.ServiceCode) },
	})

	var rows []domain.SeasonalityMonth
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	existing := make(map[string]domain.SeasonalityMonth, len(rows))
	for _, s := range rows {
		existing[seasonKey(s.ServiceCode, s.Month)] = s
	}

	created, updated, entries := classify(items, existing, func(r seasonalityRow, s domain.SeasonalityMonth) bool {
		return *r.Actual1403 == s.Actual1403
	})

	return &plan{
		issues:  issues,
		entries: entries,
		apply: func(ctx context.Context, tx *gorm.DB, actor string, rep *Report) error {
			changed := append(append([]item[seasonalityRow]{}, created...), updated...)
			if len(changed) == 0 {
				return nil
			}
			series := map[string]bool{}
			months := make([]domain.SeasonalityMonth, 0, len(changed))
			audit := make([]repo.AuditEntry, 0, len(changed))
			for _, it := range changed {
				m := domain.SeasonalityMonth{ServiceCode: it.val.ServiceCode, Month: it.val.Month, Actual1403: *it.val.Actual1403}
				months = append(months, m)
				series[m.ServiceCode] = true
				action := domain.ActionUpdate
				if _, ok := existing[it.key]; !ok {
					action = domain.ActionCreate
				}
				audit = append(audit, repo.AuditEntry{Entity: "seasonality", EntityID: it.key, Action: action, Payload: m})
			}
			err := tx.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "service_code"}, {Name: "month"}},
					DoUpdates: clause.AssignmentColumns([]string{"actual_1403"}),
				}).
				CreateInBatches(months, 200).Error
			if err != nil {
				return err
			}

			codes := make([]string, 0, len(series))
			for c := range series {
				codes = append(codes, c)
			}
			sort.Strings(codes)
			for _, c := range codes {
				if err := Reweight(ctx, tx, c); err != nil {
					return err
				}
			}
			job, err := repo.EnqueueRecompute(ctx, tx, domain.RecomputeBudget, nil)
			if err != nil {
				return err
			}
			rep.Jobs = append(rep.Jobs, job.ID)
			return repo.WriteAudit(ctx, tx, actor, audit...)
		},
	}, nil
}

// Reweight sets season_weight of every month of a series to its share of the
// series total. A zero total leaves all weights at zero.
func Reweight(ctx context.Context, db *gorm.DB, serviceCode string) error {
	var total float64
	err := db.WithContext(ctx).Model(&domain.SeasonalityMonth{}).
		Select("COALESCE(SUM(actual_1403), 0)").
		Where("service_code = ?", serviceCode).
		Scan(&total).Error
	if err != nil {
		return err
	}
	q := db.WithContext(ctx).Model(&domain.SeasonalityMonth{}).Where("service_code = ?", serviceCode)
	if total == 0 {
		return q.Update("season_weight", 0).Error
	}
	return q.Update("season_weight", gorm.Expr("actual_1403 / ?", total)).Error
}
