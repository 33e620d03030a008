package importer

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

type calendarRow struct {
	Day               jalali.Date `col:"date_shamsi"`
	JalaliMonth       int         `col:"jalali_month"        validate:"required,gte=1,lte=12"`
	WeekdayName       string      `col:"weekday_name"        validate:"max=32"`
	IsFriday          *bool       `col:"is_friday"           validate:"required"`
	IsThursday        *bool       `col:"is_thursday"         validate:"required"`
	IsOfficialHoliday *bool       `col:"is_official_holiday" validate:"required"`
	IsSummerBreak     *bool       `col:"is_summer_break"     validate:"required"`
}

// WeightRaw is the working-day weight of a calendar day: Fridays, official
// holidays and summer-break days count 0, Thursdays 0.5 and other days 1.
func WeightRaw(friday, thursday, holiday, summerBreak bool) float64 {
	switch {
	case friday || holiday || summerBreak:
		return 0
	case thursday:
		return 0.5
	default:
		return 1
	}
}

func (r calendarRow) model() domain.CalendarDay {
	return domain.CalendarDay{
		Day:               r.Day.String(),
		Date:              r.Day.Time(),
		JalaliMonth:       r.JalaliMonth,
		WeekdayName:       r.WeekdayName,
		IsFriday:          *r.IsFriday,
		IsThursday:        *r.IsThursday,
		IsOfficialHoliday: *r.IsOfficialHoliday,
		IsSummerBreak:     *r.IsSummerBreak,
		WeightRaw:         WeightRaw(*r.IsFriday, *r.IsThursday, *r.IsOfficialHoliday, *r.IsSummerBreak),
	}
}

type calendarVariant struct{}

func (calendarVariant) columns() []string {
	return []string{"date_shamsi", "jalali_month", "weekday_name", "is_friday", "is_thursday", "is_official_holiday", "is_summer_break", "weight_raw"}
}

func (calendarVariant) required() []string {
	return []string{"date_shamsi", "jalali_month", "is_friday", "is_thursday", "is_official_holiday", "is_summer_break"}
}

func (calendarVariant) prepare(ctx context.Context, db *gorm.DB, p *Pipeline, tbl *Table, _ Options) (*plan, error) {
	items, issues, _ := collect(tbl, rowSpec[calendarRow]{
		decode: func(r *rowReader) calendarRow {
			return calendarRow{
				Day:               r.day("date_shamsi"),
				JalaliMonth:       r.int("jalali_month"),
				WeekdayName:       r.str("weekday_name"),
				IsFriday:          r.flag("is_friday"),
				IsThursday:        r.flag("is_thursday"),
				IsOfficialHoliday: r.flag("is_official_holiday"),
				IsSummerBreak:     r.flag("is_summer_break"),
			}
		},
		key: func(r calendarRow) string {
			if !r.Day.Valid() {
				return ""
			}
			return r.Day.String()
		},
		check: func(r calendarRow) []string {
			if !r.Day.Valid() {
				return []string{"date_shamsi is required"}
			}
			var errs []string
			if p.CalendarYear != 0 && r.Day.Year != p.CalendarYear {
				errs = append(errs, fmt.Sprintf("date_shamsi must fall in year %d", p.CalendarYear))
			}
			if r.JalaliMonth != 0 && r.JalaliMonth != r.Day.Month {
				errs = append(errs, fmt.Sprintf("jalali_month %d does not match date_shamsi", r.JalaliMonth))
			}
			return errs
		},
	})

	var rows []domain.CalendarDay
	if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	existing := make(map[string]domain.CalendarDay, len(rows))
	for _, c := range rows {
		existing[c.Day] = c
	}

	created, updated, entries := classify(items, existing, func(r calendarRow, c domain.CalendarDay) bool {
		m := r.model()
		return m.JalaliMonth == c.JalaliMonth && m.WeekdayName == c.WeekdayName &&
			m.IsFriday == c.IsFriday && m.IsThursday == c.IsThursday &&
			m.IsOfficialHoliday == c.IsOfficialHoliday && m.IsSummerBreak == c.IsSummerBreak &&
			m.WeightRaw == c.WeightRaw
	})

	return &plan{
		issues:  issues,
		entries: entries,
		apply: func(ctx context.Context, tx *gorm.DB, actor string, rep *Report) error {
			changed := append(append([]item[calendarRow]{}, created...), updated...)
			if len(changed) == 0 {
				return nil
			}
			days := make([]domain.CalendarDay, 0, len(changed))
			audit := make([]repo.AuditEntry, 0, len(changed))
			for _, it := range changed {
				m := it.val.model()
				days = append(days, m)
				action := domain.ActionUpdate
				if _, ok := existing[it.key]; !ok {
					action = domain.ActionCreate
				}
				audit = append(audit, repo.AuditEntry{Entity: "calendar_day", EntityID: it.key, Action: action, Payload: m})
			}
			err := tx.WithContext(ctx).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date_shamsi"}}, UpdateAll: true}).
				CreateInBatches(days, 200).Error
			if err != nil {
				return err
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
