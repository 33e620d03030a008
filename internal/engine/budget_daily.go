// Package engine holds the batch computations of the backend: spreading
// annual budgets over the working days of the year and comparing daily
// actuals against the resulting plan.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

var (
	// ErrNoSnapshot means no published snapshot exists for (year, scenario).
	ErrNoSnapshot = errors.New("no published budget snapshot")
	// ErrNoCalendar means the calendar holds no day of the year.
	ErrNoCalendar = errors.New("calendar has no days for year")
)

var cent = decimal.New(1, -2)

// DailyResult summarizes a ComputeBudgetDaily run.
type DailyResult struct {
	Year       int                `json:"year"`
	Scenario   string             `json:"scenario"`
	SnapshotID uint               `json:"snapshot_id"`
	Lines      int                `json:"lines"`
	Rows       int                `json:"rows"`
	Changed    []repo.ServiceUnit `json:"changed"`
	Flagged    int64              `json:"flagged_triggers"`
}

// ComputeBudgetDaily rebuilds the daily plan of (year, scenario) from its
// published snapshot. Each annual amount is split into cent month totals by
// seasonality, and each month total across its days by calendar weight. The
// rounding residue of a month stays in that month, on its heaviest days, so
// the daily rows sum exactly to both the month and the annual figure. Triggers of pairs whose plan changed
// are flagged as updated.
func ComputeBudgetDaily(ctx context.Context, db *gorm.DB, year int, scenario string) (*DailyResult, error) {
	res := &DailyResult{Year: year, Scenario: scenario}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap, err := repo.PublishedSnapshot(ctx, tx, year, scenario)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %d/%s", ErrNoSnapshot, year, scenario)
		}
		if err != nil {
			return err
		}
		res.SnapshotID = snap.ID

		lines, err := repo.SnapshotLines(ctx, tx, snap.ID)
		if err != nil {
			return err
		}
		res.Lines = len(lines)

		var days []domain.CalendarDay
		if err := tx.Where("date_shamsi LIKE ?", yearPrefix(year)+"%").Order("date_shamsi ASC").Find(&days).Error; err != nil {
			return err
		}
		if len(days) == 0 {
			return fmt.Errorf("%w %d", ErrNoCalendar, year)
		}
		var season []domain.SeasonalityMonth
		if err := tx.Find(&season).Error; err != nil {
			return err
		}

		plan := newDayPlan(days, season)
		var rows []domain.BudgetDaily
		for _, l := range lines {
			qty := plan.split(l.ServiceCode, l.AnnualQty)
			fin := plan.split(l.ServiceCode, l.AnnualFin)
			for i, d := range days {
				rows = append(rows, domain.BudgetDaily{
					Day:         d.Day,
					Date:        d.Date,
					ServiceCode: l.ServiceCode,
					UnitID:      l.UnitID,
					SnapshotID:  snap.ID,
					BudgetQty:   pick(qty, i),
					BudgetFin:   pick(fin, i),
				})
			}
		}
		res.Rows = len(rows)

		scope := tx.Model(&domain.BudgetDaily{}).
			Where("date_shamsi LIKE ?", yearPrefix(year)+"%").
			Where("snapshot_id IN (?)", tx.Model(&domain.BudgetSnapshot{}).Select("id").Where("year = ? AND scenario = ?", year, scenario))
		var old []domain.BudgetDaily
		if err := scope.Session(&gorm.Session{}).Find(&old).Error; err != nil {
			return err
		}
		if err := scope.Session(&gorm.Session{}).Delete(&domain.BudgetDaily{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}

		res.Changed = changedPairs(old, rows)
		res.Flagged, err = repo.FlagTriggersUpdated(ctx, tx, res.Changed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func yearPrefix(year int) string { return fmt.Sprintf("%04d-", year) }

// dayPlan holds the calendar of one year grouped by month.
type dayPlan struct {
	days    []domain.CalendarDay
	byMonth map[int][]int // month -> indexes into days
	season  map[string][13]float64
}

func newDayPlan(days []domain.CalendarDay, season []domain.SeasonalityMonth) *dayPlan {
	p := &dayPlan{days: days, byMonth: map[int][]int{}, season: map[string][13]float64{}}
	for i, d := range days {
		p.byMonth[d.JalaliMonth] = append(p.byMonth[d.JalaliMonth], i)
	}
	for _, s := range season {
		if s.Month < 1 || s.Month > 12 {
			continue
		}
		w := p.season[s.ServiceCode]
		w[s.Month] = s.Actual1403
		p.season[s.ServiceCode] = w
	}
	return p
}

// monthShares returns the share of each month for a service: its own series,
// else the global one, else equal shares. Months without calendar days get
// nothing and the rest is renormalized.
func (p *dayPlan) monthShares(code string) [13]float64 {
	var src [13]float64
	switch {
	case positive(p.season[code]):
		src = p.season[code]
	case positive(p.season[""]):
		src = p.season[""]
	default:
		for m := 1; m <= 12; m++ {
			src[m] = 1
		}
	}
	var out [13]float64
	var total float64
	for m := 1; m <= 12; m++ {
		if len(p.byMonth[m]) > 0 {
			out[m] = src[m]
			total += src[m]
		}
	}
	if total == 0 {
		for m := 1; m <= 12; m++ {
			if len(p.byMonth[m]) > 0 {
				out[m] = 1
				total++
			}
		}
	}
	for m := 1; m <= 12; m++ {
		out[m] /= total
	}
	return out
}

// split spreads an annual amount over the days of the year in two steps:
// first into cent month totals by seasonality share, then each month total
// over its own days by calendar weight. Both steps sum exactly, so every
// month carries its own rounding residue. Nil in, nil out.
func (p *dayPlan) split(code string, total *float64) []decimal.Decimal {
	if total == nil {
		return nil
	}
	ms := p.monthShares(code)
	mw := make([]decimal.Decimal, 12)
	for m := 1; m <= 12; m++ {
		mw[m-1] = decimal.NewFromFloat(ms[m])
	}
	months := spread(decimal.NewFromFloat(*total).Round(2), mw)

	out := make([]decimal.Decimal, len(p.days))
	for i := range out {
		out[i] = decimal.Zero
	}
	for m, idx := range p.byMonth {
		if m < 1 || m > 12 {
			continue
		}
		var sum float64
		for _, i := range idx {
			sum += p.days[i].WeightRaw
		}
		dw := make([]decimal.Decimal, len(idx))
		for k, i := range idx {
			if sum > 0 {
				dw[k] = decimal.NewFromFloat(p.days[i].WeightRaw).Div(decimal.NewFromFloat(sum))
			} else {
				dw[k] = decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(idx))))
			}
		}
		for k, v := range spread(months[m-1], dw) {
			out[idx[k]] = v
		}
	}
	return out
}

func positive(w [13]float64) bool {
	for _, v := range w {
		if v > 0 {
			return true
		}
	}
	return false
}

// spread splits the cent amount t by weights; the residue goes one cent at a
// time to the heaviest positive weights.
func spread(t decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	var heavy []int
	for i, w := range weights {
		out[i] = t.Mul(w).Round(2)
		sum = sum.Add(out[i])
		if w.IsPositive() {
			heavy = append(heavy, i)
		}
	}
	if len(heavy) == 0 {
		return out
	}
	sort.SliceStable(heavy, func(a, b int) bool {
		return weights[heavy[a]].GreaterThan(weights[heavy[b]])
	})
	units := t.Sub(sum).Div(cent).IntPart()
	step := cent
	if units < 0 {
		step, units = cent.Neg(), -units
	}
	for k := int64(0); k < units; k++ {
		i := heavy[int(k)%len(heavy)]
		out[i] = out[i].Add(step)
	}
	return out
}

func pick(vals []decimal.Decimal, i int) *float64 {
	if vals == nil {
		return nil
	}
	f := vals[i].InexactFloat64()
	return &f
}

func unitKey(u *uint) string {
	if u == nil {
		return "*"
	}
	return strconv.FormatUint(uint64(*u), 10)
}

// changedPairs compares two daily plans and returns the (service, unit)
// pairs whose rows differ, sorted.
func changedPairs(old, cur []domain.BudgetDaily) []repo.ServiceUnit {
	type val struct{ qty, fin *float64 }
	key := func(b domain.BudgetDaily) string { return b.Day + "|" + b.ServiceCode + "|" + unitKey(b.UnitID) }
	pairOf := func(b domain.BudgetDaily) string { return b.ServiceCode + "|" + unitKey(b.UnitID) }

	before := make(map[string]val, len(old))
	for _, b := range old {
		before[key(b)] = val{b.BudgetQty, b.BudgetFin}
	}
	changed := map[string]repo.ServiceUnit{}
	mark := func(b domain.BudgetDaily) {
		changed[pairOf(b)] = repo.ServiceUnit{ServiceCode: b.ServiceCode, UnitID: b.UnitID}
	}
	for _, b := range cur {
		k := key(b)
		v, ok := before[k]
		if !ok || !floatEq(v.qty, b.BudgetQty) || !floatEq(v.fin, b.BudgetFin) {
			mark(b)
		}
		delete(before, k)
	}
	for _, b := range old {
		if _, gone := before[key(b)]; gone {
			mark(b)
		}
	}

	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]repo.ServiceUnit, 0, len(keys))
	for _, k := range keys {
		out = append(out, changed[k])
	}
	return out
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
