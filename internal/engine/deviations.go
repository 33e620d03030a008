package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

// maxSamples bounds DeviationResult.Samples.
const maxSamples = 5

// Issue is a per-record problem that did not stop the run.
type Issue struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// DeviationResult summarizes a ComputeDeviations run.
type DeviationResult struct {
	SettingsVersion int              `json:"settings_version"`
	Processed       int              `json:"processed"`
	Created         int              `json:"created"`
	Changed         int              `json:"changed"`
	Unchanged       int              `json:"unchanged"`
	High            int              `json:"high"`
	Issues          []Issue          `json:"issues"`
	Samples         []domain.Trigger `json:"samples"`
	// Notify holds the triggers that newly became notifiable in this run.
	Notify []domain.Trigger `json:"-"`
}

// DeviationOptions scope a run.
type DeviationOptions struct {
	// Scenario selects the daily plan to compare against.
	Scenario string
	// Year limits the run to one jalali year; 0 means every actual.
	Year int
}

// Deviation returns the percentage deviation of actual from budget, rounded
// to two decimals. It is undefined (nil) for a zero budget.
func Deviation(actual, budget float64) *float64 {
	if budget == 0 {
		return nil
	}
	d, _ := decimal.NewFromFloat(actual).Sub(decimal.NewFromFloat(budget)).
		Div(decimal.NewFromFloat(budget)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		Float64()
	return &d
}

// Severity classifies a deviation against threshold (percent).
func Severity(dev *float64, threshold float64) string {
	if dev != nil && math.Abs(*dev) >= threshold {
		return domain.SeverityHigh
	}
	return domain.SeverityLow
}

// ComputeDeviations compares every daily actual with its planned figure and
// upserts one trigger per (day, service, unit). Lifecycle status is never
// touched; the updated flag is raised only when a computed field changed.
// Records without a matching plan are reported as issues and skipped.
func ComputeDeviations(ctx context.Context, db *gorm.DB, s domain.Setting, opts DeviationOptions) (*DeviationResult, error) {
	res := &DeviationResult{SettingsVersion: s.Version, Issues: []Issue{}, Samples: []domain.Trigger{}}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actuals, err := loadActuals(tx, opts.Year)
		if err != nil {
			return err
		}
		plans, err := loadPlans(tx, opts)
		if err != nil {
			return err
		}
		existing, err := loadTriggers(tx, opts.Year)
		if err != nil {
			return err
		}

		computed := make([]domain.Trigger, 0, len(actuals))
		for _, a := range actuals {
			t, issue := evaluate(a, plans, s)
			if issue != nil {
				res.Issues = append(res.Issues, *issue)
				continue
			}
			head, err := repo.CurrentHead(ctx, tx, a.ServiceCode, a.UnitID, a.Date)
			if err != nil {
				return err
			}
			t.AssignedHeadID = head
			computed = append(computed, t)
		}
		markStreaks(computed, s, existing)

		for i := range computed {
			t := &computed[i]
			res.Processed++
			if t.Severity == domain.SeverityHigh {
				res.High++
			}
			cur, ok := existing[triggerKey(t.Day, t.ServiceCode, t.UnitID)]
			switch {
			case !ok:
				t.Status = domain.TriggerOpen
				t.Updated = true
				if err := tx.Create(t).Error; err != nil {
					return err
				}
				res.Created++
			case !cur.SameComputed(*t):
				t.ID, t.Status, t.Updated = cur.ID, cur.Status, true
				err := tx.Model(&domain.Trigger{ID: cur.ID}).
					Select("date", "budget", "actual", "deviation_pct", "severity", "threshold_used",
						"settings_version", "streak", "notify", "assigned_head_id", "due_at", "updated").
					Updates(t).Error
				if err != nil {
					return err
				}
				res.Changed++
			default:
				*t = cur
				res.Unchanged++
			}
			if t.Notify && (!ok || !cur.Notify) {
				res.Notify = append(res.Notify, *t)
			}
			if len(res.Samples) < maxSamples {
				res.Samples = append(res.Samples, *t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func triggerKey(day, code string, unit uint) string {
	return fmt.Sprintf("%s|%s|%d", day, code, unit)
}

func planKey(day, code string, unit *uint) string {
	return day + "|" + code + "|" + unitKey(unit)
}

func loadActuals(tx *gorm.DB, year int) ([]domain.OpsActualDaily, error) {
	q := tx.Order("service_code ASC, unit_id ASC, date_shamsi ASC")
	if year != 0 {
		q = q.Where("date_shamsi LIKE ?", yearPrefix(year)+"%")
	}
	var out []domain.OpsActualDaily
	return out, q.Find(&out).Error
}

func loadPlans(tx *gorm.DB, opts DeviationOptions) (map[string]domain.BudgetDaily, error) {
	q := tx.Model(&domain.BudgetDaily{}).
		Joins("JOIN budget_snapshots ON budget_snapshots.id = budget_daily.snapshot_id").
		Where("budget_snapshots.scenario = ?", opts.Scenario)
	if opts.Year != 0 {
		q = q.Where("budget_daily.date_shamsi LIKE ?", yearPrefix(opts.Year)+"%")
	}
	var rows []domain.BudgetDaily
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.BudgetDaily, len(rows))
	for _, b := range rows {
		out[planKey(b.Day, b.ServiceCode, b.UnitID)] = b
	}
	return out, nil
}

func loadTriggers(tx *gorm.DB, year int) (map[string]domain.Trigger, error) {
	q := tx.Model(&domain.Trigger{})
	if year != 0 {
		q = q.Where("date_shamsi LIKE ?", yearPrefix(year)+"%")
	}
	var rows []domain.Trigger
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.Trigger, len(rows))
	for _, t := range rows {
		out[triggerKey(t.Day, t.ServiceCode, t.UnitID)] = t
	}
	return out, nil
}

// evaluate builds the computed fields of one trigger. The plan of the unit
// wins over the service-wide plan; the actual's kind (qty before fin) picks
// the planned figure compared against.
func evaluate(a domain.OpsActualDaily, plans map[string]domain.BudgetDaily, s domain.Setting) (domain.Trigger, *Issue) {
	key := triggerKey(a.Day, a.ServiceCode, a.UnitID)
	actual, ok := a.Value()
	if !ok {
		return domain.Trigger{}, &Issue{Key: key, Message: "actual has neither qty nor fin"}
	}
	unit := a.UnitID
	plan, ok := plans[planKey(a.Day, a.ServiceCode, &unit)]
	if !ok {
		plan, ok = plans[planKey(a.Day, a.ServiceCode, nil)]
	}
	if !ok {
		return domain.Trigger{}, &Issue{Key: key, Message: "no daily budget for this day, service and unit"}
	}
	preferQty := a.ActualQty != nil
	budget, ok := plan.Value(preferQty)
	if !ok {
		kind := "fin"
		if preferQty {
			kind = "qty"
		}
		return domain.Trigger{}, &Issue{Key: key, Message: "daily budget has no " + kind + " figure"}
	}

	dev := Deviation(actual, budget)
	return domain.Trigger{
		Day:             a.Day,
		Date:            a.Date,
		ServiceCode:     a.ServiceCode,
		UnitID:          a.UnitID,
		Budget:          budget,
		Actual:          actual,
		DeviationPct:    dev,
		Severity:        Severity(dev, s.Threshold),
		ThresholdUsed:   s.Threshold,
		SettingsVersion: s.Version,
		DueAt:           a.Date.Add(time.Duration(s.DueHours) * time.Hour),
	}, nil
}

// markStreaks fills Streak and Notify. ts must be ordered by service, unit
// and day, which loadActuals guarantees. A stored trigger that already
// notified keeps its flag and starts the cooldown of its pair, so a streak
// that grows by one day per run notifies once.
func markStreaks(ts []domain.Trigger, s domain.Setting, stored map[string]domain.Trigger) {
	const day = 24 * time.Hour
	samePair := func(i int) bool {
		return i > 0 && ts[i-1].ServiceCode == ts[i].ServiceCode && ts[i-1].UnitID == ts[i].UnitID
	}
	for i := range ts {
		t := &ts[i]
		switch {
		case t.Severity != domain.SeverityHigh:
			t.Streak = 0
		case samePair(i) && ts[i-1].Severity == domain.SeverityHigh && ts[i-1].Date.Add(day).Equal(t.Date):
			t.Streak = ts[i-1].Streak + 1
		default:
			t.Streak = 1
		}
	}

	cooldown := time.Duration(s.CooldownDays) * day
	var lastNotify *time.Time
	for i := range ts {
		t := &ts[i]
		if !samePair(i) {
			lastNotify = nil
		}
		t.Notify = false
		if cur, ok := stored[triggerKey(t.Day, t.ServiceCode, t.UnitID)]; ok && cur.Notify {
			d := t.Date
			lastNotify = &d
			t.Notify = t.Streak > 0 && t.Streak >= s.ConsecutiveDays
			continue
		}
		// t heads its streak when the next day of the pair does not extend it.
		head := i+1 == len(ts) || !samePair(i+1) || ts[i+1].Streak <= 1
		if t.Streak == 0 || t.Streak < s.ConsecutiveDays || !head {
			continue
		}
		if lastNotify != nil && t.Date.Sub(*lastNotify) <= cooldown {
			continue
		}
		d := t.Date
		lastNotify = &d
		t.Notify = true
	}
}
