package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

// seedMonth writes the calendar of one month of 1404 with Friday and
// Thursday weights.
func seedMonth(t *testing.T, db *gorm.DB, month int) {
	t.Helper()
	for d := 1; d <= jalali.MonthLength(1404, month); d++ {
		day := jalali.Date{Year: 1404, Month: month, Day: d}
		wd := day.Weekday()
		w := 1.0
		switch wd {
		case time.Friday:
			w = 0
		case time.Thursday:
			w = 0.5
		}
		mustCreate(t, db, &domain.CalendarDay{
			Day: day.String(), Date: day.Time(), JalaliMonth: month,
			IsFriday: wd == time.Friday, IsThursday: wd == time.Thursday, WeightRaw: w,
		})
	}
}

func seedSnapshot(t *testing.T, db *gorm.DB, qty float64) *domain.BudgetSnapshot {
	t.Helper()
	ctx := context.Background()
	var prev *uint
	if cur, err := repo.PublishedSnapshot(ctx, db, 1404, "base"); err == nil {
		if err := repo.ArchiveSnapshot(ctx, db, cur.ID); err != nil {
			t.Fatalf("archive: %v", err)
		}
		prev = &cur.ID
	}
	v, _ := repo.NextSnapshotVersion(ctx, db, 1404, "base")
	s := &domain.BudgetSnapshot{Year: 1404, Scenario: "base", Version: v, Status: domain.SnapshotPublished, PrevSnapshotID: prev}
	if err := repo.CreateSnapshot(ctx, db, s); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	mustCreate(t, db, &domain.BudgetAnnual{SnapshotID: s.ID, Year: 1404, Scenario: "base", ServiceCode: "S1", AnnualQty: &qty, Currency: "IRR"})
	return s
}

func TestSpread_SumsExactlyToTotal(t *testing.T) {
	third := decimal.NewFromInt(1).Div(decimal.NewFromInt(3))
	total := decimal.NewFromInt(100)
	got := spread(total, []decimal.Decimal{third, third, third})
	want := []string{"33.34", "33.33", "33.33"}
	for i, w := range want {
		if got[i].StringFixed(2) != w {
			t.Fatalf("share %d = %s; want %s", i, got[i].StringFixed(2), w)
		}
	}

	half := decimal.NewFromFloat(0.5)
	got = spread(total, []decimal.Decimal{half, decimal.Zero, half})
	if !got[1].IsZero() {
		t.Fatalf("zero-weight day got %s", got[1])
	}
	if (&dayPlan{}).split("S1", nil) != nil {
		t.Fatalf("nil total should give nil")
	}
}

func TestComputeBudgetDaily_SpreadsOverWorkingDays(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	mustCreate(t, db, &domain.Service{Code: "S1", Name: "s", UOM: "case", IsActive: true})
	seedMonth(t, db, 1)
	seedMonth(t, db, 2)
	// Global seasonality: month 2 weighs three times month 1.
	mustCreate(t, db, &domain.SeasonalityMonth{Month: 1, Actual1403: 1})
	mustCreate(t, db, &domain.SeasonalityMonth{Month: 2, Actual1403: 3})
	seedSnapshot(t, db, 1000)

	res, err := ComputeBudgetDaily(ctx, db, 1404, "base")
	if err != nil {
		t.Fatalf("ComputeBudgetDaily: %v", err)
	}
	if res.Rows != 62 || len(res.Changed) != 1 {
		t.Fatalf("result = %+v", res)
	}

	var rows []domain.BudgetDaily
	if err := db.Order("date_shamsi").Find(&rows).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	sum, month1 := decimal.Zero, decimal.Zero
	for _, r := range rows {
		v := decimal.NewFromFloat(*r.BudgetQty)
		sum = sum.Add(v)
		if jalali.MustParse(r.Day).Month == 1 {
			month1 = month1.Add(v)
		}
		if jalali.MustParse(r.Day).Weekday() == time.Friday && !v.IsZero() {
			t.Fatalf("friday %s got %s", r.Day, v)
		}
	}
	if !sum.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("daily rows sum to %s; want 1000", sum)
	}
	if !month1.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("month 1 total = %s; want 250", month1)
	}

	// Same inputs: no pair changes.
	res, err = ComputeBudgetDaily(ctx, db, 1404, "base")
	if err != nil || len(res.Changed) != 0 {
		t.Fatalf("rerun changed = %+v err=%v", res, err)
	}
}

func TestComputeBudgetDaily_FlagsTriggersOfChangedPlans(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	mustCreate(t, db, &domain.Service{Code: "S1", Name: "s", UOM: "case", IsActive: true})
	mustCreate(t, db, &domain.Management{Name: "M"})
	mustCreate(t, db, &domain.Unit{ManagementID: 1, Name: "U"})
	seedMonth(t, db, 1)
	seedSnapshot(t, db, 310)
	if _, err := ComputeBudgetDaily(ctx, db, 1404, "base"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	day := jalali.MustParse("1404/01/08")
	mustCreate(t, db, &domain.Trigger{Day: day.String(), Date: day.Time(), ServiceCode: "S1", UnitID: 1, Severity: domain.SeverityLow, Status: domain.TriggerOpen})

	seedSnapshot(t, db, 620)
	res, err := ComputeBudgetDaily(ctx, db, 1404, "base")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Flagged != 1 {
		t.Fatalf("flagged = %d; want 1", res.Flagged)
	}
	var n int64
	db.Model(&domain.BudgetDaily{}).Count(&n)
	if n != 31 {
		t.Fatalf("daily rows = %d; want 31 after replace", n)
	}
}

func TestComputeBudgetDaily_NoSnapshot(t *testing.T) {
	db := newDB(t)
	if _, err := ComputeBudgetDaily(context.Background(), db, 1404, "base"); err == nil {
		t.Fatalf("expected ErrNoSnapshot")
	}
}

func TestDeviationAndSeverity(t *testing.T) {
	d := Deviation(80, 100)
	if d == nil || *d != -20 {
		t.Fatalf("Deviation(80,100) = %v", d)
	}
	if Severity(d, 10) != domain.SeverityHigh || Severity(d, 20.01) != domain.SeverityLow {
		t.Fatalf("severity mismatch for %v", *d)
	}
	if Deviation(5, 0) != nil || Severity(nil, 0) != domain.SeverityLow {
		t.Fatalf("zero budget must be undefined and Low")
	}
	if d := Deviation(1, 3); *d != -66.67 {
		t.Fatalf("Deviation(1,3) = %v; want -66.67", *d)
	}
}

func seedPlan(t *testing.T, db *gorm.DB, snap uint, day string, unit *uint, qty float64) {
	t.Helper()
	d := jalali.MustParse(day)
	mustCreate(t, db, &domain.BudgetDaily{Day: d.String(), Date: d.Time(), ServiceCode: "S1", UnitID: unit, SnapshotID: snap, BudgetQty: &qty})
}

func seedActual(t *testing.T, db *gorm.DB, day string, qty float64) {
	t.Helper()
	d := jalali.MustParse(day)
	mustCreate(t, db, &domain.OpsActualDaily{Day: d.String(), Date: d.Time(), ServiceCode: "S1", UnitID: 1, ActualQty: &qty})
}

func TestComputeDeviations_UpsertsDeterministically(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	mustCreate(t, db, &domain.Service{Code: "S1", Name: "s", UOM: "case", IsActive: true})
	mustCreate(t, db, &domain.Management{Name: "M"})
	mustCreate(t, db, &domain.Unit{ManagementID: 1, Name: "U"})
	mustCreate(t, db, &domain.Head{FullName: "H"})
	from := jalali.MustParse("1404/01/01").Time()
	mustCreate(t, db, &domain.HeadTenure{HeadID: 1, UnitID: 1, ValidFrom: from})
	snap := seedSnapshot(t, db, 1)

	unit := uint(1)
	seedPlan(t, db, snap.ID, "1404/01/08", &unit, 100)
	seedPlan(t, db, snap.ID, "1404/01/09", nil, 100) // service-wide plan
	seedPlan(t, db, snap.ID, "1404/01/10", &unit, 0)
	seedActual(t, db, "1404/01/08", 80)
	seedActual(t, db, "1404/01/09", 95)
	seedActual(t, db, "1404/01/10", 7)
	seedActual(t, db, "1404/01/11", 10) // no plan

	s := domain.Setting{Version: 1, Threshold: 10, ConsecutiveDays: 2, CooldownDays: 5, DueHours: 24}
	opts := DeviationOptions{Scenario: "base"}
	res, err := ComputeDeviations(ctx, db, s, opts)
	if err != nil {
		t.Fatalf("ComputeDeviations: %v", err)
	}
	if res.Created != 3 || res.High != 1 || len(res.Issues) != 1 || res.Issues[0].Key != "1404-01-11|S1|1" {
		t.Fatalf("result = %+v", res)
	}

	var high domain.Trigger
	if err := db.First(&high, "date_shamsi = ?", "1404-01-08").Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if high.Severity != domain.SeverityHigh || *high.DeviationPct != -20 || !high.Updated || high.Status != domain.TriggerOpen {
		t.Fatalf("high trigger = %+v", high)
	}
	if high.AssignedHeadID == nil || *high.AssignedHeadID != 1 {
		t.Fatalf("assigned head = %v; want 1", high.AssignedHeadID)
	}
	if want := jalali.MustParse("1404/01/08").Time().Add(24 * time.Hour); !high.DueAt.Equal(want) {
		t.Fatalf("due_at = %v; want %v", high.DueAt, want)
	}
	var zero domain.Trigger
	if err := db.First(&zero, "date_shamsi = ?", "1404-01-10").Error; err != nil || zero.DeviationPct != nil || zero.Severity != domain.SeverityLow {
		t.Fatalf("zero-budget trigger = %+v err=%v", zero, err)
	}

	// Reading clears the flag; an identical rerun leaves it cleared.
	if err := repo.MarkTriggerSeen(ctx, db, high.ID); err != nil {
		t.Fatalf("MarkTriggerSeen: %v", err)
	}
	if ok, err := repo.TransitionTrigger(ctx, db, high.ID, domain.TriggerOpen, domain.TriggerResponded); err != nil || !ok {
		t.Fatalf("TransitionTrigger: ok=%v err=%v", ok, err)
	}
	res, err = ComputeDeviations(ctx, db, s, opts)
	if err != nil || res.Unchanged != 3 || res.Changed != 0 {
		t.Fatalf("rerun = %+v err=%v", res, err)
	}
	var again domain.Trigger
	db.First(&again, high.ID)
	if again.Updated || again.Status != domain.TriggerResponded || !again.SameComputed(high) {
		t.Fatalf("rerun touched trigger: %+v", again)
	}

	// New settings recompute fields but keep the lifecycle status.
	s2 := s
	s2.Version, s2.Threshold = 2, 25
	if _, err := ComputeDeviations(ctx, db, s2, opts); err != nil {
		t.Fatalf("ComputeDeviations v2: %v", err)
	}
	db.First(&again, high.ID)
	if !again.Updated || again.Severity != domain.SeverityLow || again.Status != domain.TriggerResponded || again.SettingsVersion != 2 {
		t.Fatalf("after settings change: %+v", again)
	}
}

func TestMarkStreaks_HeadAndCooldown(t *testing.T) {
	mk := func(day string, sev string) domain.Trigger {
		d := jalali.MustParse(day)
		return domain.Trigger{Day: d.String(), Date: d.Time(), ServiceCode: "S1", UnitID: 1, Severity: sev}
	}
	H, L := domain.SeverityHigh, domain.SeverityLow
	build := func() []domain.Trigger {
		return []domain.Trigger{
			mk("1404/01/01", H), mk("1404/01/02", H), mk("1404/01/03", H),
			mk("1404/01/04", L), mk("1404/01/05", H), mk("1404/01/06", H),
		}
	}

	ts := build()
	markStreaks(ts, domain.Setting{ConsecutiveDays: 2, CooldownDays: 5}, nil)
	wantStreak := []int{1, 2, 3, 0, 1, 2}
	wantNotify := []bool{false, false, true, false, false, false}
	for i := range ts {
		if ts[i].Streak != wantStreak[i] || ts[i].Notify != wantNotify[i] {
			t.Fatalf("%s: streak=%d notify=%v; want %d %v", ts[i].Day, ts[i].Streak, ts[i].Notify, wantStreak[i], wantNotify[i])
		}
	}

	ts = build()
	markStreaks(ts, domain.Setting{ConsecutiveDays: 2, CooldownDays: 2}, nil)
	if !ts[2].Notify || !ts[5].Notify {
		t.Fatalf("with short cooldown both streak heads notify: %+v", ts)
	}
}

func TestComputeDeviations_DailyRunsNotifyOncePerCooldown(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	mustCreate(t, db, &domain.Service{Code: "S1", Name: "s", UOM: "case", IsActive: true})
	mustCreate(t, db, &domain.Management{Name: "M"})
	mustCreate(t, db, &domain.Unit{ManagementID: 1, Name: "U"})
	snap := seedSnapshot(t, db, 1)

	unit := uint(1)
	days := []string{"1404/01/08", "1404/01/09", "1404/01/10", "1404/01/11", "1404/01/12"}
	for _, d := range days {
		seedPlan(t, db, snap.ID, d, &unit, 100)
	}

	s := domain.Setting{Version: 1, Threshold: 10, ConsecutiveDays: 2, CooldownDays: 5, DueHours: 24}
	notified := 0
	for _, d := range days {
		seedActual(t, db, d, 50)
		res, err := ComputeDeviations(ctx, db, s, DeviationOptions{Scenario: "base"})
		if err != nil {
			t.Fatalf("ComputeDeviations after %s: %v", d, err)
		}
		notified += len(res.Notify)
	}
	if notified != 1 {
		t.Fatalf("notify events = %d; want 1", notified)
	}

	var flagged []domain.Trigger
	if err := db.Where("notify = ?", true).Find(&flagged).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Day != "1404-01-09" {
		t.Fatalf("notified triggers = %+v; want only 1404-01-09", flagged)
	}
}

func TestSplit_EachMonthKeepsItsOwnTotal(t *testing.T) {
	var days []domain.CalendarDay
	for m := 1; m <= 3; m++ {
		for d := 1; d <= 3; d++ {
			day := jalali.Date{Year: 1404, Month: m, Day: d}
			days = append(days, domain.CalendarDay{Day: day.String(), Date: day.Time(), JalaliMonth: m, WeightRaw: 1})
		}
	}
	plan := newDayPlan(days, nil)
	total := 100.0
	got := plan.split("S1", &total)

	// 100 over three months is 33.34, 33.33, 33.33; each month then splits
	// its own cents over three days.
	want := []string{
		"11.12", "11.11", "11.11",
		"11.11", "11.11", "11.11",
		"11.11", "11.11", "11.11",
	}
	for i, w := range want {
		if got[i].StringFixed(2) != w {
			t.Fatalf("day %s = %s; want %s", days[i].Day, got[i].StringFixed(2), w)
		}
	}
}
