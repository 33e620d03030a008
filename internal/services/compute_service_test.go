package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

// seedPlanInputs writes the calendar of Farvardin 1404, a global
// seasonality row and a published snapshot planning 1000 units of S1.
func seedPlanInputs(t *testing.T, db *gorm.DB) *domain.BudgetSnapshot {
	t.Helper()
	mustCreate(t, db, &domain.Service{Code: "S1", Name: "Lab", UOM: "case", IsActive: true})
	for d := 1; d <= jalali.MonthLength(1404, 1); d++ {
		day := jalali.Date{Year: 1404, Month: 1, Day: d}
		w := 1.0
		if day.Weekday() == time.Friday {
			w = 0
		}
		mustCreate(t, db, &domain.CalendarDay{
			Day: day.String(), Date: day.Time(), JalaliMonth: 1,
			IsFriday: w == 0, WeightRaw: w,
		})
	}
	mustCreate(t, db, &domain.SeasonalityMonth{Month: 1, Actual1403: 1})
	qty := 1000.0
	snap := &domain.BudgetSnapshot{Year: 1404, Scenario: "base", Version: 1, Status: domain.SnapshotPublished}
	if err := repo.CreateSnapshot(context.Background(), db, snap); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	mustCreate(t, db, &domain.BudgetAnnual{SnapshotID: snap.ID, Year: 1404, Scenario: "base", ServiceCode: "S1", AnnualQty: &qty, Currency: "IRR"})
	return snap
}

func TestCompute_RecomputeDrainsQueue(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	_, unit, _ := seedOrg(t, db)
	snap := seedPlanInputs(t, db)

	// 1404-01-09 is a Saturday: full weight, actual far below plan.
	zero := 0.0
	d := jalali.MustParse("1404-01-09")
	mustCreate(t, db, &domain.OpsActualDaily{Day: d.String(), Date: d.Time(), ServiceCode: "S1", UnitID: unit, ActualQty: &zero})

	pub := &recordingPublisher{}
	s := NewComputeService(db, NewSettingsService(db, testDefaults), pub, 1404, "base")

	if _, err := repo.EnqueueRecompute(ctx, db, domain.RecomputeBudget, &snap.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.EnqueueRecompute(ctx, db, domain.RecomputeBudget, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.EnqueueRecompute(ctx, db, domain.RecomputeDeviations, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sum, err := s.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	// Both budget jobs resolve to the same pair and share one pass.
	if sum.Jobs != 3 || sum.Failed != 0 || len(sum.Budgets) != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Deviations == nil || sum.Deviations.Created != 1 || sum.Deviations.High != 1 {
		t.Fatalf("deviations = %+v", sum.Deviations)
	}
	if len(pub.events) != 1 || pub.events[0].ServiceCode != "S1" || pub.events[0].Day != "1404-01-09" {
		t.Fatalf("published = %+v", pub.events)
	}
	if pending, _ := repo.PendingRecomputeJobs(ctx, db); len(pending) != 0 {
		t.Fatalf("pending = %d", len(pending))
	}

	// An unchanged rerun notifies nobody again.
	if _, err := repo.EnqueueRecompute(ctx, db, domain.RecomputeDeviations, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if sum, err := s.Recompute(ctx); err != nil || sum.Jobs != 1 || sum.Deviations.Unchanged != 1 {
		t.Fatalf("rerun = %+v, %v", sum, err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events after rerun = %d", len(pub.events))
	}

	if sum, err := s.Recompute(ctx); err != nil || sum.Jobs != 0 || sum.Deviations != nil {
		t.Fatalf("empty queue = %+v, %v", sum, err)
	}
}

func TestCompute_FailedPassMarksJobs(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	snap := &domain.BudgetSnapshot{Year: 1404, Scenario: "base", Version: 1, Status: domain.SnapshotPublished}
	if err := repo.CreateSnapshot(ctx, db, snap); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	// No calendar: the budget pass fails, the deviation job still succeeds.
	budgetJob, _ := repo.EnqueueRecompute(ctx, db, domain.RecomputeBudget, &snap.ID)
	devJob, _ := repo.EnqueueRecompute(ctx, db, domain.RecomputeDeviations, nil)

	s := NewComputeService(db, NewSettingsService(db, testDefaults), nil, 1404, "base")
	sum, err := s.Recompute(ctx)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("failed = %d", sum.Failed)
	}
	var bj, dj domain.RecomputeJob
	db.First(&bj, budgetJob.ID)
	db.First(&dj, devJob.ID)
	if bj.Status != domain.JobFailed || bj.Error == "" || dj.Status != domain.JobDone {
		t.Fatalf("jobs = %+v / %+v", bj, dj)
	}
}

func TestCompute_QueueWithoutBudgetIsNotAnError(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	// Calendar committed before any budget exists.
	if _, err := repo.EnqueueRecompute(ctx, db, domain.RecomputeBudget, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s := NewComputeService(db, NewSettingsService(db, testDefaults), nil, 1404, "base")
	sum, err := s.Recompute(ctx)
	if err != nil || sum.Failed != 0 || len(sum.Budgets) != 0 {
		t.Fatalf("summary = %+v, %v", sum, err)
	}
}

func TestCompute_PublishFailureIsNotFatal(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	_, unit, _ := seedOrg(t, db)
	seedPlanInputs(t, db)
	zero := 0.0
	d := jalali.MustParse("1404-01-09")
	mustCreate(t, db, &domain.OpsActualDaily{Day: d.String(), Date: d.Time(), ServiceCode: "S1", UnitID: unit, ActualQty: &zero})

	s := NewComputeService(db, NewSettingsService(db, testDefaults), &recordingPublisher{err: errors.New("broker down")}, 1404, "base")
	if _, err := s.BudgetDaily(ctx, 0, ""); err != nil {
		t.Fatalf("BudgetDaily: %v", err)
	}
	res, err := s.Deviations(ctx)
	if err != nil || len(res.Notify) != 1 {
		t.Fatalf("Deviations = %+v, %v", res, err)
	}
}

func TestCompute_RunStopsOnCancel(t *testing.T) {
	db := newDB(t)
	s := NewComputeService(db, NewSettingsService(db, testDefaults), nil, 1404, "base")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
