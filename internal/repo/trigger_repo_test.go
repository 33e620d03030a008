package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func pct(v float64) *float64 { return &v }

func TestTriggerViews_NamesAndFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mg := domain.Management{Name: "North"}
	db.Create(&mg)
	un := domain.Unit{ManagementID: mg.ID, Name: "Branch 7"}
	db.Create(&un)
	hd := domain.Head{FullName: "Sara Karimi"}
	db.Create(&hd)
	db.Create(&domain.Service{Code: "S1", Name: "Lab tests", UOM: "count", IsActive: true})

	high := seedTrigger(t, db, domain.Trigger{
		Day: "1404-01-08", Date: day(2025, 3, 28), ServiceCode: "S1", UnitID: un.ID,
		Severity: domain.SeverityHigh, DeviationPct: pct(-40), AssignedHeadID: &hd.ID, Updated: true,
	})
	seedTrigger(t, db, domain.Trigger{Day: "1404-01-09", Date: day(2025, 3, 29), ServiceCode: "S1", UnitID: un.ID, DeviationPct: pct(5)})
	seedTrigger(t, db, domain.Trigger{Day: "1404-01-09", Date: day(2025, 3, 29), ServiceCode: "S9", UnitID: 99, DeviationPct: pct(12)})

	v, err := GetTriggerView(ctx, db, high.ID)
	if err != nil {
		t.Fatalf("GetTriggerView: %v", err)
	}
	if v.ServiceName != "Lab tests" || v.UnitName != "Branch 7" || v.ManagementName != "North" || v.HeadName != "Sara Karimi" {
		t.Fatalf("names = %+v", v)
	}
	if _, err := GetTriggerView(ctx, db, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Unknown references still list, with empty names.
	all, err := ListTriggerViews(ctx, db, TriggerFilter{}, 0, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all = %d, %v", len(all), err)
	}
	if all[0].Day != "1404-01-09" {
		t.Fatalf("expected newest day first, got %s", all[0].Day)
	}

	n, err := CountTriggers(ctx, db, TriggerFilter{UnitID: &un.ID, UpdatedOnly: true})
	if err != nil || n != 1 {
		t.Fatalf("count updated = %d, %v", n, err)
	}
	from, to := day(2025, 3, 29), day(2025, 3, 29)
	page, err := ListTriggerViews(ctx, db, TriggerFilter{ServiceCode: "S1", From: &from, To: &to}, 0, 10)
	if err != nil || len(page) != 1 || page[0].Day != "1404-01-09" {
		t.Fatalf("date filter = %+v, %v", page, err)
	}

	top, err := TopDeviations(ctx, db, day(2025, 3, 1), day(2025, 4, 1), 2)
	if err != nil || len(top) != 2 || top[0].ID != high.ID || *top[1].DeviationPct != 12 {
		t.Fatalf("top = %+v, %v", top, err)
	}
}

func TestMarkSeenAndTransition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tr := seedTrigger(t, db, domain.Trigger{Day: "1404-01-08", ServiceCode: "S1", UnitID: 1, Updated: true})

	if err := MarkTriggerSeen(ctx, db, tr.ID); err != nil {
		t.Fatalf("MarkTriggerSeen: %v", err)
	}
	var got domain.Trigger
	db.First(&got, tr.ID)
	if got.Updated {
		t.Fatalf("updated flag not cleared")
	}
	if err := MarkTriggerSeen(ctx, db, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ok, err := TransitionTrigger(ctx, db, tr.ID, domain.TriggerOpen, domain.TriggerReminded)
	if err != nil || !ok {
		t.Fatalf("first transition = %v, %v", ok, err)
	}
	// The trigger is no longer open, so the guarded update matches nothing.
	ok, err = TransitionTrigger(ctx, db, tr.ID, domain.TriggerOpen, domain.TriggerClosed)
	if err != nil || ok {
		t.Fatalf("stale transition = %v, %v", ok, err)
	}
}

func TestFlagTriggersUpdated_AndByServices(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTrigger(t, db, domain.Trigger{Day: "1404-01-01", ServiceCode: "S1", UnitID: 1})
	seedTrigger(t, db, domain.Trigger{Day: "1404-01-01", ServiceCode: "S1", UnitID: 2})
	seedTrigger(t, db, domain.Trigger{Day: "1404-01-01", ServiceCode: "S2", UnitID: 1})

	unit := uint(2)
	n, err := FlagTriggersUpdated(ctx, db, []ServiceUnit{{ServiceCode: "S1", UnitID: &unit}, {ServiceCode: "S2"}})
	if err != nil || n != 2 {
		t.Fatalf("flagged = %d, %v", n, err)
	}
	c, _ := CountTriggers(ctx, db, TriggerFilter{UpdatedOnly: true})
	if c != 2 {
		t.Fatalf("updated count = %d", c)
	}

	ts, err := TriggersByServices(ctx, db, []string{"S1"})
	if err != nil || len(ts) != 2 || ts[0].UnitID != 1 {
		t.Fatalf("by services = %+v, %v", ts, err)
	}
	if ts, err := TriggersByServices(ctx, db, nil); err != nil || ts == nil || len(ts) != 0 {
		t.Fatalf("empty codes should give an empty non-nil slice")
	}
}

func TestResponses_CreateAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := seedTrigger(t, db, domain.Trigger{Day: "1404-01-01", ServiceCode: "S1", UnitID: 1})
	b := seedTrigger(t, db, domain.Trigger{Day: "1404-01-02", ServiceCode: "S1", UnitID: 1})

	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []uint{a.ID, b.ID, a.ID} {
		r := &domain.Response{TriggerID: id, FreeText: "note", SubmittedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := CreateResponse(ctx, db, r); err != nil {
			t.Fatalf("CreateResponse: %v", err)
		}
	}
	all, err := ListResponses(ctx, db, nil)
	if err != nil || len(all) != 3 || !all[0].SubmittedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("all = %+v, %v", all, err)
	}
	forA, _ := ListResponses(ctx, db, &a.ID)
	if len(forA) != 2 {
		t.Fatalf("responses of a = %d", len(forA))
	}
	// Responses hang off an existing trigger.
	if err := CreateResponse(ctx, db, &domain.Response{TriggerID: 777, FreeText: "x", SubmittedAt: base}); err == nil {
		t.Fatalf("expected foreign key error")
	}
}
