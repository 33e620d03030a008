package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

func TestSnapshots_PublishArchiveAndVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v, err := NextSnapshotVersion(ctx, db, 1404, "base")
	if err != nil || v != 1 {
		t.Fatalf("first version = %d, %v", v, err)
	}
	if _, err := PublishedSnapshot(ctx, db, 1404, "base"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s1 := &domain.BudgetSnapshot{Year: 1404, Scenario: "base", Version: 1, Status: domain.SnapshotPublished, CreatedAt: time.Now()}
	if err := CreateSnapshot(ctx, db, s1); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	dup := &domain.BudgetSnapshot{Year: 1404, Scenario: "base", Version: 2, Status: domain.SnapshotPublished, CreatedAt: time.Now()}
	if err := CreateSnapshot(ctx, db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if err := ArchiveSnapshot(ctx, db, s1.ID); err != nil {
		t.Fatalf("ArchiveSnapshot: %v", err)
	}
	// A second archive sees the snapshot already moved on.
	if err := ArchiveSnapshot(ctx, db, s1.ID); !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}

	s2 := &domain.BudgetSnapshot{Year: 1404, Scenario: "base", Version: 2, Status: domain.SnapshotPublished, PrevSnapshotID: &s1.ID, CreatedAt: time.Now()}
	if err := CreateSnapshot(ctx, db, s2); err != nil {
		t.Fatalf("CreateSnapshot after archive: %v", err)
	}
	if v, _ := NextSnapshotVersion(ctx, db, 1404, "base"); v != 3 {
		t.Fatalf("next version = %d", v)
	}
	pub, err := PublishedSnapshot(ctx, db, 1404, "base")
	if err != nil || pub.ID != s2.ID {
		t.Fatalf("published = %+v, %v", pub, err)
	}
	list, _ := PublishedSnapshots(ctx, db, 1404)
	if len(list) != 1 {
		t.Fatalf("published list = %d", len(list))
	}
	all, _ := ListSnapshots(ctx, db)
	if len(all) != 2 {
		t.Fatalf("all snapshots = %d", len(all))
	}

	q := 5.0
	db.Create(&domain.BudgetAnnual{SnapshotID: s2.ID, Year: 1404, Scenario: "base", ServiceCode: "S2", AnnualQty: &q, Currency: "IRR"})
	db.Create(&domain.BudgetAnnual{SnapshotID: s2.ID, Year: 1404, Scenario: "base", ServiceCode: "S1", AnnualQty: &q, Currency: "IRR"})
	lines, err := SnapshotLines(ctx, db, s2.ID)
	if err != nil || len(lines) != 2 || lines[0].ServiceCode != "S1" {
		t.Fatalf("lines = %+v, %v", lines, err)
	}
}

func TestRecomputeQueue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := EnqueueRecompute(ctx, db, domain.RecomputeBudget, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	b, _ := EnqueueRecompute(ctx, db, domain.RecomputeDeviations, nil)

	pending, err := PendingRecomputeJobs(ctx, db)
	if err != nil || len(pending) != 2 || pending[0].ID != a.ID {
		t.Fatalf("pending = %+v, %v", pending, err)
	}

	if err := FinishRecomputeJob(ctx, db, a.ID, nil); err != nil {
		t.Fatalf("finish ok: %v", err)
	}
	if err := FinishRecomputeJob(ctx, db, b.ID, errors.New("no calendar")); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if pending, _ := PendingRecomputeJobs(ctx, db); len(pending) != 0 {
		t.Fatalf("queue should be drained, got %d", len(pending))
	}

	var jb domain.RecomputeJob
	db.First(&jb, b.ID)
	if jb.Status != domain.JobFailed || jb.Error != "no calendar" || jb.FinishedAt == nil {
		t.Fatalf("failed job = %+v", jb)
	}
}

func TestSettings_AppendVersions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := LatestSetting(ctx, db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s1, err := AppendSetting(ctx, db, domain.Setting{Threshold: 10, ConsecutiveDays: 2, CooldownDays: 5, DueHours: 24, Version: 42})
	if err != nil || s1.Version != 1 {
		t.Fatalf("first append = %+v, %v", s1, err)
	}
	s2, err := AppendSetting(ctx, db, domain.Setting{Threshold: 15, ConsecutiveDays: 3, CooldownDays: 5, DueHours: 48})
	if err != nil || s2.Version != 2 {
		t.Fatalf("second append = %+v, %v", s2, err)
	}
	latest, err := LatestSetting(ctx, db)
	if err != nil || latest.Threshold != 15 || latest.Version != 2 {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
}

func TestAudit_WriteAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := WriteAudit(ctx, db, "alice",
		AuditEntry{Entity: "unit", EntityID: "1", Action: domain.ActionCreate, Payload: map[string]any{"name": "U1"}},
		AuditEntry{Entity: "unit", EntityID: "1", Action: domain.ActionUpdate},
		AuditEntry{Entity: "head", EntityID: "3", Action: domain.ActionDelete},
	)
	if err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	logs, err := ListAudit(ctx, db, "unit", 10)
	if err != nil || len(logs) != 2 {
		t.Fatalf("ListAudit = %d, %v", len(logs), err)
	}
	if logs[0].Actor != "alice" || logs[0].ID == "" {
		t.Fatalf("audit row = %+v", logs[0])
	}
}
