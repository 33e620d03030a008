package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/temporal"
)

func TestOrg_ManagementsAndUnits(t *testing.T) {
	db := newDB(t)
	s := NewOrgService(db, false)
	ctx := context.Background()

	if _, err := s.CreateManagement(ctx, "admin", "   "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	m, err := s.CreateManagement(ctx, "admin", " North ")
	if err != nil || m.Name != "North" {
		t.Fatalf("CreateManagement = %+v, %v", m, err)
	}
	if _, err := s.CreateManagement(ctx, "admin", "North"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.UpdateManagement(ctx, "admin", 999, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.CreateUnit(ctx, "admin", UnitInput{ManagementID: 42, Name: "U"}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	u, err := s.CreateUnit(ctx, "admin", UnitInput{ManagementID: m.ID, Name: "U1"})
	if err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	u2, err := s.UpdateUnit(ctx, "admin", u.ID, UnitInput{ManagementID: m.ID, Name: "U1b"})
	if err != nil || u2.Name != "U1b" || u2.ID != u.ID {
		t.Fatalf("UpdateUnit = %+v, %v", u2, err)
	}

	if err := s.DeleteManagement(ctx, "admin", m.ID); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if err := s.DeleteUnit(ctx, "admin", u.ID); err != nil {
		t.Fatalf("DeleteUnit: %v", err)
	}
	if _, err := s.GetUnit(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteManagement(ctx, "admin", m.ID); err != nil {
		t.Fatalf("DeleteManagement: %v", err)
	}

	logs, _ := repo.ListAudit(ctx, db, "", 100)
	// create mgmt, create unit, update unit, delete unit, delete mgmt
	if len(logs) != 5 {
		t.Fatalf("audit rows = %d; want 5", len(logs))
	}
}

func TestOrg_TenureOverlap(t *testing.T) {
	db := newDB(t)
	s := NewOrgService(db, false)
	s.Now = func() time.Time { return date(2025, 3, 1) }
	ctx := context.Background()
	_, unit, head := seedOrg(t, db)

	end := date(2025, 6, 30)
	first, err := s.CreateTenure(ctx, "admin", TenureInput{HeadID: head, UnitID: unit, ValidFrom: date(2025, 1, 1), ValidTo: &end})
	if err != nil {
		t.Fatalf("CreateTenure: %v", err)
	}
	if !first.IsCurrent {
		t.Fatalf("tenure containing today should be current")
	}

	// Closed intervals: starting on the previous end day overlaps.
	_, err = s.CreateTenure(ctx, "admin", TenureInput{HeadID: head, UnitID: unit, ValidFrom: end})
	var oc *temporal.OverlapConflict
	if !errors.As(err, &oc) || oc.ExistingID != first.ID {
		t.Fatalf("expected overlap with %d, got %v", first.ID, err)
	}
	if err.Error() != temporal.OverlapMessage {
		t.Fatalf("message = %q", err.Error())
	}

	second, err := s.CreateTenure(ctx, "admin", TenureInput{HeadID: head, UnitID: unit, ValidFrom: date(2025, 7, 1)})
	if err != nil {
		t.Fatalf("adjacent tenure: %v", err)
	}
	if second.IsCurrent {
		t.Fatalf("future tenure should not be current")
	}

	// Updating a record never conflicts with itself.
	if _, err := s.UpdateTenure(ctx, "admin", first.ID, TenureInput{HeadID: head, UnitID: unit, ValidFrom: date(2025, 1, 2), ValidTo: &end}); err != nil {
		t.Fatalf("self update: %v", err)
	}
	late := date(2025, 8, 1)
	if _, err := s.UpdateTenure(ctx, "admin", first.ID, TenureInput{HeadID: head, UnitID: unit, ValidFrom: date(2025, 1, 2), ValidTo: &late}); !errors.Is(err, temporal.ErrOverlapConflict) {
		t.Fatalf("expected overlap on update, got %v", err)
	}

	yes := true
	asserted, err := s.CreateTenure(ctx, "admin", TenureInput{HeadID: head, UnitID: unit, ValidFrom: date(2020, 1, 1), ValidTo: ptrTime(date(2020, 12, 31)), IsCurrent: &yes})
	if err != nil || !asserted.IsCurrent {
		t.Fatalf("asserted is_current = %+v, %v", asserted, err)
	}

	if _, err := s.CreateTenure(ctx, "admin", TenureInput{HeadID: head, UnitID: unit}); !errors.Is(err, ErrMissingStart) {
		t.Fatalf("expected ErrMissingStart, got %v", err)
	}
	before := date(2024, 1, 1)
	if _, err := s.CreateTenure(ctx, "admin", TenureInput{HeadID: head, UnitID: unit, ValidFrom: date(2024, 2, 1), ValidTo: &before}); !errors.Is(err, temporal.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := s.CreateTenure(ctx, "admin", TenureInput{HeadID: 999, UnitID: unit, ValidFrom: date(2030, 1, 1)}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}

	ts, err := s.ListTenures(ctx, &unit, nil)
	if err != nil || len(ts) != 3 {
		t.Fatalf("ListTenures = %d, %v", len(ts), err)
	}
}

func TestOrg_AssignmentScope(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	mgmt, unit, head := seedOrg(t, db)
	other := domain.Head{FullName: "Other"}
	mustCreate(t, db, &other)
	mustCreate(t, db, &domain.Service{Code: "S1", Name: "s", UOM: "case", IsActive: true})

	unscoped := NewOrgService(db, false)
	if _, err := unscoped.CreateAssignment(ctx, "admin", AssignmentInput{ServiceCode: "NOPE", UnitID: &unit, ValidFrom: date(2025, 1, 1)}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	a, err := unscoped.CreateAssignment(ctx, "admin", AssignmentInput{ServiceCode: " S1 ", UnitID: &unit, ManagementID: &mgmt, HeadID: &head, ValidFrom: date(2025, 1, 1)})
	if err != nil || a.ServiceCode != "S1" {
		t.Fatalf("CreateAssignment = %+v, %v", a, err)
	}
	in := AssignmentInput{ServiceCode: "S1", UnitID: &unit, ManagementID: &mgmt, HeadID: &other.ID, ValidFrom: date(2026, 1, 1)}
	if _, err := unscoped.CreateAssignment(ctx, "admin", in); !errors.Is(err, temporal.ErrOverlapConflict) {
		t.Fatalf("unscoped: expected overlap, got %v", err)
	}

	// With scoped keys a different head is a different subject.
	scoped := NewOrgService(db, true)
	if _, err := scoped.CreateAssignment(ctx, "admin", in); err != nil {
		t.Fatalf("scoped: %v", err)
	}
	as, _ := scoped.ListAssignments(ctx, "S1")
	if len(as) != 2 {
		t.Fatalf("assignments = %d", len(as))
	}
	if err := scoped.DeleteAssignment(ctx, "admin", a.ID); err != nil {
		t.Fatalf("DeleteAssignment: %v", err)
	}
	if err := scoped.DeleteAssignment(ctx, "admin", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
