// Package services – OrgService
//
// This file implements OrgService, which owns the organizational structure:
// managements, units, heads and the dated head tenures and service
// assignments that link them. Every write runs in one transaction together
// with its audit row. Tenure and assignment writes are guarded by the
// temporal validator reading through the same transaction, so a concurrent
// writer cannot slip an overlapping interval between check and insert.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/temporal"
)

// UnitInput is the writable part of a unit.
type UnitInput struct {
	ManagementID uint
	Name         string
}

// HeadInput is the writable part of a head.
type HeadInput struct {
	FullName string
	Phone    string
}

// TenureInput is the writable part of a head tenure. IsCurrent nil derives
// the flag from today's date.
type TenureInput struct {
	HeadID    uint
	UnitID    uint
	ValidFrom time.Time
	ValidTo   *time.Time
	IsCurrent *bool
}

// AssignmentInput is the writable part of a service assignment.
type AssignmentInput struct {
	ServiceCode  string
	UnitID       *uint
	ManagementID *uint
	HeadID       *uint
	ValidFrom    time.Time
	ValidTo      *time.Time
	IsCurrent    *bool
}

// OrgService manages the organizational structure.
type OrgService struct {
	DB *gorm.DB
	// ScopedAssignments adds management and head to the overlap key of
	// service assignments.
	ScopedAssignments bool
	// Now is the clock used to derive is_current. Defaults to time.Now.
	Now func() time.Time
}

// NewOrgService constructs an OrgService.
func NewOrgService(db *gorm.DB, scopedAssignments bool) *OrgService {
	return &OrgService{DB: db, ScopedAssignments: scopedAssignments, Now: time.Now}
}

// ---- managements ----

func (s *OrgService) ListManagements(ctx context.Context) ([]domain.Management, error) {
	return repo.ListAll[domain.Management](ctx, s.DB)
}

func (s *OrgService) GetManagement(ctx context.Context, id uint) (*domain.Management, error) {
	return get[domain.Management](ctx, s.DB, id)
}

// CreateManagement inserts a management with a unique name.
func (s *OrgService) CreateManagement(ctx context.Context, actor, name string) (*domain.Management, error) {
	return s.saveManagement(ctx, actor, 0, name)
}

// UpdateManagement renames a management.
func (s *OrgService) UpdateManagement(ctx context.Context, actor string, id uint, name string) (*domain.Management, error) {
	return s.saveManagement(ctx, actor, id, name)
}

func (s *OrgService) DeleteManagement(ctx context.Context, actor string, id uint) error {
	return remove[domain.Management](ctx, s.DB, actor, "management", id)
}

func (s *OrgService) saveManagement(ctx context.Context, actor string, id uint, name string) (*domain.Management, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	var out domain.Management
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := load[domain.Management](ctx, tx, id)
		if err != nil {
			return err
		}
		out = domain.Management{ID: id, Name: name}
		if before != nil {
			out.CreatedAt = before.CreatedAt
		}
		if err := repo.Save(ctx, tx, &out); err != nil {
			return err
		}
		return audit(ctx, tx, actor, "management", out.ID, before, out)
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// ---- units ----

func (s *OrgService) ListUnits(ctx context.Context, managementID *uint) ([]domain.Unit, error) {
	return repo.ListUnits(ctx, s.DB, managementID)
}

func (s *OrgService) GetUnit(ctx context.Context, id uint) (*domain.Unit, error) {
	return get[domain.Unit](ctx, s.DB, id)
}

func (s *OrgService) CreateUnit(ctx context.Context, actor string, in UnitInput) (*domain.Unit, error) {
	return s.saveUnit(ctx, actor, 0, in)
}

func (s *OrgService) UpdateUnit(ctx context.Context, actor string, id uint, in UnitInput) (*domain.Unit, error) {
	return s.saveUnit(ctx, actor, id, in)
}

func (s *OrgService) DeleteUnit(ctx context.Context, actor string, id uint) error {
	return remove[domain.Unit](ctx, s.DB, actor, "unit", id)
}

func (s *OrgService) saveUnit(ctx context.Context, actor string, id uint, in UnitInput) (*domain.Unit, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, ErrEmptyName
	}
	var out domain.Unit
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := load[domain.Unit](ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mustExist[domain.Management](ctx, tx, in.ManagementID); err != nil {
			return err
		}
		out = domain.Unit{ID: id, ManagementID: in.ManagementID, Name: in.Name}
		if before != nil {
			out.CreatedAt = before.CreatedAt
		}
		if err := repo.Save(ctx, tx, &out); err != nil {
			return err
		}
		return audit(ctx, tx, actor, "unit", out.ID, before, out)
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// ---- heads ----

func (s *OrgService) ListHeads(ctx context.Context) ([]domain.Head, error) {
	return repo.ListAll[domain.Head](ctx, s.DB)
}

func (s *OrgService) GetHead(ctx context.Context, id uint) (*domain.Head, error) {
	return get[domain.Head](ctx, s.DB, id)
}

func (s *OrgService) CreateHead(ctx context.Context, actor string, in HeadInput) (*domain.Head, error) {
	return s.saveHead(ctx, actor, 0, in)
}

func (s *OrgService) UpdateHead(ctx context.Context, actor string, id uint, in HeadInput) (*domain.Head, error) {
	return s.saveHead(ctx, actor, id, in)
}

func (s *OrgService) DeleteHead(ctx context.Context, actor string, id uint) error {
	return remove[domain.Head](ctx, s.DB, actor, "head", id)
}

func (s *OrgService) saveHead(ctx context.Context, actor string, id uint, in HeadInput) (*domain.Head, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return nil, ErrEmptyName
	}
	var out domain.Head
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := load[domain.Head](ctx, tx, id)
		if err != nil {
			return err
		}
		out = domain.Head{ID: id, FullName: in.FullName, Phone: strings.TrimSpace(in.Phone)}
		if before != nil {
			out.CreatedAt = before.CreatedAt
		}
		if err := repo.Save(ctx, tx, &out); err != nil {
			return err
		}
		return audit(ctx, tx, actor, "head", out.ID, before, out)
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// ---- tenures ----

func (s *OrgService) ListTenures(ctx context.Context, unitID, headID *uint) ([]domain.HeadTenure, error) {
	return repo.ListTenures(ctx, s.DB, unitID, headID)
}

func (s *OrgService) GetTenure(ctx context.Context, id uint) (*domain.HeadTenure, error) {
	return get[domain.HeadTenure](ctx, s.DB, id)
}

// CreateTenure inserts a tenure after checking that it does not overlap
// another tenure of the same (head, unit). A conflict returns
// *temporal.OverlapConflict.
func (s *OrgService) CreateTenure(ctx context.Context, actor string, in TenureInput) (*domain.HeadTenure, error) {
	return s.saveTenure(ctx, actor, 0, in)
}

// UpdateTenure rewrites tenure id; the record itself is excluded from the
// overlap check.
func (s *OrgService) UpdateTenure(ctx context.Context, actor string, id uint, in TenureInput) (*domain.HeadTenure, error) {
	return s.saveTenure(ctx, actor, id, in)
}

func (s *OrgService) DeleteTenure(ctx context.Context, actor string, id uint) error {
	return remove[domain.HeadTenure](ctx, s.DB, actor, "head_tenure", id)
}

func (s *OrgService) saveTenure(ctx context.Context, actor string, id uint, in TenureInput) (*domain.HeadTenure, error) {
	tr := otel.Tracer("services/OrgService")
	ctx, span := tr.Start(ctx, "saveTenure",
		trace.WithAttributes(
			attribute.Int64("tenure.id", int64(id)),
			attribute.Int64("head.id", int64(in.HeadID)),
			attribute.Int64("unit.id", int64(in.UnitID)),
		),
	)
	defer span.End()

	iv, err := s.interval(in.ValidFrom, in.ValidTo)
	if err != nil {
		return nil, err
	}
	var out domain.HeadTenure
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := load[domain.HeadTenure](ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mustExist[domain.Head](ctx, tx, in.HeadID); err != nil {
			return err
		}
		if err := mustExist[domain.Unit](ctx, tx, in.UnitID); err != nil {
			return err
		}
		if err := guard(ctx, tx, id, temporal.TenureKey(in.HeadID, in.UnitID), iv); err != nil {
			return err
		}
		out = domain.HeadTenure{
			ID:        id,
			HeadID:    in.HeadID,
			UnitID:    in.UnitID,
			ValidFrom: iv.From,
			ValidTo:   iv.To,
			IsCurrent: s.current(in.IsCurrent, iv),
		}
		if before != nil {
			out.CreatedAt = before.CreatedAt
		}
		if err := repo.Save(ctx, tx, &out); err != nil {
			return err
		}
		return audit(ctx, tx, actor, "head_tenure", out.ID, before, out)
	})
	if err != nil {
		span.RecordError(err)
		return nil, translate(err)
	}
	return &out, nil
}

// ---- service assignments ----

func (s *OrgService) ListAssignments(ctx context.Context, serviceCode string) ([]domain.ServiceAssignment, error) {
	return repo.ListAssignments(ctx, s.DB, strings.TrimSpace(serviceCode))
}

func (s *OrgService) GetAssignment(ctx context.Context, id uint) (*domain.ServiceAssignment, error) {
	return get[domain.ServiceAssignment](ctx, s.DB, id)
}

// CreateAssignment inserts a service assignment guarded by the overlap
// validator. The overlap key is (service, unit), widened with management
// and head when ScopedAssignments is set.
func (s *OrgService) CreateAssignment(ctx context.Context, actor string, in AssignmentInput) (*domain.ServiceAssignment, error) {
	return s.saveAssignment(ctx, actor, 0, in)
}

func (s *OrgService) UpdateAssignment(ctx context.Context, actor string, id uint, in AssignmentInput) (*domain.ServiceAssignment, error) {
	return s.saveAssignment(ctx, actor, id, in)
}

func (s *OrgService) DeleteAssignment(ctx context.Context, actor string, id uint) error {
	return remove[domain.ServiceAssignment](ctx, s.DB, actor, "service_assignment", id)
}

func (s *OrgService) saveAssignment(ctx context.Context, actor string, id uint, in AssignmentInput) (*domain.ServiceAssignment, error) {
	tr := otel.Tracer("services/OrgService")
	ctx, span := tr.Start(ctx, "saveAssignment",
		trace.WithAttributes(
			attribute.Int64("assignment.id", int64(id)),
			attribute.String("service.code", in.ServiceCode),
			attribute.Bool("scoped", s.ScopedAssignments),
		),
	)
	defer span.End()

	in.ServiceCode = strings.TrimSpace(in.ServiceCode)
	if in.ServiceCode == "" {
		return nil, ErrInvalidReference
	}
	iv, err := s.interval(in.ValidFrom, in.ValidTo)
	if err != nil {
		return nil, err
	}
	var out domain.ServiceAssignment
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := load[domain.ServiceAssignment](ctx, tx, id)
		if err != nil {
			return err
		}
		if err := serviceExists(ctx, tx, in.ServiceCode); err != nil {
			return err
		}
		for _, ref := range []struct {
			id    *uint
			check func(context.Context, *gorm.DB, uint) error
		}{
			{in.UnitID, mustExist[domain.Unit]},
			{in.ManagementID, mustExist[domain.Management]},
			{in.HeadID, mustExist[domain.Head]},
		} {
			if ref.id != nil {
				if err := ref.check(ctx, tx, *ref.id); err != nil {
					return err
				}
			}
		}
		key := temporal.AssignmentKey(in.ServiceCode, in.UnitID, in.ManagementID, in.HeadID, s.ScopedAssignments)
		if err := guard(ctx, tx, id, key, iv); err != nil {
			return err
		}
		out = domain.ServiceAssignment{
			ID:           id,
			ServiceCode:  in.ServiceCode,
			UnitID:       in.UnitID,
			ManagementID: in.ManagementID,
			HeadID:       in.HeadID,
			ValidFrom:    iv.From,
			ValidTo:      iv.To,
			IsCurrent:    s.current(in.IsCurrent, iv),
		}
		if before != nil {
			out.CreatedAt = before.CreatedAt
		}
		if err := repo.Save(ctx, tx, &out); err != nil {
			return err
		}
		return audit(ctx, tx, actor, "service_assignment", out.ID, before, out)
	})
	if err != nil {
		span.RecordError(err)
		return nil, translate(err)
	}
	return &out, nil
}

// ---- helpers ----

func (s *OrgService) interval(from time.Time, to *time.Time) (temporal.Interval, error) {
	if from.IsZero() {
		return temporal.Interval{}, ErrMissingStart
	}
	return temporal.NewInterval(from, to)
}

// current returns the asserted flag, or whether iv contains today.
func (s *OrgService) current(asserted *bool, iv temporal.Interval) bool {
	if asserted != nil {
		return *asserted
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return iv.Contains(now())
}

// guard runs the overlap validator against the history visible to tx.
func guard(ctx context.Context, tx *gorm.DB, id uint, key temporal.SubjectKey, iv temporal.Interval) error {
	v := temporal.Validator{Source: repo.AssignmentSource{DB: tx}}
	if id == 0 {
		return v.ValidateCreate(ctx, key, iv)
	}
	return v.ValidateUpdate(ctx, id, key, iv)
}

func get[T any](ctx context.Context, db *gorm.DB, id uint) (*T, error) {
	v, err := repo.GetByID[T](ctx, db, id)
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

// load returns the current row for an update, or nil for a create.
func load[T any](ctx context.Context, tx *gorm.DB, id uint) (*T, error) {
	if id == 0 {
		return nil, nil
	}
	return repo.GetByID[T](ctx, tx, id)
}

func mustExist[T any](ctx context.Context, tx *gorm.DB, id uint) error {
	var n int64
	if err := tx.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidReference
	}
	return nil
}

func serviceExists(ctx context.Context, tx *gorm.DB, code string) error {
	var n int64
	if err := tx.WithContext(ctx).Model(&domain.Service{}).Where("code = ?", code).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidReference
	}
	return nil
}

func remove[T any](ctx context.Context, db *gorm.DB, actor, entity string, id uint) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := repo.GetByID[T](ctx, tx, id)
		if err != nil {
			return err
		}
		if err := repo.DeleteByID[T](ctx, tx, id); err != nil {
			return err
		}
		return repo.WriteAudit(ctx, tx, actor, repo.AuditEntry{
			Entity: entity, EntityID: idString(id), Action: domain.ActionDelete, Payload: before,
		})
	})
	return translate(err)
}

// audit records a create (before nil) or an update with both versions.
func audit[T any](ctx context.Context, tx *gorm.DB, actor, entity string, id uint, before *T, after T) error {
	e := repo.AuditEntry{Entity: entity, EntityID: idString(id), Action: domain.ActionCreate, Payload: after}
	if before != nil {
		e.Action = domain.ActionUpdate
		e.Payload = map[string]any{"before": before, "after": after}
	}
	return repo.WriteAudit(ctx, tx, actor, e)
}

// translate maps repository errors onto service errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return ErrNotFound
	case errors.Is(err, repo.ErrInUse):
		return ErrInUse
	case errors.Is(err, repo.ErrDuplicate), isDuplicate(err):
		return ErrDuplicate
	}
	return err
}

func idString(id uint) string { return strconv.FormatUint(uint64(id), 10) }

// isNotFound treats repo-level not found sentinels as "not found" in a
// driver-agnostic way.
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
