package temporal

import (
	"context"
	"errors"
	"fmt"
)

// OverlapMessage is the user-facing text returned on every overlap rejection.
// Clients match on it, so it must not change.
const OverlapMessage = "بازه زمانی با رکورد موجود هم‌پوشانی دارد."

// ErrOverlapConflict matches any *OverlapConflict via errors.Is.
var ErrOverlapConflict = errors.New("overlap conflict")

// OverlapConflict describes a rejected create/update.
type OverlapConflict struct {
	Key        SubjectKey
	ExistingID uint
}

func (e *OverlapConflict) Error() string { return OverlapMessage }

// Is lets errors.Is(err, ErrOverlapConflict) succeed.
func (e *OverlapConflict) Is(target error) bool { return target == ErrOverlapConflict }

// Kind names the assignment family a subject key belongs to.
type Kind string

const (
	KindTenure            Kind = "tenure"
	KindServiceAssignment Kind = "service-assignment"
)

// SubjectKey identifies the entity pair whose history must not overlap.
//
// Tenure keys use HeadID and UnitID. Service-assignment keys use ServiceCode
// and UnitID, plus ManagementID and HeadID when Scoped is set.
type SubjectKey struct {
	Kind         Kind
	ServiceCode  string
	UnitID       *uint
	HeadID       *uint
	ManagementID *uint
	Scoped       bool
}

func (k SubjectKey) String() string {
	switch k.Kind {
	case KindTenure:
		return fmt.Sprintf("tenure(head=%s,unit=%s)", uintStr(k.HeadID), uintStr(k.UnitID))
	default:
		if k.Scoped {
			return fmt.Sprintf("assignment(service=%s,unit=%s,management=%s,head=%s)",
				k.ServiceCode, uintStr(k.UnitID), uintStr(k.ManagementID), uintStr(k.HeadID))
		}
		return fmt.Sprintf("assignment(service=%s,unit=%s)", k.ServiceCode, uintStr(k.UnitID))
	}
}

// TenureKey builds the subject key of a head tenure.
func TenureKey(headID, unitID uint) SubjectKey {
	return SubjectKey{Kind: KindTenure, HeadID: &headID, UnitID: &unitID}
}

// AssignmentKey builds the subject key of a service assignment. When scoped is
// false the management and head are ignored.
func AssignmentKey(serviceCode string, unitID, managementID, headID *uint, scoped bool) SubjectKey {
	k := SubjectKey{Kind: KindServiceAssignment, ServiceCode: serviceCode, UnitID: unitID, Scoped: scoped}
	if scoped {
		k.ManagementID = managementID
		k.HeadID = headID
	}
	return k
}

// Source loads the stored history of one subject. Implementations bound to a
// transaction let the check and the write see the same snapshot.
type Source interface {
	Intervals(ctx context.Context, key SubjectKey) ([]Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, key SubjectKey) ([]Record, error)

func (f SourceFunc) Intervals(ctx context.Context, key SubjectKey) ([]Record, error) {
	return f(ctx, key)
}

// Validator guards assignment writes. It never mutates the store.
type Validator struct {
	Source Source
}

// ValidateCreate rejects iv if it overlaps any stored interval of key.
func (v Validator) ValidateCreate(ctx context.Context, key SubjectKey, iv Interval) error {
	return v.check(ctx, 0, key, iv)
}

// ValidateUpdate is ValidateCreate with record id excluded from the comparison.
func (v Validator) ValidateUpdate(ctx context.Context, id uint, key SubjectKey, iv Interval) error {
	return v.check(ctx, id, key, iv)
}

func (v Validator) check(ctx context.Context, exclude uint, key SubjectKey, iv Interval) error {
	if iv.To != nil && iv.To.Before(iv.From) {
		return ErrInvalidInterval
	}
	existing, err := v.Source.Intervals(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if r, found := FirstOverlap(iv, existing, exclude); found {
		return &OverlapConflict{Key: key, ExistingID: r.ID}
	}
	return nil
}

func uintStr(p *uint) string {
	if p == nil {
		return "*"
	}
	return fmt.Sprint(*p)
}
