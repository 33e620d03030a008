package importer

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// refs holds the foreign keys an upload may point at.
type refs struct {
	services map[string]bool
	units    map[uint]bool
}

func loadRefs(ctx context.Context, db *gorm.DB) (*refs, error) {
	var codes []string
	if err := db.WithContext(ctx).Model(&domain.Service{}).Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	var ids []uint
	if err := db.WithContext(ctx).Model(&domain.Unit{}).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	r := &refs{services: make(map[string]bool, len(codes)), units: make(map[uint]bool, len(ids))}
	for _, c := range codes {
		r.services[c] = true
	}
	for _, id := range ids {
		r.units[id] = true
	}
	return r, nil
}

// service reports an unknown, non-empty service code.
func (r *refs) service(code string) []string {
	if code == "" || r.services[code] {
		return nil
	}
	return []string{fmt.Sprintf("unknown service_code %q", code)}
}

// unit reports an unknown unit id.
func (r *refs) unit(id *uint) []string {
	if id == nil || r.units[*id] {
		return nil
	}
	return []string{fmt.Sprintf("unknown unit_id %d", *id)}
}

// oneOf requires at least one of two optional amounts.
func oneOf(a string, av *float64, b string, bv *float64) []string {
	if av == nil && bv == nil {
		return []string{fmt.Sprintf("%s or %s is required", a, b)}
	}
	return nil
}
