package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// LatestSetting returns the highest settings version, or ErrNotFound when no
// version was ever written.
func LatestSetting(ctx context.Context, db *gorm.DB) (*domain.Setting, error) {
	var s domain.Setting
	if err := db.WithContext(ctx).Order("version DESC").First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// AppendSetting stores s as the next version and returns it. Two writers
// racing for the same version make one of them fail with ErrDuplicate.
func AppendSetting(ctx context.Context, db *gorm.DB, s domain.Setting) (*domain.Setting, error) {
	prev, err := LatestSetting(ctx, db)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.Version = 1
	case err != nil:
		return nil, err
	default:
		s.Version = prev.Version + 1
	}
	s.ID = 0
	if err := db.WithContext(ctx).Create(&s).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &s, nil
}
