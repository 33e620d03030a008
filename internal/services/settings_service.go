package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/config"
	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

// SettingsInput is a requested settings version.
type SettingsInput struct {
	Threshold       float64 `json:"threshold"`
	ConsecutiveDays int     `json:"consecutive_days"`
	CooldownDays    int     `json:"cooldown_days"`
	DueHours        int     `json:"due_hours"`
}

func (in SettingsInput) validate() error {
	switch {
	case in.Threshold <= 0 || in.Threshold > 1000:
		return fmt.Errorf("%w: threshold must be in (0, 1000]", ErrInvalidSettings)
	case in.ConsecutiveDays < 1 || in.ConsecutiveDays > 366:
		return fmt.Errorf("%w: consecutive_days must be in [1, 366]", ErrInvalidSettings)
	case in.CooldownDays < 0 || in.CooldownDays > 366:
		return fmt.Errorf("%w: cooldown_days must be in [0, 366]", ErrInvalidSettings)
	case in.DueHours < 1 || in.DueHours > 24*31:
		return fmt.Errorf("%w: due_hours must be in [1, 744]", ErrInvalidSettings)
	}
	return nil
}

// SettingsService serves the versioned engine settings. The latest version
// is cached in process and replaced on every write through the service.
type SettingsService struct {
	DB       *gorm.DB
	Defaults config.EngineDefaults

	mu     sync.RWMutex
	cached *domain.Setting
}

// NewSettingsService constructs a SettingsService. Defaults seed version 1
// the first time settings are read from an empty store.
func NewSettingsService(db *gorm.DB, defaults config.EngineDefaults) *SettingsService {
	return &SettingsService{DB: db, Defaults: defaults}
}

// Current returns the highest settings version.
func (s *SettingsService) Current(ctx context.Context) (domain.Setting, error) {
	s.mu.RLock()
	if s.cached != nil {
		v := *s.cached
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached, nil
	}
	cur, err := repo.LatestSetting(ctx, s.DB)
	if errors.Is(err, repo.ErrNotFound) {
		cur, err = repo.AppendSetting(ctx, s.DB, domain.Setting{
			Threshold:       s.Defaults.Threshold,
			ConsecutiveDays: s.Defaults.ConsecutiveDays,
			CooldownDays:    s.Defaults.CooldownDays,
			DueHours:        s.Defaults.DueHours,
			UpdatedBy:       "system",
		})
		if errors.Is(err, repo.ErrDuplicate) {
			cur, err = repo.LatestSetting(ctx, s.DB)
		}
	}
	if err != nil {
		return domain.Setting{}, err
	}
	s.cached = cur
	return *cur, nil
}

// Update appends a new settings version and audits it. Engine runs started
// afterwards use the new version; existing triggers keep the version they
// were computed with until the next recompute.
func (s *SettingsService) Update(ctx context.Context, actor string, in SettingsInput) (*domain.Setting, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *domain.Setting
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := repo.AppendSetting(ctx, tx, domain.Setting{
			Threshold:       in.Threshold,
			ConsecutiveDays: in.ConsecutiveDays,
			CooldownDays:    in.CooldownDays,
			DueHours:        in.DueHours,
			UpdatedBy:       actor,
		})
		if err != nil {
			return err
		}
		out = v
		return repo.WriteAudit(ctx, tx, actor, repo.AuditEntry{
			Entity: "settings", EntityID: fmt.Sprint(v.Version), Action: domain.ActionCreate, Payload: v,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.mu.Lock()
	s.cached = out
	s.mu.Unlock()
	log.Info().Int("version", out.Version).Float64("threshold", out.Threshold).Str("actor", actor).Msg("settings updated")
	return out, nil
}

// Invalidate drops the cached version so the next read goes to the store.
func (s *SettingsService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
