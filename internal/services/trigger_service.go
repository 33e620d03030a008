// Package services – TriggerService
//
// This file implements the read side of triggers (paginated listing, the
// two-phase detail read, impacted triggers of a budget revision) and the
// lifecycle transitions open → reminded → responded → closed.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/snapshot"
)

// transitions lists the allowed status changes.
var transitions = map[string]map[string]bool{
	domain.TriggerOpen:      {domain.TriggerReminded: true, domain.TriggerResponded: true, domain.TriggerClosed: true},
	domain.TriggerReminded:  {domain.TriggerResponded: true},
	domain.TriggerResponded: {domain.TriggerClosed: true},
}

// CanTransition reports whether a trigger may move from one status to another.
func CanTransition(from, to string) bool { return transitions[from][to] }

// TriggerService exposes triggers to the HTTP layer.
type TriggerService struct {
	DB        *gorm.DB
	Snapshots *snapshot.Service
}

// NewTriggerService constructs a TriggerService.
func NewTriggerService(db *gorm.DB) *TriggerService {
	return &TriggerService{DB: db, Snapshots: snapshot.NewService(db)}
}

// ListPage returns a page of triggers with names joined, newest day first.
func (s *TriggerService) ListPage(ctx context.Context, f repo.TriggerFilter, page, pageSize int) ([]repo.TriggerView, int64, error) {
	tr := otel.Tracer("services/TriggerService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("status", f.Status),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountTriggers(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []repo.TriggerView{}, 0, nil
	}
	items, err := repo.ListTriggerViews(ctx, s.DB, f, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns the count and latest update of the triggers matching f, used
// to build list ETags.
func (s *TriggerService) Stats(ctx context.Context, f repo.TriggerFilter) (int64, *time.Time, error) {
	return repo.TriggersStats(ctx, s.DB, f)
}

// Get returns the trigger as the caller has not seen it yet, then clears its
// updated flag. Read and clear share one transaction, so a recompute that
// lands in between is either seen by this read or keeps its flag for the
// next one.
func (s *TriggerService) Get(ctx context.Context, id uint) (*repo.TriggerView, error) {
	var v *repo.TriggerView
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if v, err = repo.GetTriggerView(ctx, tx, id); err != nil {
			return err
		}
		if !v.Updated {
			return nil
		}
		return repo.MarkTriggerSeen(ctx, tx, id)
	})
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

// Transition moves trigger id to status to. It returns ErrInvalidTransition
// when the change is not allowed from the current status, including when a
// concurrent writer changed the status first.
func (s *TriggerService) Transition(ctx context.Context, actor string, id uint, to string) (*domain.Trigger, error) {
	var out *domain.Trigger
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetByID[domain.Trigger](ctx, tx, id)
		if err != nil {
			return err
		}
		from := t.Status
		if err := transition(ctx, tx, t, to); err != nil {
			return err
		}
		out = t
		return repo.WriteAudit(ctx, tx, actor, repo.AuditEntry{
			Entity: "trigger", EntityID: idString(id), Action: domain.ActionUpdate,
			Payload: map[string]string{"from": from, "to": to},
		})
	})
	if err != nil {
		return nil, translate(err)
	}
	log.Info().Uint("trigger_id", id).Str("status", to).Str("actor", actor).Msg("trigger transitioned")
	return out, nil
}

// transition applies a guarded status change to t.
func transition(ctx context.Context, tx *gorm.DB, t *domain.Trigger, to string) error {
	if !CanTransition(t.Status, to) {
		return ErrInvalidTransition
	}
	ok, err := repo.TransitionTrigger(ctx, tx, t.ID, t.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	t.Status = to
	return nil
}

// Impacted returns the triggers of services a snapshot added or changed.
func (s *TriggerService) Impacted(ctx context.Context, snapshotID uint) ([]domain.Trigger, *snapshot.Result, error) {
	ts, res, err := s.Snapshots.ImpactedTriggers(ctx, snapshotID)
	if err != nil {
		return nil, nil, translate(err)
	}
	return ts, res, nil
}

// ListSnapshots lists every budget snapshot newest first.
func (s *TriggerService) ListSnapshots(ctx context.Context) ([]domain.BudgetSnapshot, error) {
	return repo.ListSnapshots(ctx, s.DB)
}

// Diff compares two stored snapshots.
func (s *TriggerService) Diff(ctx context.Context, from *uint, to uint) (*snapshot.Result, error) {
	res, err := s.Snapshots.Diff(ctx, from, to)
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}
