// Package services – ResponseService
//
// This file implements ResponseService, which records a head's written
// answer to a trigger, moves the trigger to responded, and keeps the
// in-memory search index over responses current.
package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/search"
)

// ActionInput is one follow-up action of a response.
type ActionInput struct {
	Text    string `json:"text"`
	Owner   string `json:"owner"`
	DueDate string `json:"due_date"`
}

// ResponseInput is a submitted response.
type ResponseInput struct {
	FreeText  string        `json:"free_text"`
	SampleRef string        `json:"sample_ref"`
	Actions   []ActionInput `json:"actions"`
}

// ResponseService coordinates response persistence and retrieval.
type ResponseService struct {
	DB    *gorm.DB
	Index search.Index

	MaxRunes   int
	MaxActions int
}

// NewResponseService constructs a ResponseService with the default limits of
// 1000 runes and 3 actions.
func NewResponseService(db *gorm.DB, idx search.Index) *ResponseService {
	return &ResponseService{DB: db, Index: idx, MaxRunes: 1000, MaxActions: 3}
}

// Submit stores a response on triggerID and moves the trigger to responded.
// A trigger that is already responded accepts further responses; a closed
// one does not.
func (s *ResponseService) Submit(ctx context.Context, actor string, triggerID uint, in ResponseInput) (*domain.Response, error) {
	tr := otel.Tracer("services/ResponseService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.Int64("trigger.id", int64(triggerID)),
			attribute.Int("actions", len(in.Actions)),
		),
	)
	defer span.End()

	actions, err := s.normalize(&in)
	if err != nil {
		return nil, err
	}

	var out domain.Response
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := repo.GetByID[domain.Trigger](ctx, tx, triggerID)
		if err != nil {
			return err
		}
		if t.Status != domain.TriggerResponded {
			if err := transition(ctx, tx, t, domain.TriggerResponded); err != nil {
				return err
			}
		}
		out = domain.Response{
			TriggerID:   triggerID,
			FreeText:    in.FreeText,
			SampleRef:   in.SampleRef,
			Actions:     actions,
			SubmittedBy: actor,
			SubmittedAt: time.Now().UTC(),
		}
		if err := repo.CreateResponse(ctx, tx, &out); err != nil {
			return err
		}
		return repo.WriteAudit(ctx, tx, actor, repo.AuditEntry{
			Entity: "response", EntityID: idString(out.ID), Action: domain.ActionCreate, Payload: out,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, translate(err)
	}

	if s.Index != nil {
		s.Index.Add(out.ID, search.ResponseText(out))
	}
	log.Info().Uint("trigger_id", triggerID).Uint("response_id", out.ID).Str("actor", actor).Msg("response submitted")
	return &out, nil
}

// List returns responses newest first, optionally for one trigger.
func (s *ResponseService) List(ctx context.Context, triggerID *uint) ([]domain.Response, error) {
	return repo.ListResponses(ctx, s.DB, triggerID)
}

// Search ranks stored responses against q.
func (s *ResponseService) Search(q string, k int) []search.Result {
	if s.Index == nil {
		return nil
	}
	res := s.Index.TopK(q, k)
	if res == nil {
		return []search.Result{}
	}
	return res
}

// LoadIndex indexes every stored response. It is called once at startup.
func (s *ResponseService) LoadIndex(ctx context.Context) (int, error) {
	if s.Index == nil {
		return 0, nil
	}
	rs, err := repo.ListResponses(ctx, s.DB, nil)
	if err != nil {
		return 0, err
	}
	search.Rebuild(s.Index, rs)
	return s.Index.Len(), nil
}

func (s *ResponseService) normalize(in *ResponseInput) (datatypes.JSON, error) {
	in.FreeText = strings.TrimSpace(in.FreeText)
	in.SampleRef = strings.TrimSpace(in.SampleRef)
	if in.FreeText == "" {
		return nil, ErrEmptyResponse
	}
	if s.MaxRunes > 0 && utf8.RuneCountInString(in.FreeText) > s.MaxRunes {
		return nil, ErrResponseTooLong
	}
	if s.MaxActions > 0 && len(in.Actions) > s.MaxActions {
		return nil, ErrTooManyActions
	}
	actions := make([]ActionInput, 0, len(in.Actions))
	for _, a := range in.Actions {
		a.Text = strings.TrimSpace(a.Text)
		a.Owner = strings.TrimSpace(a.Owner)
		if a.Text == "" {
			return nil, ErrInvalidAction
		}
		if strings.TrimSpace(a.DueDate) != "" {
			d, err := jalali.Parse(a.DueDate)
			if err != nil {
				return nil, ErrInvalidAction
			}
			a.DueDate = d.String()
		}
		actions = append(actions, a)
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
