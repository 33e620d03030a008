// Package services – ComputeService
//
// This file implements ComputeService, which runs the budget distribution
// and the deviation engine, publishes notifiable triggers and drains the
// recompute queue that budget, calendar and seasonality commits fill.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/engine"
	"github.com/tbourn/perfmon-backend/internal/events"
	"github.com/tbourn/perfmon-backend/internal/observability"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

// RecomputeSummary reports one drain of the recompute queue.
type RecomputeSummary struct {
	Jobs       int                     `json:"jobs"`
	Failed     int                     `json:"failed"`
	Budgets    []*engine.DailyResult   `json:"budgets"`
	Deviations *engine.DeviationResult `json:"deviations,omitempty"`
}

// ComputeService runs engine passes. Runs are serialized in process; the
// database transaction of each pass serializes them across processes.
type ComputeService struct {
	DB       *gorm.DB
	Settings *SettingsService
	Events   events.Publisher

	// Year and Scenario select the plan triggers are compared against.
	Year     int
	Scenario string

	mu sync.Mutex
}

// NewComputeService constructs a ComputeService. A nil publisher drops events.
func NewComputeService(db *gorm.DB, settings *SettingsService, pub events.Publisher, year int, scenario string) *ComputeService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ComputeService{DB: db, Settings: settings, Events: pub, Year: year, Scenario: scenario}
}

// BudgetDaily rebuilds the daily plan of (year, scenario). Zero values use
// the configured year and scenario.
func (s *ComputeService) BudgetDaily(ctx context.Context, year int, scenario string) (*engine.DailyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budgetDaily(ctx, year, scenario)
}

func (s *ComputeService) budgetDaily(ctx context.Context, year int, scenario string) (*engine.DailyResult, error) {
	if year == 0 {
		year = s.Year
	}
	if scenario == "" {
		scenario = s.Scenario
	}
	tr := otel.Tracer("services/ComputeService")
	ctx, span := tr.Start(ctx, "BudgetDaily",
		trace.WithAttributes(attribute.Int("year", year), attribute.String("scenario", scenario)),
	)
	defer span.End()

	start := time.Now()
	res, err := engine.ComputeBudgetDaily(ctx, s.DB, year, scenario)
	observability.ObserveCompute(domain.RecomputeBudget, start)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	log.Info().
		Int("year", year).Str("scenario", scenario).
		Uint("snapshot_id", res.SnapshotID).
		Int("rows", res.Rows).Int("changed_pairs", len(res.Changed)).Int64("flagged", res.Flagged).
		Dur("took", time.Since(start)).
		Msg("budget daily computed")
	return res, nil
}

// Deviations recomputes every trigger of the configured year with the
// current settings and publishes the triggers that became notifiable.
func (s *ComputeService) Deviations(ctx context.Context) (*engine.DeviationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviations(ctx)
}

func (s *ComputeService) deviations(ctx context.Context) (*engine.DeviationResult, error) {
	tr := otel.Tracer("services/ComputeService")
	ctx, span := tr.Start(ctx, "Deviations",
		trace.WithAttributes(attribute.Int("year", s.Year), attribute.String("scenario", s.Scenario)),
	)
	defer span.End()

	settings, err := s.Settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := engine.ComputeDeviations(ctx, s.DB, settings, engine.DeviationOptions{Scenario: s.Scenario, Year: s.Year})
	observability.ObserveCompute(domain.RecomputeDeviations, start)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if len(res.Notify) > 0 {
		evs := make([]events.TriggerEvent, 0, len(res.Notify))
		for _, t := range res.Notify {
			evs = append(evs, events.FromTrigger(t))
		}
		// Triggers are already committed; a broker outage is logged and the
		// events are not retried.
		if err := s.Events.Publish(ctx, evs...); err != nil {
			log.Warn().Err(err).Int("events", len(evs)).Msg("publishing trigger events failed")
		} else {
			observability.ObserveNotified(len(evs))
		}
	}
	log.Info().
		Int("settings_version", res.SettingsVersion).
		Int("processed", res.Processed).Int("created", res.Created).Int("changed", res.Changed).
		Int("high", res.High).Int("issues", len(res.Issues)).Int("notify", len(res.Notify)).
		Dur("took", time.Since(start)).
		Msg("deviations computed")
	return res, nil
}

// Recompute drains the pending queue. Budget jobs are coalesced per
// (year, scenario); a single deviation pass follows whenever any job ran.
// Each job is finished with the error of the pass that served it.
func (s *ComputeService) Recompute(ctx context.Context) (*RecomputeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := repo.PendingRecomputeJobs(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	sum := &RecomputeSummary{Jobs: len(jobs), Budgets: []*engine.DailyResult{}}
	if len(jobs) == 0 {
		return sum, nil
	}

	pairs, byPair, err := s.budgetPairs(ctx, jobs)
	if err != nil {
		return nil, err
	}
	outcome := make(map[uint]error, len(jobs))
	for _, p := range pairs {
		res, err := s.budgetDaily(ctx, p.year, p.scenario)
		if errors.Is(err, engine.ErrNoSnapshot) && p.fromQueue {
			// Calendar or seasonality changed before any budget exists.
			err = nil
		}
		if err == nil && res != nil {
			sum.Budgets = append(sum.Budgets, res)
		}
		for _, id := range byPair[p] {
			outcome[id] = err
		}
	}

	dev, devErr := s.deviations(ctx)
	sum.Deviations = dev

	for _, j := range jobs {
		runErr := outcome[j.ID]
		if runErr == nil {
			runErr = devErr
		}
		if err := repo.FinishRecomputeJob(ctx, s.DB, j.ID, runErr); err != nil {
			return sum, err
		}
		status := domain.JobDone
		if runErr != nil {
			status = domain.JobFailed
			sum.Failed++
			log.Error().Err(runErr).Uint("job_id", j.ID).Str("kind", j.Kind).Msg("recompute job failed")
		}
		observability.ObserveRecomputeJob(status)
	}
	return sum, nil
}

type budgetPair struct {
	year     int
	scenario string
	// fromQueue marks pairs derived from a job without a snapshot.
	fromQueue bool
}

// budgetPairs resolves the (year, scenario) pairs the budget jobs need.
// A job bound to a snapshot recomputes that snapshot's pair; a job without
// one recomputes every published pair of the configured year.
func (s *ComputeService) budgetPairs(ctx context.Context, jobs []domain.RecomputeJob) ([]budgetPair, map[budgetPair][]uint, error) {
	byPair := map[budgetPair][]uint{}
	add := func(p budgetPair, id uint) { byPair[p] = append(byPair[p], id) }
	for _, j := range jobs {
		if j.Kind != domain.RecomputeBudget {
			continue
		}
		if j.SnapshotID != nil {
			snap, err := repo.GetByID[domain.BudgetSnapshot](ctx, s.DB, *j.SnapshotID)
			if err != nil {
				return nil, nil, fmt.Errorf("job %d: %w", j.ID, err)
			}
			add(budgetPair{year: snap.Year, scenario: snap.Scenario}, j.ID)
			continue
		}
		published, err := repo.PublishedSnapshots(ctx, s.DB, s.Year)
		if err != nil {
			return nil, nil, err
		}
		if len(published) == 0 {
			add(budgetPair{year: s.Year, scenario: s.Scenario, fromQueue: true}, j.ID)
		}
		for _, p := range published {
			add(budgetPair{year: p.Year, scenario: p.Scenario}, j.ID)
		}
	}
	pairs := make([]budgetPair, 0, len(byPair))
	for p := range byPair {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].year != pairs[j].year {
			return pairs[i].year < pairs[j].year
		}
		if pairs[i].scenario != pairs[j].scenario {
			return pairs[i].scenario < pairs[j].scenario
		}
		return !pairs[i].fromQueue && pairs[j].fromQueue
	})
	return pairs, byPair, nil
}

// Run drains the queue every interval until ctx is done.
func (s *ComputeService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	log.Info().Dur("interval", interval).Msg("recompute worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("recompute worker stopped")
			return nil
		case <-t.C:
			sum, err := s.Recompute(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("recompute drain failed")
				continue
			}
			if sum.Jobs > 0 {
				log.Info().Int("jobs", sum.Jobs).Int("failed", sum.Failed).Msg("recompute queue drained")
			}
		}
	}
}
