// Package snapshot compares budget snapshots and finds the triggers a budget
// revision affects.
package snapshot

import (
	"context"
	"sort"
	"strconv"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

// Line is the comparable content of one budget line.
type Line struct {
	ServiceCode string   `json:"service_code"`
	UnitID      *uint    `json:"unit_id"`
	AnnualQty   *float64 `json:"annual_qty"`
	AnnualFin   *float64 `json:"annual_fin"`
	Currency    string   `json:"currency"`
}

// Key identifies a line within a snapshot.
func (l Line) Key() string {
	if l.UnitID == nil {
		return l.ServiceCode
	}
	return l.ServiceCode + "/" + strconv.FormatUint(uint64(*l.UnitID), 10)
}

func (l Line) sameFigures(o Line) bool {
	return eq(l.AnnualQty, o.AnnualQty) && eq(l.AnnualFin, o.AnnualFin) && l.Currency == o.Currency
}

// Change pairs the two versions of a line whose figures differ.
type Change struct {
	Key  string `json:"key"`
	From Line   `json:"from"`
	To   Line   `json:"to"`
}

// Result is the outcome of a diff, each list sorted by key.
type Result struct {
	From    *uint    `json:"from"`
	To      uint     `json:"to"`
	Added   []Line   `json:"added"`
	Removed []Line   `json:"removed"`
	Changed []Change `json:"changed"`
}

// Diff compares two line sets. It is anti-symmetric: Diff(a, b).Added equals
// Diff(b, a).Removed.
func Diff(from, to []Line) Result {
	before := index(from)
	after := index(to)
	res := Result{Added: []Line{}, Removed: []Line{}, Changed: []Change{}}
	for _, k := range sortedKeys(after) {
		l := after[k]
		prev, ok := before[k]
		switch {
		case !ok:
			res.Added = append(res.Added, l)
		case !prev.sameFigures(l):
			res.Changed = append(res.Changed, Change{Key: k, From: prev, To: l})
		}
	}
	for _, k := range sortedKeys(before) {
		if _, ok := after[k]; !ok {
			res.Removed = append(res.Removed, before[k])
		}
	}
	return res
}

// LinesOf converts stored budget lines.
func LinesOf(rows []domain.BudgetAnnual) []Line {
	out := make([]Line, 0, len(rows))
	for _, r := range rows {
		out = append(out, Line{
			ServiceCode: r.ServiceCode,
			UnitID:      r.UnitID,
			AnnualQty:   r.AnnualQty,
			AnnualFin:   r.AnnualFin,
			Currency:    r.Currency,
		})
	}
	return out
}

// Service runs diffs against the store.
type Service struct {
	DB *gorm.DB
}

// NewService returns a Service bound to db.
func NewService(db *gorm.DB) *Service { return &Service{DB: db} }

// Diff compares two stored snapshots. A nil from compares against nothing.
func (s *Service) Diff(ctx context.Context, from *uint, to uint) (*Result, error) {
	if _, err := repo.GetByID[domain.BudgetSnapshot](ctx, s.DB, to); err != nil {
		return nil, err
	}
	toLines, err := repo.SnapshotLines(ctx, s.DB, to)
	if err != nil {
		return nil, err
	}
	var fromLines []domain.BudgetAnnual
	if from != nil {
		if _, err := repo.GetByID[domain.BudgetSnapshot](ctx, s.DB, *from); err != nil {
			return nil, err
		}
		if fromLines, err = repo.SnapshotLines(ctx, s.DB, *from); err != nil {
			return nil, err
		}
	}
	res := Diff(LinesOf(fromLines), LinesOf(toLines))
	res.From, res.To = from, to
	return &res, nil
}

// ImpactedTriggers returns the triggers of every service added or changed by
// snapshotID relative to the snapshot it replaced. Without a predecessor all
// of its lines count as added.
func (s *Service) ImpactedTriggers(ctx context.Context, snapshotID uint) ([]domain.Trigger, *Result, error) {
	snap, err := repo.GetByID[domain.BudgetSnapshot](ctx, s.DB, snapshotID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Diff(ctx, snap.PrevSnapshotID, snapshotID)
	if err != nil {
		return nil, nil, err
	}
	codes := map[string]bool{}
	for _, l := range res.Added {
		codes[l.ServiceCode] = true
	}
	for _, c := range res.Changed {
		codes[c.To.ServiceCode] = true
	}
	list := make([]string, 0, len(codes))
	for c := range codes {
		list = append(list, c)
	}
	sort.Strings(list)
	ts, err := repo.TriggersByServices(ctx, s.DB, list)
	if err != nil {
		return nil, nil, err
	}
	return ts, res, nil
}

func index(lines []Line) map[string]Line {
	m := make(map[string]Line, len(lines))
	for _, l := range lines {
		m[l.Key()] = l
	}
	return m
}

func sortedKeys(m map[string]Line) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func eq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
