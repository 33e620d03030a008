package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

type budgetRow struct {
	Year        int      `col:"year"         validate:"required,gte=1300,lte=1500"`
	Scenario    string   `col:"scenario"     validate:"required,max=64"`
	Version     string   `col:"version"      validate:"required,max=32"`
	ServiceCode string   `col:"service_code" validate:"required,max=64"`
	UnitID      *uint    `col:"unit_id"`
	AnnualQty   *float64 `col:"annual_qty"   validate:"omitempty,gte=0"`
	AnnualFin   *float64 `col:"annual_fin"   validate:"omitempty,gte=0"`
	Currency    string   `col:"currency"     validate:"required,max=8"`
	Notes       string   `col:"notes"`
}

// budgetKey is the natural key of a budget line within a snapshot.
func budgetKey(year int, scenario, code string, unit *uint) string {
	k := fmt.Sprintf("%d/%s/%s", year, scenario, code)
	if unit != nil {
		k += "/" + strconv.FormatUint(uint64(*unit), 10)
	}
	return k
}

func (r budgetRow) key() string { return budgetKey(r.Year, r.Scenario, r.ServiceCode, r.UnitID) }

func sameBudget(r budgetRow, b domain.BudgetAnnual) bool {
	return ptrEq(r.AnnualQty, b.AnnualQty) && ptrEq(r.AnnualFin, b.AnnualFin) &&
		r.Currency == b.Currency && r.Notes == b.Notes
}

type group struct {
	year     int
	scenario string
}

type budgetVariant struct{}

func (budgetVariant) columns() []string {
	return []string{"year", "scenario", "version", "service_code", "unit_id", "annual_qty", "annual_fin", "currency", "notes"}
}

func (budgetVariant) required() []string {
	return []string{"year", "scenario", "version", "service_code", "currency"}
}

func (budgetVariant) prepare(ctx context.Context, db *gorm.DB, _ *Pipeline, tbl *Table, _ Options) (*plan, error) {
	ref, err := loadRefs(ctx, db)
	if err != nil {
		return nil, err
	}
	items, issues, _ := collect(tbl, rowSpec[budgetRow]{
		decode: func(r *rowReader) budgetRow {
			return budgetRow{
				Year:        r.int("year"),
				Scenario:    r.str("scenario"),
				Version:     r.str("version"),
				ServiceCode: r.str("service_code"),
				UnitID:      r.uint("unit_id"),
				AnnualQty:   r.float("annual_qty"),
				AnnualFin:   r.float("annual_fin"),
				Currency:    r.str("currency"),
				Notes:       r.str("notes"),
			}
		},
		key: budgetRow.key,
		check: func(r budgetRow) []string {
			errs := append(ref.service(r.ServiceCode), ref.unit(r.UnitID)...)
			return append(errs, oneOf("annual_qty", r.AnnualQty, "annual_fin", r.AnnualFin)...)
		},
	})

	// Load the published line set of every (year, scenario) in the file.
	var groups []group
	byGroup := map[group][]item[budgetRow]{}
	for _, it := range items {
		g := group{it.val.Year, it.val.Scenario}
		if _, ok := byGroup[g]; !ok {
			groups = append(groups, g)
		}
		byGroup[g] = append(byGroup[g], it)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].year != groups[j].year {
			return groups[i].year < groups[j].year
		}
		return groups[i].scenario < groups[j].scenario
	})

	prevSnap := map[group]*domain.BudgetSnapshot{}
	prevLines := map[group][]domain.BudgetAnnual{}
	existing := map[string]domain.BudgetAnnual{}
	for _, g := range groups {
		snap, err := repo.PublishedSnapshot(ctx, db, g.year, g.scenario)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		lines, err := repo.SnapshotLines(ctx, db, snap.ID)
		if err != nil {
			return nil, err
		}
		prevSnap[g], prevLines[g] = snap, lines
		for _, l := range lines {
			existing[budgetKey(l.Year, l.Scenario, l.ServiceCode, l.UnitID)] = l
		}
	}

	created, updated, entries := classify(items, existing, sameBudget)
	changed := map[string]bool{}
	for _, it := range append(append([]item[budgetRow]{}, created...), updated...) {
		changed[it.key] = true
	}

	return &plan{
		issues:  issues,
		entries: entries,
		apply: func(ctx context.Context, tx *gorm.DB, actor string, rep *Report) error {
			var audit []repo.AuditEntry
			for _, g := range groups {
				sr, err := publish(ctx, tx, actor, g, prevSnap[g], prevLines[g], byGroup[g])
				if err != nil {
					return err
				}
				job, err := repo.EnqueueRecompute(ctx, tx, domain.RecomputeBudget, &sr.Snapshot)
				if err != nil {
					return err
				}
				rep.Snapshots = append(rep.Snapshots, *sr)
				rep.Jobs = append(rep.Jobs, job.ID)
				audit = append(audit, repo.AuditEntry{
					Entity: "budget_snapshot", EntityID: strconv.FormatUint(uint64(sr.Snapshot), 10),
					Action: domain.ActionPublish, Payload: sr,
				})
				for _, it := range byGroup[g] {
					if !changed[it.key] {
						continue
					}
					action := domain.ActionCreate
					if _, ok := existing[it.key]; ok {
						action = domain.ActionUpdate
					}
					audit = append(audit, repo.AuditEntry{Entity: "budget_annual", EntityID: it.key, Action: action, Payload: it.val})
				}
			}
			if len(rep.Snapshots) > 0 {
				first := rep.Snapshots[0]
				rep.Snapshot, rep.PrevSnapshot = &first.Snapshot, first.PrevSnapshot
			}
			return repo.WriteAudit(ctx, tx, actor, audit...)
		},
	}, nil
}

// publish archives prev (when present) and publishes a new snapshot whose
// lines are prev's lines overlaid with rows.
func publish(ctx context.Context, tx *gorm.DB, actor string, g group, prev *domain.BudgetSnapshot, prevLines []domain.BudgetAnnual, rows []item[budgetRow]) (*SnapshotRef, error) {
	var prevID *uint
	if prev != nil {
		if err := repo.ArchiveSnapshot(ctx, tx, prev.ID); err != nil {
			return nil, err
		}
		id := prev.ID
		prevID = &id
	}
	version, err := repo.NextSnapshotVersion(ctx, tx, g.year, g.scenario)
	if err != nil {
		return nil, err
	}
	snap := &domain.BudgetSnapshot{
		Year:           g.year,
		Scenario:       g.scenario,
		Version:        version,
		Status:         domain.SnapshotPublished,
		PrevSnapshotID: prevID,
		CreatedBy:      actor,
		CreatedAt:      utcNow(),
	}
	if err := repo.CreateSnapshot(ctx, tx, snap); err != nil {
		return nil, err
	}

	merged := map[string]domain.BudgetAnnual{}
	var order []string
	for _, l := range prevLines {
		k := budgetKey(l.Year, l.Scenario, l.ServiceCode, l.UnitID)
		l.ID = 0
		merged[k] = l
		order = append(order, k)
	}
	for _, it := range rows {
		if _, ok := merged[it.key]; !ok {
			order = append(order, it.key)
		}
		r := it.val
		merged[it.key] = domain.BudgetAnnual{
			Year:        r.Year,
			Scenario:    r.Scenario,
			Version:     r.Version,
			ServiceCode: r.ServiceCode,
			UnitID:      r.UnitID,
			AnnualQty:   r.AnnualQty,
			AnnualFin:   r.AnnualFin,
			Currency:    r.Currency,
			Notes:       r.Notes,
		}
	}
	lines := make([]domain.BudgetAnnual, 0, len(order))
	for _, k := range order {
		l := merged[k]
		l.SnapshotID = snap.ID
		lines = append(lines, l)
	}
	if len(lines) > 0 {
		if err := tx.WithContext(ctx).CreateInBatches(lines, 200).Error; err != nil {
			return nil, err
		}
	}
	return &SnapshotRef{
		Year:         g.year,
		Scenario:     g.scenario,
		Snapshot:     snap.ID,
		PrevSnapshot: prevID,
		Version:      version,
	}, nil
}
