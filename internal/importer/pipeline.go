// Package importer implements the two-phase import of the five reference and
// fact domains. A dry-run parses, validates and diffs an upload against the
// store without writing anything; a commit repeats the same steps inside one
// transaction and applies the diff, or aborts without partial writes.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/repo"
)

// Domain names one import target.
type Domain string

const (
	DomainServices     Domain = "services"
	DomainBudgetAnnual Domain = "budget-annual"
	DomainOpsActual    Domain = "ops-actual"
	DomainCalendar     Domain = "calendar-1404"
	DomainSeasonality  Domain = "seasonality"
)

// Domains lists the supported domains in a stable order.
func Domains() []Domain {
	return []Domain{DomainServices, DomainBudgetAnnual, DomainOpsActual, DomainCalendar, DomainSeasonality}
}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := variants[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
	return d, nil
}

// Mode selects between a side-effect free preview and an applying run.
type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModeCommit Mode = "commit"
)

// ParseMode validates a mode name; empty means dry-run.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDryRun, "dry_run", "dryrun":
		return ModeDryRun, nil
	case ModeCommit:
		return ModeCommit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// State is the outcome of a run.
type State string

const (
	StateReported  State = "reported"
	StateCommitted State = "committed"
	StateRejected  State = "rejected"
)

// Issue lists the errors of one input row. Row 0 is the file itself.
type Issue struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

// Change classifies a diff entry.
type Change string

const (
	ChangeCreated     Change = "created"
	ChangeUpdated     Change = "updated"
	ChangeDeactivated Change = "deactivated"
)

// DiffEntry is one created, updated or deactivated natural key.
type DiffEntry struct {
	Row    int    `json:"row,omitempty"`
	Code   string `json:"code"`
	Status Change `json:"status"`
}

// SnapshotRef identifies a published budget snapshot and its predecessor.
type SnapshotRef struct {
	Year         int    `json:"year"`
	Scenario     string `json:"scenario"`
	Snapshot     uint   `json:"snapshot"`
	PrevSnapshot *uint  `json:"prev_snapshot"`
	Version      int    `json:"version"`
}

// Report is the result of a dry-run or commit.
type Report struct {
	Domain       Domain        `json:"domain"`
	Mode         Mode          `json:"mode"`
	State        State         `json:"state"`
	Rows         int           `json:"rows"`
	Errors       []Issue       `json:"errors"`
	Created      []string      `json:"created"`
	Updated      []string      `json:"updated"`
	Deactivated  []string      `json:"deactivated"`
	Entries      []DiffEntry   `json:"entries"`
	Snapshot     *uint         `json:"snapshot,omitempty"`
	PrevSnapshot *uint         `json:"prev_snapshot,omitempty"`
	Snapshots    []SnapshotRef `json:"snapshots,omitempty"`
	Jobs         []uint        `json:"recompute_jobs,omitempty"`
}

// Options tune a run.
type Options struct {
	// ConfirmDeactivate lets a services import deactivate active services
	// that are absent from the file.
	ConfirmDeactivate bool
	// Actor is recorded on audit rows and snapshots.
	Actor string
}

// Pipeline runs imports against a database.
type Pipeline struct {
	DB *gorm.DB
	// CalendarYear is the only jalali year the calendar domain accepts.
	CalendarYear int
}

// New returns a Pipeline bound to db.
func New(db *gorm.DB, calendarYear int) *Pipeline {
	return &Pipeline{DB: db, CalendarYear: calendarYear}
}

// plan is the validated, classified content of an upload. apply writes it.
type plan struct {
	issues  []Issue
	entries []DiffEntry
	apply   func(ctx context.Context, tx *gorm.DB, actor string, rep *Report) error
}

// variant is implemented once per Domain; the set is closed.
type variant interface {
	columns() []string
	required() []string
	prepare(ctx context.Context, db *gorm.DB, p *Pipeline, tbl *Table, opts Options) (*plan, error)
}

var variants = map[Domain]variant{
	DomainServices:     servicesVariant{},
	DomainBudgetAnnual: budgetVariant{},
	DomainOpsActual:    opsVariant{},
	DomainCalendar:     calendarVariant{},
	DomainSeasonality:  seasonalityVariant{},
}

// Columns returns the template header of a domain.
func Columns(d Domain) ([]string, error) {
	v, ok := variants[d]
	if !ok {
		return nil, ErrUnknownDomain
	}
	return v.columns(), nil
}

// Run dispatches on mode.
func (p *Pipeline) Run(ctx context.Context, d Domain, mode Mode, tbl *Table, opts Options) (*Report, error) {
	switch mode {
	case ModeDryRun:
		return p.DryRun(ctx, d, tbl, opts)
	case ModeCommit:
		return p.Commit(ctx, d, tbl, opts)
	}
	return nil, ErrUnknownMode
}

// DryRun validates and diffs tbl without writing.
func (p *Pipeline) DryRun(ctx context.Context, d Domain, tbl *Table, opts Options) (*Report, error) {
	v, ok := variants[d]
	if !ok {
		return nil, ErrUnknownDomain
	}
	rep := newReport(d, ModeDryRun, tbl)
	if missing := tbl.Missing(v.required()); len(missing) > 0 {
		rep.Errors = []Issue{missingIssue(missing)}
		return rep, nil
	}
	pl, err := v.prepare(ctx, p.DB.WithContext(ctx), p, tbl, opts)
	if err != nil {
		return nil, err
	}
	rep.fill(pl)
	return rep, nil
}

// Commit validates tbl against the store inside a transaction and applies
// it. Any issue aborts the transaction with a *CommitAbortedError.
func (p *Pipeline) Commit(ctx context.Context, d Domain, tbl *Table, opts Options) (*Report, error) {
	v, ok := variants[d]
	if !ok {
		return nil, ErrUnknownDomain
	}
	rep := newReport(d, ModeCommit, tbl)
	if missing := tbl.Missing(v.required()); len(missing) > 0 {
		rep.State = StateRejected
		rep.Errors = []Issue{missingIssue(missing)}
		return rep, &CommitAbortedError{Issues: rep.Errors}
	}

	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pl, err := v.prepare(ctx, tx, p, tbl, opts)
		if err != nil {
			return err
		}
		rep.fill(pl)
		if len(pl.issues) > 0 {
			return &CommitAbortedError{Issues: pl.issues}
		}
		return pl.apply(ctx, tx, opts.Actor, rep)
	})

	var aborted *CommitAbortedError
	switch {
	case err == nil:
		rep.State = StateCommitted
		return rep, nil
	case errors.As(err, &aborted):
		rep.State = StateRejected
		return rep, err
	case errors.Is(err, repo.ErrStaleSnapshot), errors.Is(err, repo.ErrDuplicate), isBusy(err):
		return nil, ErrConcurrencyConflict
	default:
		return nil, err
	}
}

func newReport(d Domain, mode Mode, tbl *Table) *Report {
	return &Report{
		Domain:      d,
		Mode:        mode,
		State:       StateReported,
		Rows:        len(tbl.Records),
		Errors:      []Issue{},
		Created:     []string{},
		Updated:     []string{},
		Deactivated: []string{},
		Entries:     []DiffEntry{},
	}
}

func (r *Report) fill(pl *plan) {
	if pl.issues != nil {
		r.Errors = pl.issues
	}
	r.Entries = append(r.Entries[:0], pl.entries...)
	r.Created, r.Updated, r.Deactivated = r.Created[:0], r.Updated[:0], r.Deactivated[:0]
	for _, e := range pl.entries {
		switch e.Status {
		case ChangeCreated:
			r.Created = append(r.Created, e.Code)
		case ChangeUpdated:
			r.Updated = append(r.Updated, e.Code)
		case ChangeDeactivated:
			r.Deactivated = append(r.Deactivated, e.Code)
		}
	}
}

func missingIssue(cols []string) Issue {
	errs := make([]string, 0, len(cols))
	for _, c := range cols {
		errs = append(errs, "missing required column: "+c)
	}
	return Issue{Row: 0, Errors: errs}
}

// isBusy reports a writer lock timeout from SQLite, which only happens when
// another commit holds the database.
func isBusy(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "database is locked") || strings.Contains(s, "sqlite_busy")
}

// item is one valid decoded row.
type item[R any] struct {
	row int
	key string
	val R
}

// rowSpec describes how a variant turns records into typed rows.
type rowSpec[R any] struct {
	decode func(r *rowReader) R
	key    func(R) string
	// check adds domain rules the struct tags cannot express; may be nil.
	check func(R) []string
}

// collect decodes every record. A record with structural errors reports
// only those; otherwise tag validation, domain checks and duplicate detection
// all contribute. It also returns every key seen, valid or not.
func collect[R any](tbl *Table, spec rowSpec[R]) ([]item[R], []Issue, map[string]bool) {
	var (
		items  []item[R]
		issues []Issue
		seen   = map[string]int{}
		keys   = map[string]bool{}
	)
	for _, rec := range tbl.Records {
		rr := &rowReader{rec: rec}
		v := spec.decode(rr)
		k := spec.key(v)
		if k != "" {
			keys[k] = true
		}
		if len(rr.errs) > 0 {
			issues = append(issues, Issue{Row: rec.Row, Errors: rr.errs})
			continue
		}
		errs := fieldErrors(v)
		if spec.check != nil {
			errs = append(errs, spec.check(v)...)
		}
		if k != "" {
			if first, dup := seen[k]; dup {
				errs = append(errs, fmt.Sprintf("duplicate key %s (first on row %d)", k, first))
			} else {
				seen[k] = rec.Row
			}
		}
		if len(errs) > 0 {
			issues = append(issues, Issue{Row: rec.Row, Errors: errs})
			continue
		}
		items = append(items, item[R]{row: rec.Row, key: k, val: v})
	}
	return items, issues, keys
}

// classify splits items into created and updated against existing; rows
// equal to their stored counterpart are dropped.
func classify[R, S any](items []item[R], existing map[string]S, same func(R, S) bool) (created, updated []item[R], entries []DiffEntry) {
	for _, it := range items {
		cur, ok := existing[it.key]
		switch {
		case !ok:
			created = append(created, it)
			entries = append(entries, DiffEntry{Row: it.row, Code: it.key, Status: ChangeCreated})
		case !same(it.val, cur):
			updated = append(updated, it)
			entries = append(entries, DiffEntry{Row: it.row, Code: it.key, Status: ChangeUpdated})
		}
	}
	return created, updated, entries
}

func ptrEq[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func utcNow() time.Time { return time.Now().UTC() }
