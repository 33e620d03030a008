package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/temporal"
)

// DQ check names.
const (
	CheckCalendar      = "calendar_days"
	CheckSeasonality   = "seasonality_months"
	CheckBudgetSigns   = "budget_non_negative"
	CheckTenureOverlap = "tenure_overlaps"
	CheckAssignOverlap = "assignment_overlaps"
)

// DQCheck is the outcome of one data-quality rule.
type DQCheck struct {
	Name     string   `json:"name"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems"`
}

// DQReport collects every check of a run.
type DQReport struct {
	Year   int       `json:"year"`
	OK     bool      `json:"ok"`
	Checks []DQCheck `json:"checks"`
	RanAt  time.Time `json:"ran_at"`
}

// DQService runs read-only data-quality checks over the store.
type DQService struct {
	DB                *gorm.DB
	Year              int
	ScopedAssignments bool
}

// NewDQService constructs a DQService.
func NewDQService(db *gorm.DB, year int, scoped bool) *DQService {
	return &DQService{DB: db, Year: year, ScopedAssignments: scoped}
}

// Run executes every check.
func (s *DQService) Run(ctx context.Context) (*DQReport, error) {
	db := s.DB.WithContext(ctx)
	rep := &DQReport{Year: s.Year, OK: true, RanAt: time.Now().UTC()}
	for _, c := range []struct {
		name string
		run  func(*gorm.DB) ([]string, error)
	}{
		{CheckCalendar, s.calendar},
		{CheckSeasonality, s.seasonality},
		{CheckBudgetSigns, s.budgetSigns},
		{CheckTenureOverlap, s.tenureOverlaps},
		{CheckAssignOverlap, s.assignmentOverlaps},
	} {
		problems, err := c.run(db)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		if problems == nil {
			problems = []string{}
		}
		ok := len(problems) == 0
		rep.OK = rep.OK && ok
		rep.Checks = append(rep.Checks, DQCheck{Name: c.name, OK: ok, Problems: problems})
	}
	log.Info().Int("year", s.Year).Bool("ok", rep.OK).Msg("data quality run finished")
	return rep, nil
}

// calendar expects every day of the year, month by month.
func (s *DQService) calendar(db *gorm.DB) ([]string, error) {
	var rows []struct {
		JalaliMonth int
		N           int
	}
	err := db.Model(&domain.CalendarDay{}).
		Select("jalali_month, COUNT(*) AS n").
		Where("date_shamsi LIKE ?", fmt.Sprintf("%04d-%%", s.Year)).
		Group("jalali_month").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	got := map[int]int{}
	total := 0
	for _, r := range rows {
		got[r.JalaliMonth] = r.N
		total += r.N
	}
	var out []string
	if want := jalali.YearLength(s.Year); total != want {
		out = append(out, fmt.Sprintf("calendar %d has %d days, want %d", s.Year, total, want))
	}
	for m := 1; m <= 12; m++ {
		if want := jalali.MonthLength(s.Year, m); got[m] != want {
			out = append(out, fmt.Sprintf("month %d has %d days, want %d", m, got[m], want))
		}
	}
	return out, nil
}

// seasonality expects 12 months in every series.
func (s *DQService) seasonality(db *gorm.DB) ([]string, error) {
	var rows []struct {
		ServiceCode string
		N           int
	}
	err := db.Model(&domain.SeasonalityMonth{}).
		Select("service_code, COUNT(DISTINCT month) AS n").
		Group("service_code").
		Order("service_code ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	var out []string
	global := false
	for _, r := range rows {
		name := r.ServiceCode
		if name == "" {
			name, global = "global", true
		}
		if r.N != 12 {
			out = append(out, fmt.Sprintf("seasonality %s has %d months, want 12", name, r.N))
		}
	}
	if !global {
		out = append(out, "global seasonality series is missing")
	}
	return out, nil
}

// budgetSigns rejects negative figures in published snapshots.
func (s *DQService) budgetSigns(db *gorm.DB) ([]string, error) {
	var lines []domain.BudgetAnnual
	err := db.
		Joins("JOIN budget_snapshots ON budget_snapshots.id = budget_annual.snapshot_id AND budget_snapshots.status = ?", domain.SnapshotPublished).
		Where("budget_annual.annual_qty < 0 OR budget_annual.annual_fin < 0").
		Order("budget_annual.id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, fmt.Sprintf("snapshot %d: %s/%s has a negative annual figure", l.SnapshotID, l.Scenario, l.ServiceCode))
	}
	return out, nil
}

func (s *DQService) tenureOverlaps(db *gorm.DB) ([]string, error) {
	var rows []domain.HeadTenure
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	groups := map[string][]temporal.Record{}
	for _, r := range rows {
		k := temporal.TenureKey(r.HeadID, r.UnitID).String()
		groups[k] = append(groups[k], temporal.Record{ID: r.ID, Interval: temporal.Interval{From: r.ValidFrom, To: r.ValidTo}})
	}
	return sweepGroups("head_tenure", groups), nil
}

func (s *DQService) assignmentOverlaps(db *gorm.DB) ([]string, error) {
	var rows []domain.ServiceAssignment
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	groups := map[string][]temporal.Record{}
	for _, r := range rows {
		k := temporal.AssignmentKey(r.ServiceCode, r.UnitID, r.ManagementID, r.HeadID, s.ScopedAssignments).String()
		groups[k] = append(groups[k], temporal.Record{ID: r.ID, Interval: temporal.Interval{From: r.ValidFrom, To: r.ValidTo}})
	}
	return sweepGroups("service_assignment", groups), nil
}

func sweepGroups(entity string, groups map[string][]temporal.Record) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		for _, c := range temporal.Sweep(groups[k]) {
			out = append(out, fmt.Sprintf("%s %d overlaps %d in %s", entity, c.A, c.B, k))
		}
	}
	return out
}
