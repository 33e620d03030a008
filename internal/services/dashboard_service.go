// Package services – DashboardService
//
// This file implements the dashboard summary and the weekly XLSX report of
// the largest deviations.
package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
)

const (
	dashboardTop = 5
	reportTop    = 10
	reportSheet  = "Weekly"
)

// Dashboard is the headline view of trigger activity.
type Dashboard struct {
	OpenTriggers  int64              `json:"open_triggers"`
	HighOpen      int64              `json:"high_open"`
	TotalTriggers int64              `json:"total_triggers"`
	Responded     int64              `json:"responded"`
	ResponseRate  float64            `json:"response_rate"`
	From          string             `json:"from"`
	To            string             `json:"to"`
	TopDeviations []repo.TriggerView `json:"top_deviations"`
}

// DashboardService builds dashboard views and reports.
type DashboardService struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{DB: db, Now: time.Now}
}

func (s *DashboardService) today() jalali.Date {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return jalali.FromTime(now().UTC())
}

// Summary returns counts, the response rate (responded triggers over all
// triggers) and the largest deviations of the last seven days.
func (s *DashboardService) Summary(ctx context.Context) (*Dashboard, error) {
	c, err := repo.CountDashboard(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	to := s.today()
	from := to.AddDays(-6)
	top, err := repo.TopDeviations(ctx, s.DB, from.Time(), to.Time(), dashboardTop)
	if err != nil {
		return nil, err
	}
	if top == nil {
		top = []repo.TriggerView{}
	}
	d := &Dashboard{
		OpenTriggers:  c.OpenTriggers,
		HighOpen:      c.HighOpen,
		TotalTriggers: c.TotalTriggers,
		Responded:     c.Responded,
		From:          from.String(),
		To:            to.String(),
		TopDeviations: top,
	}
	if c.TotalTriggers > 0 {
		d.ResponseRate, _ = decimal.NewFromInt(c.Responded).
			Div(decimal.NewFromInt(c.TotalTriggers)).
			Round(4).
			Float64()
	}
	return d, nil
}

// WeekStart returns the Saturday that starts the jalali week of d.
func WeekStart(d jalali.Date) jalali.Date {
	back := (int(d.Weekday()) + 1) % 7
	return d.AddDays(-back)
}

// WeeklyReport renders the top deviations of a week as an XLSX workbook.
// week is any jalali day of the wanted week; empty means the current week.
// It returns the workbook and a suggested file name.
func (s *DashboardService) WeeklyReport(ctx context.Context, week string) ([]byte, string, error) {
	day := s.today()
	if week != "" {
		d, err := jalali.Parse(week)
		if err != nil {
			return nil, "", ErrInvalidWeek
		}
		day = d
	}
	from := WeekStart(day)
	to := from.AddDays(6)
	rows, err := repo.TopDeviations(ctx, s.DB, from.Time(), to.Time(), reportTop)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, "", err
	}
	header := []any{"rank", "date_shamsi", "service_code", "service_name", "unit", "management", "head",
		"budget", "actual", "deviation_pct", "severity", "status"}
	if err := f.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return nil, "", err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", err
	}
	if err := f.SetRowStyle(reportSheet, 1, 1, bold); err != nil {
		return nil, "", err
	}
	for i, t := range rows {
		var dev any
		if t.DeviationPct != nil {
			dev = *t.DeviationPct
		}
		row := []any{i + 1, t.Day, t.ServiceCode, t.ServiceName, t.UnitName, t.ManagementName, t.HeadName,
			t.Budget, t.Actual, dev, t.Severity, t.Status}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return nil, "", err
		}
	}
	if err := f.SetColWidth(reportSheet, "B", "G", 18); err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("weekly-%s.xlsx", from), nil
}
