// Package handlers exposes the HTTP endpoints of the monitoring API.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses
// and file downloads). Service errors are mapped onto the stable error
// envelope in one place, failErr.
package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/engine"
	"github.com/tbourn/perfmon-backend/internal/http/middleware"
	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/search"
	"github.com/tbourn/perfmon-backend/internal/services"
	"github.com/tbourn/perfmon-backend/internal/snapshot"
	"github.com/tbourn/perfmon-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ImportService runs uploads through the import pipeline.
type ImportService interface {
	Run(ctx context.Context, req services.ImportRequest) (*importer.Report, error)
	Template(domain, format string) ([]byte, string, error)
}

// TriggerService reads triggers, moves them through their lifecycle and
// compares budget snapshots.
type TriggerService interface {
	ListPage(ctx context.Context, f repo.TriggerFilter, page, pageSize int) ([]repo.TriggerView, int64, error)
	Stats(ctx context.Context, f repo.TriggerFilter) (int64, *time.Time, error)
	Get(ctx context.Context, id uint) (*repo.TriggerView, error)
	Transition(ctx context.Context, actor string, id uint, to string) (*domain.Trigger, error)
	Impacted(ctx context.Context, snapshotID uint) ([]domain.Trigger, *snapshot.Result, error)
	ListSnapshots(ctx context.Context) ([]domain.BudgetSnapshot, error)
	Diff(ctx context.Context, from *uint, to uint) (*snapshot.Result, error)
}

// ResponseService records and searches trigger responses.
type ResponseService interface {
	Submit(ctx context.Context, actor string, triggerID uint, in services.ResponseInput) (*domain.Response, error)
	List(ctx context.Context, triggerID *uint) ([]domain.Response, error)
	Search(q string, k int) []search.Result
}

// ComputeService runs the engine.
type ComputeService interface {
	BudgetDaily(ctx context.Context, year int, scenario string) (*engine.DailyResult, error)
	Deviations(ctx context.Context) (*engine.DeviationResult, error)
	Recompute(ctx context.Context) (*services.RecomputeSummary, error)
}

// SettingsService reads and appends engine settings versions.
type SettingsService interface {
	Current(ctx context.Context) (domain.Setting, error)
	Update(ctx context.Context, actor string, in services.SettingsInput) (*domain.Setting, error)
}

// DQService runs data-quality checks.
type DQService interface {
	Run(ctx context.Context) (*services.DQReport, error)
}

// DashboardService builds the dashboard and the weekly report.
type DashboardService interface {
	Summary(ctx context.Context) (*services.Dashboard, error)
	WeeklyReport(ctx context.Context, week string) ([]byte, string, error)
}

// OrgService manages managements, units, heads, tenures and service
// assignments.
type OrgService interface {
	ListManagements(ctx context.Context) ([]domain.Management, error)
	GetManagement(ctx context.Context, id uint) (*domain.Management, error)
	CreateManagement(ctx context.Context, actor, name string) (*domain.Management, error)
	UpdateManagement(ctx context.Context, actor string, id uint, name string) (*domain.Management, error)
	DeleteManagement(ctx context.Context, actor string, id uint) error

	ListUnits(ctx context.Context, managementID *uint) ([]domain.Unit, error)
	GetUnit(ctx context.Context, id uint) (*domain.Unit, error)
	CreateUnit(ctx context.Context, actor string, in services.UnitInput) (*domain.Unit, error)
	UpdateUnit(ctx context.Context, actor string, id uint, in services.UnitInput) (*domain.Unit, error)
	DeleteUnit(ctx context.Context, actor string, id uint) error

	ListHeads(ctx context.Context) ([]domain.Head, error)
	GetHead(ctx context.Context, id uint) (*domain.Head, error)
	CreateHead(ctx context.Context, actor string, in services.HeadInput) (*domain.Head, error)
	UpdateHead(ctx context.Context, actor string, id uint, in services.HeadInput) (*domain.Head, error)
	DeleteHead(ctx context.Context, actor string, id uint) error

	ListTenures(ctx context.Context, unitID, headID *uint) ([]domain.HeadTenure, error)
	GetTenure(ctx context.Context, id uint) (*domain.HeadTenure, error)
	CreateTenure(ctx context.Context, actor string, in services.TenureInput) (*domain.HeadTenure, error)
	UpdateTenure(ctx context.Context, actor string, id uint, in services.TenureInput) (*domain.HeadTenure, error)
	DeleteTenure(ctx context.Context, actor string, id uint) error

	ListAssignments(ctx context.Context, serviceCode string) ([]domain.ServiceAssignment, error)
	GetAssignment(ctx context.Context, id uint) (*domain.ServiceAssignment, error)
	CreateAssignment(ctx context.Context, actor string, in services.AssignmentInput) (*domain.ServiceAssignment, error)
	UpdateAssignment(ctx context.Context, actor string, id uint, in services.AssignmentInput) (*domain.ServiceAssignment, error)
	DeleteAssignment(ctx context.Context, actor string, id uint) error
}

// IdempotencyStore persists committed responses so a retried commit with the
// same key replays them.
type IdempotencyStore interface {
	Lookup(ctx context.Context, actor, scope, key string) (status int, body []byte, found bool, err error)
	Save(ctx context.Context, actor, scope, key string, status int, body []byte) error
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers.
type Services struct {
	Import      ImportService
	Triggers    TriggerService
	Responses   ResponseService
	Compute     ComputeService
	Settings    SettingsService
	DQ          DQService
	Dashboard   DashboardService
	Org         OrgService
	Idempotency IdempotencyStore
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	svc Services
}

// New constructs Handlers bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{svc: s}
}

// actor returns the acting user for audit rows.
func actor(c *gin.Context) string { return middleware.ActorFrom(c) }

//
// Shared DTOs and helpers
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages, HasNext: page < pages}
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// pathID parses the :id path parameter.
func pathID(c *gin.Context) (uint, bool) {
	return utils.ParseID(c.Param("id"))
}

// optionalUint parses an optional numeric query parameter. A present but
// malformed value reports ok=false.
func optionalUint(c *gin.Context, name string) (v *uint, ok bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	id, ok := utils.ParseID(raw)
	if !ok {
		return nil, false
	}
	return &id, true
}

// optionalDay parses an optional jalali date query parameter into the UTC
// midnight of the matching Gregorian day.
func optionalDay(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	d, err := jalali.Parse(raw)
	if err != nil {
		return nil, err
	}
	t := d.Time()
	return &t, nil
}

func formatUint(v uint) string { return strconv.FormatUint(uint64(v), 10) }
