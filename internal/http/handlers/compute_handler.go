// Engine and reporting HTTP handlers.
//
//   - POST /compute/budget-daily   (spread the annual plan over days)
//   - POST /compute/deviations     (compare actuals with the daily plan)
//   - POST /recompute              (drain the recompute queue)
//   - GET  /settings               (current settings version)
//   - POST /settings               (append a settings version)
//   - POST /dq/run                 (data-quality checks)
//   - GET  /dashboard
//   - GET  /reports/weekly.xlsx
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/services"
	"github.com/tbourn/perfmon-backend/internal/utils"
)

// BudgetDailyRequest selects the plan to spread. Zero values use the
// configured year and scenario.
type BudgetDailyRequest struct {
	Year     int    `json:"year"     example:"1404"`
	Scenario string `json:"scenario" example:"base"`
}

// BudgetDaily godoc
// @ID          computeBudgetDaily
// @Summary     Compute the daily budget
// @Description Spreads the published annual budget over the calendar days using seasonality and day weights. The request body is optional; year and scenario may also be passed as query parameters.
// @Tags        Compute
// @Accept      json
// @Produce     json
// @Param       year      query  int     false "Jalali year"
// @Param       scenario  query  string  false "Budget scenario"
// @Param       body      body   handlers.BudgetDailyRequest  false "Plan selection"
// @Success     200  {object}  engine.DailyResult
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse "No published snapshot or calendar"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /compute/budget-daily [post]
func (h *Handlers) BudgetDaily(c *gin.Context) {
	var req BudgetDailyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Year == 0 {
		req.Year = utils.AtoiDefault(c.Query("year"), 0)
	}
	if req.Scenario == "" {
		req.Scenario = strings.TrimSpace(c.Query("scenario"))
	}
	if req.Year < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "year must be positive")
		return
	}
	res, err := h.svc.Compute.BudgetDaily(c.Request.Context(), req.Year, req.Scenario)
	if err != nil {
		failErr(c, err, ErrCodeComputeFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// Deviations godoc
// @ID          computeDeviations
// @Summary     Compute deviations
// @Description Compares actual amounts with the daily plan, raises or refreshes triggers and publishes the notifiable ones.
// @Tags        Compute
// @Produce     json
// @Success     200  {object}  engine.DeviationResult
// @Failure     409  {object}  handlers.ErrorResponse "No published snapshot"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /compute/deviations [post]
func (h *Handlers) Deviations(c *gin.Context) {
	res, err := h.svc.Compute.Deviations(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeComputeFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// Recompute godoc
// @ID          recompute
// @Summary     Drain the recompute queue
// @Description Runs every pending recompute job: the daily budget of its plan followed by a deviations pass.
// @Tags        Compute
// @Produce     json
// @Success     200  {object}  services.RecomputeSummary
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /recompute [post]
func (h *Handlers) Recompute(c *gin.Context) {
	res, err := h.svc.Compute.Recompute(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeComputeFailed)
		return
	}
	ok(c, http.StatusOK, res)
}

// GetSettings godoc
// @ID          getSettings
// @Summary     Current engine settings
// @Tags        Settings
// @Produce     json
// @Success     200  {object}  domain.Setting
// @Router      /settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	s, err := h.svc.Settings.Current(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, s)
}

// UpdateSettings godoc
// @ID          updateSettings
// @Summary     Append a settings version
// @Description Stores a new version; earlier versions are kept and triggers record the version they were raised under.
// @Tags        Settings
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "Acting user"
// @Param       body       body    services.SettingsInput  true  "New settings"
// @Success     201  {object}  domain.Setting
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Router      /settings [post]
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var in services.SettingsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	s, err := h.svc.Settings.Update(c.Request.Context(), actor(c), in)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, s)
}

// RunDQ godoc
// @ID          runDQ
// @Summary     Run data-quality checks
// @Description Calendar length, seasonality months, negative budgets and tenure or assignment overlaps.
// @Tags        Quality
// @Produce     json
// @Success     200  {object}  services.DQReport
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /dq/run [post]
func (h *Handlers) RunDQ(c *gin.Context) {
	rep, err := h.svc.DQ.Run(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeReportFailed)
		return
	}
	ok(c, http.StatusOK, rep)
}

// Dashboard godoc
// @ID          dashboard
// @Summary     Dashboard
// @Description Open and high-severity counts, response rate and the largest deviations of the last seven days.
// @Tags        Reports
// @Produce     json
// @Success     200  {object}  services.Dashboard
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /dashboard [get]
func (h *Handlers) Dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard.Summary(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeReportFailed)
		return
	}
	ok(c, http.StatusOK, d)
}

// WeeklyReport godoc
// @ID          weeklyReport
// @Summary     Weekly deviation report
// @Description XLSX workbook of the ten largest deviations of the week containing the given jalali day (default: this week).
// @Tags        Reports
// @Produce     octet-stream
// @Param       week  query  string  false "Any jalali day of the week (YYYY-MM-DD)"
// @Success     200   {file}    file
// @Failure     400   {object}  handlers.ErrorResponse "Bad week"
// @Router      /reports/weekly.xlsx [get]
func (h *Handlers) WeeklyReport(c *gin.Context) {
	body, name, err := h.svc.Dashboard.WeeklyReport(c.Request.Context(), strings.TrimSpace(c.Query("week")))
	if err != nil {
		failErr(c, err, ErrCodeReportFailed)
		return
	}
	attachment(c, name, importer.ContentTypeXLSX, body)
}
