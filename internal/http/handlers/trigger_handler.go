// Trigger HTTP handlers.
//
//   - GET  /triggers                    (filtered, paginated, ETag support)
//   - GET  /triggers/impacted           (triggers touched by a snapshot)
//   - GET  /triggers/{id}               (read, then clear the updated flag)
//   - PUT  /triggers/{id}/status        (lifecycle transition)
//   - POST /triggers/{id}/responses     (submit a response)
//   - GET  /triggers/{id}/responses     (list responses)
//   - GET  /responses/search            (similar past responses)
//   - GET  /budget/snapshots            (snapshot history)
//   - GET  /budget/diff                 (compare two snapshots)
package handlers

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/search"
	"github.com/tbourn/perfmon-backend/internal/services"
	"github.com/tbourn/perfmon-backend/internal/snapshot"
	"github.com/tbourn/perfmon-backend/internal/sysutil"
	"github.com/tbourn/perfmon-backend/internal/utils"
)

//
// DTOs
//

// ListTriggersResponse wraps a page of triggers and pagination information.
type ListTriggersResponse struct {
	Triggers   []repo.TriggerView `json:"triggers"`
	Pagination Pagination         `json:"pagination"`
}

// UpdateStatusRequest is the JSON payload of a lifecycle transition.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=open reminded responded closed" example:"closed"`
}

// ImpactedResponse lists the triggers whose services a snapshot changed.
type ImpactedResponse struct {
	Diff     *snapshot.Result `json:"diff"`
	Triggers []domain.Trigger `json:"triggers"`
}

// ResponsesResponse wraps a list of responses.
type ResponsesResponse struct {
	Responses []domain.Response `json:"responses"`
}

// SearchResponse wraps ranked search hits.
type SearchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// SnapshotsResponse wraps the snapshot history.
type SnapshotsResponse struct {
	Snapshots []domain.BudgetSnapshot `json:"snapshots"`
}

//
// Helpers
//

// triggerFilter reads the list filters from the query string.
func triggerFilter(c *gin.Context) (repo.TriggerFilter, error) {
	f := repo.TriggerFilter{
		Status:      strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Severity:    strings.TrimSpace(c.Query("severity")),
		ServiceCode: strings.TrimSpace(c.Query("service_code")),
		UpdatedOnly: sysutil.IsTruthy(c.Query("updated")),
	}
	switch f.Status {
	case "", domain.TriggerOpen, domain.TriggerReminded, domain.TriggerResponded, domain.TriggerClosed:
	default:
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	switch strings.ToLower(f.Severity) {
	case "":
	case strings.ToLower(domain.SeverityLow):
		f.Severity = domain.SeverityLow
	case strings.ToLower(domain.SeverityHigh):
		f.Severity = domain.SeverityHigh
	default:
		return f, fmt.Errorf("unknown severity %q", f.Severity)
	}
	unit, good := optionalUint(c, "unit_id")
	if !good {
		return f, fmt.Errorf("unit_id must be a positive integer")
	}
	f.UnitID = unit
	var err error
	if f.From, err = optionalDay(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = optionalDay(c, "to"); err != nil {
		return f, err
	}
	return f, nil
}

// listETag derives a weak ETag from the query and the matching set's size
// and latest update.
func listETag(rawQuery string, count int64, ts int64) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rawQuery))
	return fmt.Sprintf(`W/"triggers:%x:%d:%d"`, h.Sum64(), count, ts)
}

//
// Handlers
//

// ListTriggers godoc
// @ID          listTriggers
// @Summary     List triggers (paginated)
// @Description Returns triggers newest day first with service, unit, management and head names. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Triggers
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "Lifecycle status"  Enums(open, reminded, responded, closed)
// @Param       severity       query   string  false "Severity"          Enums(Low, High)
// @Param       service_code   query   string  false "Service code"
// @Param       unit_id        query   int     false "Unit id"
// @Param       updated        query   bool    false "Only triggers changed by a recompute and not yet read"
// @Param       from           query   string  false "First jalali day (YYYY-MM-DD)"
// @Param       to             query   string  false "Last jalali day (YYYY-MM-DD)"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTriggersResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /triggers [get]
func (h *Handlers) ListTriggers(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := triggerFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.svc.Triggers.Stats(ctx, f); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := listETag(c.Request.URL.RawQuery, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.Triggers.ListPage(ctx, f, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListTriggersResponse{Triggers: items, Pagination: newPagination(page, pageSize, total)})
}

// GetTrigger godoc
// @ID          getTrigger
// @Summary     Get a trigger
// @Description Returns the trigger with its names. The updated flag is returned as stored and then cleared.
// @Tags        Triggers
// @Produce     json
// @Param       id   path      int  true  "Trigger id"
// @Success     200  {object}  repo.TriggerView
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Router      /triggers/{id} [get]
func (h *Handlers) GetTrigger(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "trigger id must be a positive integer")
		return
	}
	v, err := h.svc.Triggers.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, v)
}

// UpdateTriggerStatus godoc
// @ID          updateTriggerStatus
// @Summary     Change a trigger's status
// @Description Allowed: open→reminded, open→responded, open→closed, reminded→responded, responded→closed.
// @Tags        Triggers
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "Acting user"
// @Param       id         path    int     true  "Trigger id"
// @Param       body       body    handlers.UpdateStatusRequest  true  "Target status"
// @Success     200  {object}  domain.Trigger
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Failure     409  {object}  handlers.ErrorResponse "Transition not allowed"
// @Router      /triggers/{id}/status [put]
func (h *Handlers) UpdateTriggerStatus(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "trigger id must be a positive integer")
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be one of open, reminded, responded, closed")
		return
	}
	t, err := h.svc.Triggers.Transition(c.Request.Context(), actor(c), id, req.Status)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, t)
}

// ListImpacted godoc
// @ID          listImpactedTriggers
// @Summary     Triggers impacted by a budget snapshot
// @Description Diffs the snapshot against the one it replaced and returns the triggers of every added or changed service.
// @Tags        Budget
// @Produce     json
// @Param       snapshot  query     int  true  "Snapshot id"
// @Success     200       {object}  handlers.ImpactedResponse
// @Failure     400       {object}  handlers.ErrorResponse "Bad request"
// @Failure     404       {object}  handlers.ErrorResponse "Not found"
// @Router      /triggers/impacted [get]
func (h *Handlers) ListImpacted(c *gin.Context) {
	id, good := utils.ParseID(c.Query("snapshot"))
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "snapshot must be a positive integer")
		return
	}
	ts, diff, err := h.svc.Triggers.Impacted(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	if ts == nil {
		ts = []domain.Trigger{}
	}
	ok(c, http.StatusOK, ImpactedResponse{Diff: diff, Triggers: ts})
}

// ListSnapshots godoc
// @ID          listSnapshots
// @Summary     List budget snapshots
// @Tags        Budget
// @Produce     json
// @Success     200  {object}  handlers.SnapshotsResponse
// @Router      /budget/snapshots [get]
func (h *Handlers) ListSnapshots(c *gin.Context) {
	ss, err := h.svc.Triggers.ListSnapshots(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if ss == nil {
		ss = []domain.BudgetSnapshot{}
	}
	ok(c, http.StatusOK, SnapshotsResponse{Snapshots: ss})
}

// DiffSnapshots godoc
// @ID          diffSnapshots
// @Summary     Compare two budget snapshots
// @Description Lines added, removed and changed going from one snapshot to another. Without from, compares against nothing.
// @Tags        Budget
// @Produce     json
// @Param       from  query     int  false "Older snapshot id"
// @Param       to    query     int  true  "Newer snapshot id"
// @Success     200   {object}  snapshot.Result
// @Failure     400   {object}  handlers.ErrorResponse "Bad request"
// @Failure     404   {object}  handlers.ErrorResponse "Not found"
// @Router      /budget/diff [get]
func (h *Handlers) DiffSnapshots(c *gin.Context) {
	to, good := utils.ParseID(c.Query("to"))
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be a positive integer")
		return
	}
	from, good := optionalUint(c, "from")
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must be a positive integer")
		return
	}
	res, err := h.svc.Triggers.Diff(c.Request.Context(), from, to)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

// SubmitResponse godoc
// @ID          submitResponse
// @Summary     Respond to a trigger
// @Description Records free text (at most 1000 characters) and up to 3 actions, moves the trigger to responded and indexes the text for search.
// @Tags        Responses
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "Acting user"
// @Param       id         path    int     true  "Trigger id"
// @Param       body       body    services.ResponseInput  true  "Response"
// @Success     201  {object}  domain.Response
// @Failure     400  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse "Not found"
// @Failure     409  {object}  handlers.ErrorResponse "Trigger cannot take a response"
// @Router      /triggers/{id}/responses [post]
func (h *Handlers) SubmitResponse(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "trigger id must be a positive integer")
		return
	}
	var in services.ResponseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.svc.Responses.Submit(c.Request.Context(), actor(c), id, in)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListResponses godoc
// @ID          listResponses
// @Summary     List a trigger's responses
// @Tags        Responses
// @Produce     json
// @Param       id   path      int  true  "Trigger id"
// @Success     200  {object}  handlers.ResponsesResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Router      /triggers/{id}/responses [get]
func (h *Handlers) ListResponses(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "trigger id must be a positive integer")
		return
	}
	rs, err := h.svc.Responses.List(c.Request.Context(), &id)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if rs == nil {
		rs = []domain.Response{}
	}
	ok(c, http.StatusOK, ResponsesResponse{Responses: rs})
}

// SearchResponses godoc
// @ID          searchResponses
// @Summary     Search past responses
// @Description Ranks stored responses by token overlap with q.
// @Tags        Responses
// @Produce     json
// @Param       q  query     string  true  "Query text"
// @Param       k  query     int     false "Maximum hits"  minimum(1) maximum(50) default(5)
// @Success     200  {object}  handlers.SearchResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Router      /responses/search [get]
func (h *Handlers) SearchResponses(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q is required")
		return
	}
	k := utils.AtoiDefault(c.Query("k"), 5)
	if k < 1 {
		k = 1
	}
	if k > 50 {
		k = 50
	}
	res := h.svc.Responses.Search(q, k)
	if res == nil {
		res = []search.Result{}
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Results: res})
}
