// Organization HTTP handlers.
//
//   - /org/managements[/{id}]
//   - /org/units[/{id}]
//   - /org/heads[/{id}]
//   - /org/tenure[/{id}]
//   - /org/service-assignment[/{id}]
//
// Each collection supports GET (list), POST (create) and, per item, GET, PUT
// and DELETE. Dates are jalali strings (YYYY-MM-DD).
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/services"
)

//
// DTOs
//

// ManagementRequest is the payload of a management write.
type ManagementRequest struct {
	Name string `json:"name" example:"Operations"`
}

// UnitRequest is the payload of a unit write.
type UnitRequest struct {
	ManagementID uint   `json:"management_id" example:"1"`
	Name         string `json:"name"          example:"North branch"`
}

// HeadRequest is the payload of a head write.
type HeadRequest struct {
	FullName string `json:"full_name" example:"Sara Ahmadi"`
	Phone    string `json:"phone"     example:"+98 912 000 0000"`
}

// TenureRequest is the payload of a head tenure write. An omitted is_current
// is derived from today's date.
type TenureRequest struct {
	HeadID    uint    `json:"head_id"    example:"1"`
	UnitID    uint    `json:"unit_id"    example:"1"`
	ValidFrom string  `json:"valid_from" example:"1404-01-01"`
	ValidTo   *string `json:"valid_to"   example:"1404-06-31"`
	IsCurrent *bool   `json:"is_current"`
}

// AssignmentRequest is the payload of a service assignment write.
type AssignmentRequest struct {
	ServiceCode  string  `json:"service_code"  example:"SRV-001"`
	UnitID       *uint   `json:"unit_id"       example:"1"`
	ManagementID *uint   `json:"management_id"`
	HeadID       *uint   `json:"head_id"`
	ValidFrom    string  `json:"valid_from"    example:"1404-01-01"`
	ValidTo      *string `json:"valid_to"`
	IsCurrent    *bool   `json:"is_current"`
}

// parseRange turns jalali bounds into days. An empty start stays zero so the
// service reports it as missing.
func parseRange(from string, to *string) (time.Time, *time.Time, error) {
	var start time.Time
	if s := strings.TrimSpace(from); s != "" {
		d, err := jalali.Parse(s)
		if err != nil {
			return time.Time{}, nil, err
		}
		start = d.Time()
	}
	if to == nil || strings.TrimSpace(*to) == "" {
		return start, nil, nil
	}
	d, err := jalali.Parse(strings.TrimSpace(*to))
	if err != nil {
		return time.Time{}, nil, err
	}
	end := d.Time()
	return start, &end, nil
}

func (r TenureRequest) input() (services.TenureInput, error) {
	from, to, err := parseRange(r.ValidFrom, r.ValidTo)
	if err != nil {
		return services.TenureInput{}, err
	}
	return services.TenureInput{HeadID: r.HeadID, UnitID: r.UnitID, ValidFrom: from, ValidTo: to, IsCurrent: r.IsCurrent}, nil
}

func (r AssignmentRequest) input() (services.AssignmentInput, error) {
	from, to, err := parseRange(r.ValidFrom, r.ValidTo)
	if err != nil {
		return services.AssignmentInput{}, err
	}
	return services.AssignmentInput{
		ServiceCode:  strings.TrimSpace(r.ServiceCode),
		UnitID:       r.UnitID,
		ManagementID: r.ManagementID,
		HeadID:       r.HeadID,
		ValidFrom:    from,
		ValidTo:      to,
		IsCurrent:    r.IsCurrent,
	}, nil
}

// itemID parses :id and answers 400 when it is not a positive integer.
func itemID(c *gin.Context) (uint, bool) {
	id, good := pathID(c)
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
	}
	return id, good
}

// bindBody decodes the JSON body and answers 400 on failure.
func bindBody(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// created writes 201 with a Location header for the new item.
func created(c *gin.Context, id uint, body any) {
	c.Header("Location", strings.TrimSuffix(c.Request.URL.Path, "/")+"/"+formatUint(id))
	ok(c, http.StatusCreated, body)
}

//
// Managements
//

// ListManagements godoc
// @ID       listManagements
// @Summary  List managements
// @Tags     Org
// @Produce  json
// @Success  200  {array}  domain.Management
// @Router   /org/managements [get]
func (h *Handlers) ListManagements(c *gin.Context) {
	ms, err := h.svc.Org.ListManagements(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if ms == nil {
		ms = []domain.Management{}
	}
	ok(c, http.StatusOK, ms)
}

// GetManagement godoc
// @ID       getManagement
// @Summary  Get a management
// @Tags     Org
// @Produce  json
// @Param    id   path      int  true  "Management id"
// @Success  200  {object}  domain.Management
// @Failure  404  {object}  handlers.ErrorResponse "Not found"
// @Router   /org/managements/{id} [get]
func (h *Handlers) GetManagement(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	m, err := h.svc.Org.GetManagement(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// CreateManagement godoc
// @ID       createManagement
// @Summary  Create a management
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    body  body      handlers.ManagementRequest  true  "Management"
// @Success  201   {object}  domain.Management
// @Failure  400   {object}  handlers.ErrorResponse "Validation failed"
// @Failure  409   {object}  handlers.ErrorResponse "Duplicate name"
// @Router   /org/managements [post]
func (h *Handlers) CreateManagement(c *gin.Context) {
	var req ManagementRequest
	if !bindBody(c, &req) {
		return
	}
	m, err := h.svc.Org.CreateManagement(c.Request.Context(), actor(c), req.Name)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	created(c, m.ID, m)
}

// UpdateManagement godoc
// @ID       updateManagement
// @Summary  Rename a management
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    id    path      int  true  "Management id"
// @Param    body  body      handlers.ManagementRequest  true  "Management"
// @Success  200   {object}  domain.Management
// @Failure  404   {object}  handlers.ErrorResponse "Not found"
// @Router   /org/managements/{id} [put]
func (h *Handlers) UpdateManagement(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	var req ManagementRequest
	if !bindBody(c, &req) {
		return
	}
	m, err := h.svc.Org.UpdateManagement(c.Request.Context(), actor(c), id, req.Name)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteManagement godoc
// @ID       deleteManagement
// @Summary  Delete a management
// @Description Refused with 409 while units still belong to it.
// @Tags     Org
// @Param    id   path  int  true  "Management id"
// @Success  204  "No Content"
// @Failure  409  {object}  handlers.ErrorResponse "In use"
// @Router   /org/managements/{id} [delete]
func (h *Handlers) DeleteManagement(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	if err := h.svc.Org.DeleteManagement(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

//
// Units
//

// ListUnits godoc
// @ID       listUnits
// @Summary  List units
// @Tags     Org
// @Produce  json
// @Param    management_id  query  int  false "Only units of this management"
// @Success  200  {array}  domain.Unit
// @Router   /org/units [get]
func (h *Handlers) ListUnits(c *gin.Context) {
	mid, good := optionalUint(c, "management_id")
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "management_id must be a positive integer")
		return
	}
	us, err := h.svc.Org.ListUnits(c.Request.Context(), mid)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if us == nil {
		us = []domain.Unit{}
	}
	ok(c, http.StatusOK, us)
}

// GetUnit godoc
// @ID       getUnit
// @Summary  Get a unit
// @Tags     Org
// @Produce  json
// @Param    id   path      int  true  "Unit id"
// @Success  200  {object}  domain.Unit
// @Failure  404  {object}  handlers.ErrorResponse "Not found"
// @Router   /org/units/{id} [get]
func (h *Handlers) GetUnit(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	u, err := h.svc.Org.GetUnit(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// CreateUnit godoc
// @ID       createUnit
// @Summary  Create a unit
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    body  body      handlers.UnitRequest  true  "Unit"
// @Success  201   {object}  domain.Unit
// @Failure  422   {object}  handlers.ErrorResponse "Unknown management"
// @Router   /org/units [post]
func (h *Handlers) CreateUnit(c *gin.Context) {
	var req UnitRequest
	if !bindBody(c, &req) {
		return
	}
	u, err := h.svc.Org.CreateUnit(c.Request.Context(), actor(c), services.UnitInput{ManagementID: req.ManagementID, Name: req.Name})
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	created(c, u.ID, u)
}

// UpdateUnit godoc
// @ID       updateUnit
// @Summary  Update a unit
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    id    path      int  true  "Unit id"
// @Param    body  body      handlers.UnitRequest  true  "Unit"
// @Success  200   {object}  domain.Unit
// @Router   /org/units/{id} [put]
func (h *Handlers) UpdateUnit(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	var req UnitRequest
	if !bindBody(c, &req) {
		return
	}
	u, err := h.svc.Org.UpdateUnit(c.Request.Context(), actor(c), id, services.UnitInput{ManagementID: req.ManagementID, Name: req.Name})
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// DeleteUnit godoc
// @ID       deleteUnit
// @Summary  Delete a unit
// @Tags     Org
// @Param    id   path  int  true  "Unit id"
// @Success  204  "No Content"
// @Failure  409  {object}  handlers.ErrorResponse "In use"
// @Router   /org/units/{id} [delete]
func (h *Handlers) DeleteUnit(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	if err := h.svc.Org.DeleteUnit(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

//
// Heads
//

// ListHeads godoc
// @ID       listHeads
// @Summary  List heads
// @Tags     Org
// @Produce  json
// @Success  200  {array}  domain.Head
// @Router   /org/heads [get]
func (h *Handlers) ListHeads(c *gin.Context) {
	hs, err := h.svc.Org.ListHeads(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if hs == nil {
		hs = []domain.Head{}
	}
	ok(c, http.StatusOK, hs)
}

// GetHead godoc
// @ID       getHead
// @Summary  Get a head
// @Tags     Org
// @Produce  json
// @Param    id   path      int  true  "Head id"
// @Success  200  {object}  domain.Head
// @Failure  404  {object}  handlers.ErrorResponse "Not found"
// @Router   /org/heads/{id} [get]
func (h *Handlers) GetHead(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	hd, err := h.svc.Org.GetHead(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, hd)
}

// CreateHead godoc
// @ID       createHead
// @Summary  Create a head
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    body  body      handlers.HeadRequest  true  "Head"
// @Success  201   {object}  domain.Head
// @Router   /org/heads [post]
func (h *Handlers) CreateHead(c *gin.Context) {
	var req HeadRequest
	if !bindBody(c, &req) {
		return
	}
	hd, err := h.svc.Org.CreateHead(c.Request.Context(), actor(c), services.HeadInput{FullName: req.FullName, Phone: req.Phone})
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	created(c, hd.ID, hd)
}

// UpdateHead godoc
// @ID       updateHead
// @Summary  Update a head
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    id    path      int  true  "Head id"
// @Param    body  body      handlers.HeadRequest  true  "Head"
// @Success  200   {object}  domain.Head
// @Router   /org/heads/{id} [put]
func (h *Handlers) UpdateHead(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	var req HeadRequest
	if !bindBody(c, &req) {
		return
	}
	hd, err := h.svc.Org.UpdateHead(c.Request.Context(), actor(c), id, services.HeadInput{FullName: req.FullName, Phone: req.Phone})
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, hd)
}

// DeleteHead godoc
// @ID       deleteHead
// @Summary  Delete a head
// @Tags     Org
// @Param    id   path  int  true  "Head id"
// @Success  204  "No Content"
// @Failure  409  {object}  handlers.ErrorResponse "In use"
// @Router   /org/heads/{id} [delete]
func (h *Handlers) DeleteHead(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	if err := h.svc.Org.DeleteHead(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

//
// Tenures
//

// ListTenures godoc
// @ID       listTenures
// @Summary  List head tenures
// @Tags     Org
// @Produce  json
// @Param    unit_id  query  int  false "Only tenures of this unit"
// @Param    head_id  query  int  false "Only tenures of this head"
// @Success  200  {array}  domain.HeadTenure
// @Router   /org/tenure [get]
func (h *Handlers) ListTenures(c *gin.Context) {
	unit, good := optionalUint(c, "unit_id")
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unit_id must be a positive integer")
		return
	}
	head, good := optionalUint(c, "head_id")
	if !good {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "head_id must be a positive integer")
		return
	}
	ts, err := h.svc.Org.ListTenures(c.Request.Context(), unit, head)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if ts == nil {
		ts = []domain.HeadTenure{}
	}
	ok(c, http.StatusOK, ts)
}

// GetTenure godoc
// @ID       getTenure
// @Summary  Get a head tenure
// @Tags     Org
// @Produce  json
// @Param    id   path      int  true  "Tenure id"
// @Success  200  {object}  domain.HeadTenure
// @Failure  404  {object}  handlers.ErrorResponse "Not found"
// @Router   /org/tenure/{id} [get]
func (h *Handlers) GetTenure(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	t, err := h.svc.Org.GetTenure(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, t)
}

// CreateTenure godoc
// @ID          createTenure
// @Summary     Create a head tenure
// @Description Refused with 400 when it overlaps another tenure of the same head and unit.
// @Tags        Org
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.TenureRequest  true  "Tenure"
// @Success     201   {object}  domain.HeadTenure
// @Failure     400   {object}  handlers.ErrorResponse "Validation failed or overlap"
// @Router      /org/tenure [post]
func (h *Handlers) CreateTenure(c *gin.Context) {
	var req TenureRequest
	if !bindBody(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	t, err := h.svc.Org.CreateTenure(c.Request.Context(), actor(c), in)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	created(c, t.ID, t)
}

// UpdateTenure godoc
// @ID       updateTenure
// @Summary  Update a head tenure
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    id    path      int  true  "Tenure id"
// @Param    body  body      handlers.TenureRequest  true  "Tenure"
// @Success  200   {object}  domain.HeadTenure
// @Failure  400   {object}  handlers.ErrorResponse "Overlap"
// @Router   /org/tenure/{id} [put]
func (h *Handlers) UpdateTenure(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	var req TenureRequest
	if !bindBody(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	t, err := h.svc.Org.UpdateTenure(c.Request.Context(), actor(c), id, in)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, t)
}

// DeleteTenure godoc
// @ID       deleteTenure
// @Summary  Delete a head tenure
// @Tags     Org
// @Param    id   path  int  true  "Tenure id"
// @Success  204  "No Content"
// @Router   /org/tenure/{id} [delete]
func (h *Handlers) DeleteTenure(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	if err := h.svc.Org.DeleteTenure(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

//
// Service assignments
//

// ListAssignments godoc
// @ID       listAssignments
// @Summary  List service assignments
// @Tags     Org
// @Produce  json
// @Param    service_code  query  string  false "Only assignments of this service"
// @Success  200  {array}  domain.ServiceAssignment
// @Router   /org/service-assignment [get]
func (h *Handlers) ListAssignments(c *gin.Context) {
	as, err := h.svc.Org.ListAssignments(c.Request.Context(), strings.TrimSpace(c.Query("service_code")))
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	if as == nil {
		as = []domain.ServiceAssignment{}
	}
	ok(c, http.StatusOK, as)
}

// GetAssignment godoc
// @ID       getAssignment
// @Summary  Get a service assignment
// @Tags     Org
// @Produce  json
// @Param    id   path      int  true  "Assignment id"
// @Success  200  {object}  domain.ServiceAssignment
// @Failure  404  {object}  handlers.ErrorResponse "Not found"
// @Router   /org/service-assignment/{id} [get]
func (h *Handlers) GetAssignment(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	a, err := h.svc.Org.GetAssignment(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, a)
}

// CreateAssignment godoc
// @ID          createAssignment
// @Summary     Create a service assignment
// @Description Refused with 400 when it overlaps another assignment of the same service and unit.
// @Tags        Org
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.AssignmentRequest  true  "Assignment"
// @Success     201   {object}  domain.ServiceAssignment
// @Failure     400   {object}  handlers.ErrorResponse "Validation failed or overlap"
// @Router      /org/service-assignment [post]
func (h *Handlers) CreateAssignment(c *gin.Context) {
	var req AssignmentRequest
	if !bindBody(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	a, err := h.svc.Org.CreateAssignment(c.Request.Context(), actor(c), in)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	created(c, a.ID, a)
}

// UpdateAssignment godoc
// @ID       updateAssignment
// @Summary  Update a service assignment
// @Tags     Org
// @Accept   json
// @Produce  json
// @Param    id    path      int  true  "Assignment id"
// @Param    body  body      handlers.AssignmentRequest  true  "Assignment"
// @Success  200   {object}  domain.ServiceAssignment
// @Failure  400   {object}  handlers.ErrorResponse "Overlap"
// @Router   /org/service-assignment/{id} [put]
func (h *Handlers) UpdateAssignment(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	var req AssignmentRequest
	if !bindBody(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	a, err := h.svc.Org.UpdateAssignment(c.Request.Context(), actor(c), id, in)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteAssignment godoc
// @ID       deleteAssignment
// @Summary  Delete a service assignment
// @Tags     Org
// @Param    id   path  int  true  "Assignment id"
// @Success  204  "No Content"
// @Router   /org/service-assignment/{id} [delete]
func (h *Handlers) DeleteAssignment(c *gin.Context) {
	id, good := itemID(c)
	if !good {
		return
	}
	if err := h.svc.Org.DeleteAssignment(c.Request.Context(), actor(c), id); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
