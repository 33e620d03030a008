package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/services"
)

func mountTriggers(r *gin.Engine, h *Handlers) {
	r.GET("/triggers", h.ListTriggers)
	r.GET("/triggers/:id", h.GetTrigger)
	r.PUT("/triggers/:id/status", h.UpdateTriggerStatus)
}

func sampleTriggers() *fakeTriggers {
	ts := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	return &fakeTriggers{
		items: []repo.TriggerView{
			{Trigger: domain.Trigger{ID: 7, Day: "1404-01-12", ServiceCode: "S1", Severity: domain.SeverityHigh, Status: domain.TriggerOpen}, ServiceName: "Svc"},
		},
		count: 41,
		maxTS: &ts,
	}
}

func TestListTriggers_FiltersAndPagination(t *testing.T) {
	ft := sampleTriggers()
	r := newTestRouter(mountTriggers, Services{Triggers: ft})

	w := do(r, http.MethodGet, "/triggers?status=open&severity=high&unit_id=3&from=1404-01-01&to=1404-01-31&page=2&page_size=20&updated=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListTriggersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Triggers) != 1 || resp.Triggers[0].ServiceName != "Svc" {
		t.Fatalf("triggers=%+v", resp.Triggers)
	}
	if resp.Pagination.Total != 41 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("pagination=%+v", resp.Pagination)
	}

	f := ft.lastFilter
	if f.Status != domain.TriggerOpen || f.Severity != domain.SeverityHigh || !f.UpdatedOnly {
		t.Fatalf("filter=%+v", f)
	}
	if f.UnitID == nil || *f.UnitID != 3 {
		t.Fatalf("unit filter=%v", f.UnitID)
	}
	if f.From == nil || !f.From.Equal(jalali.MustParse("1404-01-01").Time()) {
		t.Fatalf("from=%v", f.From)
	}
}

func TestListTriggers_BadFilters(t *testing.T) {
	r := newTestRouter(mountTriggers, Services{Triggers: sampleTriggers()})
	for _, q := range []string{"status=pending", "severity=medium", "unit_id=abc", "from=1404-13-01"} {
		w := do(r, http.MethodGet, "/triggers?"+q, nil, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", q, w.Code)
		}
	}
}

func TestListTriggers_ETagNotModified(t *testing.T) {
	r := newTestRouter(mountTriggers, Services{Triggers: sampleTriggers()})

	w := do(r, http.MethodGet, "/triggers?status=open", nil, nil)
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"triggers:`) {
		t.Fatalf("etag=%q", etag)
	}

	w = do(r, http.MethodGet, "/triggers?status=open", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("status=%d", w.Code)
	}

	// A different query is a different representation.
	w = do(r, http.MethodGet, "/triggers?status=closed", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("other query status=%d", w.Code)
	}
}

func TestGetTrigger(t *testing.T) {
	r := newTestRouter(mountTriggers, Services{Triggers: sampleTriggers()})

	if w := do(r, http.MethodGet, "/triggers/7", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/triggers/8", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/triggers/0", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("zero id status=%d", w.Code)
	}
}

func TestUpdateTriggerStatus(t *testing.T) {
	ft := sampleTriggers()
	ft.transition = func(to string) (*domain.Trigger, error) {
		if to == domain.TriggerOpen {
			return nil, services.ErrInvalidTransition
		}
		return &domain.Trigger{ID: 7, Status: to}, nil
	}
	r := newTestRouter(mountTriggers, Services{Triggers: ft})
	hdr := map[string]string{"Content-Type": "application/json"}

	w := do(r, http.MethodPut, "/triggers/7/status", strings.NewReader(`{"status":"closed"}`), hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"closed"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPut, "/triggers/7/status", strings.NewReader(`{"status":"open"}`), hdr)
	if w.Code != http.StatusConflict || decodeError(t, w).Code != ErrCodeInvalidTransition {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPut, "/triggers/7/status", strings.NewReader(`{"status":"archived"}`), hdr)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status=%d", w.Code)
	}
}

func Test_listETag_DependsOnInputs(t *testing.T) {
	a := listETag("status=open", 3, 100)
	if a != listETag("status=open", 3, 100) {
		t.Fatalf("not deterministic")
	}
	if a == listETag("status=open", 4, 100) || a == listETag("status=open", 3, 101) || a == listETag("", 3, 100) {
		t.Fatalf("etag ignores an input")
	}
}
