package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/jalali"
	"github.com/tbourn/perfmon-backend/internal/services"
	"github.com/tbourn/perfmon-backend/internal/temporal"
)

type fakeOrg struct {
	OrgService
	tenure services.TenureInput
}

func (f *fakeOrg) CreateTenure(_ context.Context, _ string, in services.TenureInput) (*domain.HeadTenure, error) {
	if in.HeadID == 9 {
		return nil, temporal.ErrOverlapConflict
	}
	f.tenure = in
	return &domain.HeadTenure{ID: 12, HeadID: in.HeadID, UnitID: in.UnitID, ValidFrom: in.ValidFrom, ValidTo: in.ValidTo}, nil
}

func (f *fakeOrg) CreateManagement(_ context.Context, _ string, name string) (*domain.Management, error) {
	if strings.TrimSpace(name) == "" {
		return nil, services.ErrEmptyName
	}
	return &domain.Management{ID: 4, Name: name}, nil
}

func (f *fakeOrg) DeleteManagement(_ context.Context, _ string, id uint) error {
	if id == 1 {
		return services.ErrInUse
	}
	return nil
}

func (f *fakeOrg) ListUnits(_ context.Context, _ *uint) ([]domain.Unit, error) { return nil, nil }

func mountOrg(r *gin.Engine, h *Handlers) {
	r.POST("/org/managements", h.CreateManagement)
	r.DELETE("/org/managements/:id", h.DeleteManagement)
	r.GET("/org/units", h.ListUnits)
	r.POST("/org/tenure", h.CreateTenure)
}

var jsonHeader = map[string]string{"Content-Type": "application/json"}

func TestCreateTenure_ParsesJalaliDates(t *testing.T) {
	org := &fakeOrg{}
	r := newTestRouter(mountOrg, Services{Org: org})

	w := do(r, http.MethodPost, "/org/tenure",
		strings.NewReader(`{"head_id":1,"unit_id":2,"valid_from":"1404-01-01","valid_to":"1404-06-31"}`), jsonHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "/org/tenure/12" {
		t.Fatalf("location=%q", got)
	}
	if !org.tenure.ValidFrom.Equal(jalali.MustParse("1404-01-01").Time()) {
		t.Fatalf("valid_from=%v", org.tenure.ValidFrom)
	}
	if org.tenure.ValidTo == nil || !org.tenure.ValidTo.Equal(jalali.MustParse("1404-06-31").Time()) {
		t.Fatalf("valid_to=%v", org.tenure.ValidTo)
	}
}

func TestCreateTenure_OverlapIsBadRequest(t *testing.T) {
	r := newTestRouter(mountOrg, Services{Org: &fakeOrg{}})

	w := do(r, http.MethodPost, "/org/tenure",
		strings.NewReader(`{"head_id":9,"unit_id":2,"valid_from":"1404-01-01"}`), jsonHeader)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	er := decodeError(t, w)
	if er.Code != ErrCodeOverlap || er.Message != temporal.OverlapMessage {
		t.Fatalf("body=%+v", er)
	}
	if er.RequestID == "" {
		t.Fatalf("request id missing")
	}
}

func TestCreateTenure_BadDate(t *testing.T) {
	r := newTestRouter(mountOrg, Services{Org: &fakeOrg{}})
	w := do(r, http.MethodPost, "/org/tenure",
		strings.NewReader(`{"head_id":1,"unit_id":2,"valid_from":"1404-02-32"}`), jsonHeader)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeValidation {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestManagements_ValidationAndInUse(t *testing.T) {
	r := newTestRouter(mountOrg, Services{Org: &fakeOrg{}})

	w := do(r, http.MethodPost, "/org/managements", strings.NewReader(`{"name":"  "}`), jsonHeader)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeValidation {
		t.Fatalf("empty name status=%d", w.Code)
	}

	w = do(r, http.MethodPost, "/org/managements", strings.NewReader(`{"name":"Ops"`), jsonHeader)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}

	w = do(r, http.MethodDelete, "/org/managements/1", nil, nil)
	if w.Code != http.StatusConflict || decodeError(t, w).Code != ErrCodeInUse {
		t.Fatalf("in use status=%d", w.Code)
	}

	w = do(r, http.MethodDelete, "/org/managements/2", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
}

func TestListUnits_EmptyIsArray(t *testing.T) {
	r := newTestRouter(mountOrg, Services{Org: &fakeOrg{}})

	w := do(r, http.MethodGet, "/org/units", nil, nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/org/units?management_id=-1", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status=%d", w.Code)
	}
}
