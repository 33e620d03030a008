package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/perfmon-backend/internal/domain"
	"github.com/tbourn/perfmon-backend/internal/http/middleware"
	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/services"
)

// Fakes embed the interface they stand in for; calling a method a test did
// not provide panics, which surfaces unexpected calls.

type fakeImport struct {
	ImportService
	calls int
	run   func(req services.ImportRequest) (*importer.Report, error)
}

func (f *fakeImport) Run(_ context.Context, req services.ImportRequest) (*importer.Report, error) {
	f.calls++
	return f.run(req)
}

func (f *fakeImport) Template(domain, format string) ([]byte, string, error) {
	switch {
	case domain != "services":
		return nil, "", importer.ErrUnknownDomain
	case format == importer.FormatCSV:
		return []byte("code,name\n"), importer.ContentTypeCSV, nil
	default:
		return nil, "", importer.ErrUnsupportedFormat
	}
}

type fakeTriggers struct {
	TriggerService
	items      []repo.TriggerView
	count      int64
	maxTS      *time.Time
	lastFilter repo.TriggerFilter
	transition func(to string) (*domain.Trigger, error)
}

func (f *fakeTriggers) Stats(_ context.Context, fl repo.TriggerFilter) (int64, *time.Time, error) {
	return f.count, f.maxTS, nil
}

func (f *fakeTriggers) ListPage(_ context.Context, fl repo.TriggerFilter, page, pageSize int) ([]repo.TriggerView, int64, error) {
	f.lastFilter = fl
	return f.items, f.count, nil
}

func (f *fakeTriggers) Get(_ context.Context, id uint) (*repo.TriggerView, error) {
	for i := range f.items {
		if f.items[i].ID == id {
			return &f.items[i], nil
		}
	}
	return nil, services.ErrNotFound
}

func (f *fakeTriggers) Transition(_ context.Context, _ string, _ uint, to string) (*domain.Trigger, error) {
	return f.transition(to)
}

type fakeIdem struct {
	records map[string][]byte
	saves   int
}

func (f *fakeIdem) Lookup(_ context.Context, actor, scope, key string) (int, []byte, bool, error) {
	b, ok := f.records[actor+"|"+scope+"|"+key]
	if !ok {
		return 0, nil, false, nil
	}
	return http.StatusOK, b, true, nil
}

func (f *fakeIdem) Save(_ context.Context, actor, scope, key string, _ int, body []byte) error {
	if f.records == nil {
		f.records = map[string][]byte{}
	}
	f.saves++
	f.records[actor+"|"+scope+"|"+key] = body
	return nil
}

// newTestRouter mounts h behind the request id and idempotency middleware,
// the same pair the real router runs before handlers.
func newTestRouter(mount func(r *gin.Engine, h *Handlers), svc Services) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	mount(r, New(svc))
	return r
}

func do(r http.Handler, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}
