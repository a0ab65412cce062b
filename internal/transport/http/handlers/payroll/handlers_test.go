package payrollhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type fakeService struct {
	runs      map[string]payroll.Run
	approvals int
	periods   []time.Time
	syncs     []bool
}

func newFake() *fakeService {
	return &fakeService{runs: map[string]payroll.Run{
		"r1": {ID: "r1", CompanyID: "c1", Status: payroll.RunStatusCompleted, Period: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)},
		"r2": {ID: "r2", CompanyID: "c1", Status: payroll.RunStatusApproved, Period: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}}
}

func (f *fakeService) List(_ context.Context, companyID string, _, _ int) ([]payroll.Run, int, error) {
	var out []payroll.Run
	for _, run := range f.runs {
		if run.CompanyID == companyID {
			out = append(out, run)
		}
	}
	return out, len(out), nil
}

func (f *fakeService) Get(_ context.Context, companyID, runID string) (payroll.Run, error) {
	run, ok := f.runs[runID]
	if !ok || run.CompanyID != companyID {
		return payroll.Run{}, payroll.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeService) Results(ctx context.Context, companyID, runID string) ([]payroll.ResultRow, error) {
	if _, err := f.Get(ctx, companyID, runID); err != nil {
		return nil, err
	}
	return []payroll.ResultRow{{StaffID: "s1", StaffName: "Aline Uwase", BankName: "BK", BankAccount: "000400012345"}}, nil
}

func (f *fakeService) Summary(ctx context.Context, companyID, runID string) (payroll.Summary, error) {
	run, err := f.Get(ctx, companyID, runID)
	if err != nil {
		return payroll.Summary{}, err
	}
	return payroll.Summary{RunID: run.ID, Status: run.Status, StaffCount: 1, TotalNet: decimal.NewFromInt(251000)}, nil
}

func (f *fakeService) CreateRun(_ context.Context, _ audit.Actor, companyID string, period time.Time, sync bool) (payroll.Run, error) {
	f.periods = append(f.periods, period)
	f.syncs = append(f.syncs, sync)
	for _, run := range f.runs {
		if run.CompanyID == companyID && run.Period.Equal(period) {
			return payroll.Run{}, payroll.ErrRunExists
		}
	}
	status := payroll.RunStatusProcessing
	if sync {
		status = payroll.RunStatusCompleted
	}
	run := payroll.Run{ID: "r3", CompanyID: companyID, Period: period, Status: status}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeService) Recalculate(ctx context.Context, _ audit.Actor, companyID, runID string, sync bool) (payroll.Run, error) {
	run, err := f.Get(ctx, companyID, runID)
	if err != nil {
		return payroll.Run{}, err
	}
	if !run.Editable() {
		return payroll.Run{}, payroll.ErrRunNotEditable
	}
	if !sync {
		run.Status = payroll.RunStatusProcessing
	}
	return run, nil
}

func (f *fakeService) Approve(ctx context.Context, _ audit.Actor, companyID, runID string) (payroll.Run, error) {
	run, err := f.Get(ctx, companyID, runID)
	if err != nil {
		return payroll.Run{}, err
	}
	if run.Status == payroll.RunStatusApproved {
		return run, nil
	}
	if run.Status != payroll.RunStatusCompleted {
		return payroll.Run{}, payroll.ErrApproveInvalidState
	}
	f.approvals++
	run.Status = payroll.RunStatusApproved
	f.runs[runID] = run
	return run, nil
}

func (f *fakeService) Reject(ctx context.Context, _ audit.Actor, companyID, runID, reason string) (payroll.Run, error) {
	run, err := f.Get(ctx, companyID, runID)
	if err != nil {
		return payroll.Run{}, err
	}
	if run.Status != payroll.RunStatusCompleted {
		return payroll.Run{}, payroll.ErrRejectInvalidState
	}
	run.Status, run.RejectionReason = payroll.RunStatusRejected, reason
	f.runs[runID] = run
	return run, nil
}

func (f *fakeService) Export(ctx context.Context, companyID, runID, format string) (payroll.Export, error) {
	if _, err := f.Get(ctx, companyID, runID); err != nil {
		return payroll.Export{}, err
	}
	switch format {
	case payroll.ExportFormatCSV, "":
		return payroll.Export{Filename: "payroll-2026-02.csv", ContentType: "text/csv", Data: []byte("staff_number\nE-001\n")}, nil
	case payroll.ExportFormatXLSX:
		return payroll.Export{Filename: "payroll-2026-02.xlsx", ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: []byte("PK")}, nil
	}
	return payroll.Export{}, payroll.ErrUnsupportedExport
}

func (f *fakeService) Payslip(ctx context.Context, companyID, runID, staffID string) ([]byte, error) {
	if _, err := f.Get(ctx, companyID, runID); err != nil {
		return nil, err
	}
	if staffID != "s1" {
		return nil, payroll.ErrResultNotFound
	}
	return []byte("%PDF-1.3"), nil
}

type memoryKeys struct {
	mu    sync.Mutex
	saved map[string]json.RawMessage
}

func (m *memoryKeys) Check(_ context.Context, companyID, userID, endpoint, key, hash string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.saved[companyID+userID+endpoint+key+hash]
	return body, ok, nil
}

func (m *memoryKeys) Save(_ context.Context, companyID, userID, endpoint, key, hash string, body json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]json.RawMessage{}
	}
	m.saved[companyID+userID+endpoint+key+hash] = body
	return nil
}

var (
	officer = auth.UserContext{UserID: "o1", CompanyID: "c1", Role: auth.RolePayrollOfficer}
	admin   = auth.UserContext{UserID: "a1", CompanyID: "c1", Role: auth.RoleCompanyAdmin}
	viewer  = auth.UserContext{UserID: "v1", CompanyID: "c1", Role: auth.RoleViewer}
)

func router(svc *fakeService, user auth.UserContext) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), user)))
		})
	})
	NewHandler(svc, auth.NewStaticPermissions(), &memoryKeys{}).RegisterRoutes(r)
	return r
}

func send(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestCreateRun(t *testing.T) {
	svc := newFake()
	h := router(svc, officer)

	rec := send(t, h, http.MethodPost, "/payroll/runs", map[string]string{"period": "2026-03"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), svc.periods[0])
	assert.False(t, svc.syncs[0])

	delete(svc.runs, "r3")
	rec = send(t, h, http.MethodPost, "/payroll/runs?sync=true", map[string]string{"period": "2026-03-17"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), svc.periods[1])
	assert.True(t, svc.syncs[1])

	rec = send(t, h, http.MethodPost, "/payroll/runs", map[string]string{"period": "2026-02"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run_exists", errorCode(t, rec))

	rec = send(t, h, http.MethodPost, "/payroll/runs", map[string]string{"period": "March"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))

	rec = send(t, router(svc, viewer), http.MethodPost, "/payroll/runs", map[string]string{"period": "2026-04"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListRunsForSelectedCompany(t *testing.T) {
	root := auth.UserContext{UserID: "root", Role: auth.RoleSystemAdmin}
	rec := send(t, router(newFake(), root), http.MethodGet, "/payroll/runs", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, router(newFake(), root), http.MethodGet, "/payroll/runs", nil, map[string]string{shared.CompanyHeader: "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))

	other := auth.UserContext{UserID: "x", CompanyID: "c2", Role: auth.RoleCompanyAdmin}
	rec = send(t, router(newFake(), other), http.MethodGet, "/payroll/runs/r1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsHideBankAccountWithoutSensitiveAccess(t *testing.T) {
	svc := newFake()

	rec := send(t, router(svc, admin), http.MethodGet, "/payroll/runs/r1/results", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "000400012345")

	rec = send(t, router(svc, viewer), http.MethodGet, "/payroll/runs/r1/results", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "000400012345")
}

func TestApproveRequiresIdempotencyKeyAndReplays(t *testing.T) {
	svc := newFake()
	h := router(svc, admin)

	rec := send(t, h, http.MethodPost, "/payroll/runs/r1/approve", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "idempotency_key_required", errorCode(t, rec))

	key := map[string]string{middleware.IdempotencyHeader: "approve-r1"}
	rec = send(t, h, http.MethodPost, "/payroll/runs/r1/approve", nil, key)
	require.Equal(t, http.StatusOK, rec.Code)
	first := rec.Body.String()

	rec = send(t, h, http.MethodPost, "/payroll/runs/r1/approve", nil, key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first, rec.Body.String())
	assert.Equal(t, 1, svc.approvals)

	rec = send(t, router(svc, officer), http.MethodPost, "/payroll/runs/r1/approve", nil, key)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveConflicts(t *testing.T) {
	svc := newFake()
	svc.runs["r4"] = payroll.Run{ID: "r4", CompanyID: "c1", Status: payroll.RunStatusProcessing}

	rec := send(t, router(svc, admin), http.MethodPost, "/payroll/runs/r4/approve", nil, map[string]string{middleware.IdempotencyHeader: "k"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", errorCode(t, rec))
}

func TestRejectAndRecalculate(t *testing.T) {
	svc := newFake()
	h := router(svc, admin)

	rec := send(t, h, http.MethodPost, "/payroll/runs/r1/reject", map[string]string{"reason": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, h, http.MethodPost, "/payroll/runs/r1/reject", map[string]string{"reason": "overtime missing"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "overtime missing", svc.runs["r1"].RejectionReason)

	rec = send(t, h, http.MethodPost, "/payroll/runs/r1/recalculate", nil, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = send(t, h, http.MethodPost, "/payroll/runs/r1/recalculate?sync=true", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(t, h, http.MethodPost, "/payroll/runs/r2/recalculate", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run_not_editable", errorCode(t, rec))
}

func TestExportAndPayslip(t *testing.T) {
	h := router(newFake(), officer)

	rec := send(t, h, http.MethodGet, "/payroll/runs/r1/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payroll-2026-02.csv")

	rec = send(t, h, http.MethodGet, "/payroll/runs/r1/export?format=XLSX", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	rec = send(t, h, http.MethodGet, "/payroll/runs/r1/export?format=pdf", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, h, http.MethodGet, "/payroll/runs/r1/payslips/s1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.3", rec.Body.String())

	rec = send(t, h, http.MethodGet, "/payroll/runs/r1/payslips/s9", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
