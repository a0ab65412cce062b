package payrollhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Service interface {
	List(ctx context.Context, companyID string, limit, offset int) ([]payroll.Run, int, error)
	Get(ctx context.Context, companyID, runID string) (payroll.Run, error)
	Results(ctx context.Context, companyID, runID string) ([]payroll.ResultRow, error)
	Summary(ctx context.Context, companyID, runID string) (payroll.Summary, error)
	CreateRun(ctx context.Context, actor audit.Actor, companyID string, period time.Time, sync bool) (payroll.Run, error)
	Recalculate(ctx context.Context, actor audit.Actor, companyID, runID string, sync bool) (payroll.Run, error)
	Approve(ctx context.Context, actor audit.Actor, companyID, runID string) (payroll.Run, error)
	Reject(ctx context.Context, actor audit.Actor, companyID, runID, reason string) (payroll.Run, error)
	Export(ctx context.Context, companyID, runID, format string) (payroll.Export, error)
	Payslip(ctx context.Context, companyID, runID, staffID string) ([]byte, error)
}

type Handler struct {
	Service     Service
	Perms       middleware.PermissionStore
	Idempotency middleware.IdempotencyKeys
}

func NewHandler(service Service, perms middleware.PermissionStore, keys middleware.IdempotencyKeys) *Handler {
	return &Handler{Service: service, Perms: perms, Idempotency: keys}
}

type createRunRequest struct {
	Period string `json:"period" validate:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payroll/runs", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/", h.handleCreate)
		r.Route("/{runID}", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/", h.handleGet)
			r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/results", h.handleResults)
			r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/summary", h.handleSummary)
			r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/export", h.handleExport)
			r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/payslips/{staffID}", h.handlePayslip)
			r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/recalculate", h.handleRecalculate)
			r.With(
				middleware.RequirePermission(auth.PermPayrollApprove, h.Perms),
				middleware.RequireIdempotencyKey(h.Idempotency),
			).Post("/approve", h.handleApprove)
			r.With(middleware.RequirePermission(auth.PermPayrollApprove, h.Perms)).Post("/reject", h.handleReject)
		})
	})
}

// parsePeriod accepts YYYY-MM or a full date inside the month.
func parsePeriod(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01", raw); err == nil {
		return t, nil
	}
	t, err := shared.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	return payroll.PeriodStart(t), nil
}

func syncRequested(r *http.Request) bool {
	sync, _ := strconv.ParseBool(r.URL.Query().Get("sync"))
	return sync
}

// runStatus is 202 while the run is still being calculated.
func runStatus(run payroll.Run, done int) int {
	if run.Status == payroll.RunStatusProcessing {
		return http.StatusAccepted
	}
	return done
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	page := shared.ParsePagination(r, 24, 120)
	runs, total, err := h.Service.List(r.Context(), companyID, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "payroll_list_failed", "failed to list payroll runs", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, runs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	var payload createRunRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	period, err := parsePeriod(payload.Period)
	if payload.Period != "" && err != nil {
		v.Add("period", "must be a month in YYYY-MM format")
	}
	if v.Reject(w, requestID) {
		return
	}

	run, err := h.Service.CreateRun(r.Context(), shared.Actor(r, user), companyID, period, syncRequested(r))
	if err != nil {
		writeError(w, r, err, "payroll_run_failed", "failed to start payroll run")
		return
	}
	api.WriteJSON(w, runStatus(run, http.StatusCreated), api.Envelope{Success: true, Data: run, RequestID: requestID})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	run, err := h.Service.Get(r.Context(), companyID, chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err, "payroll_lookup_failed", "failed to load payroll run")
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	rows, err := h.Service.Results(r.Context(), companyID, chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err, "payroll_results_failed", "failed to load payroll results")
		return
	}
	if allowed, _ := h.Perms.HasPermission(r.Context(), user.Role, auth.PermStaffSensitive); !allowed {
		for i := range rows {
			rows[i].BankAccount = ""
		}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(rows)))
	api.Success(w, rows, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	summary, err := h.Service.Summary(r.Context(), companyID, chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err, "payroll_summary_failed", "failed to summarise payroll run")
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	run, err := h.Service.Recalculate(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "runID"), syncRequested(r))
	if err != nil {
		writeError(w, r, err, "payroll_recalculate_failed", "failed to recalculate payroll run")
		return
	}
	api.WriteJSON(w, runStatus(run, http.StatusOK), api.Envelope{Success: true, Data: run, RequestID: middleware.GetRequestID(r.Context())})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	run, err := h.Service.Approve(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err, "payroll_approve_failed", "failed to approve payroll run")
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	var payload rejectRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	payload.Reason = strings.TrimSpace(payload.Reason)
	v := shared.NewValidator()
	v.Struct(payload)
	if v.Reject(w, requestID) {
		return
	}
	run, err := h.Service.Reject(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "runID"), payload.Reason)
	if err != nil {
		writeError(w, r, err, "payroll_reject_failed", "failed to reject payroll run")
		return
	}
	api.Success(w, run, requestID)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	out, err := h.Service.Export(r.Context(), companyID, chi.URLParam(r, "runID"), format)
	if err != nil {
		writeError(w, r, err, "payroll_export_failed", "failed to export payroll run")
		return
	}
	writeFile(w, r, out.ContentType, out.Filename, out.Data)
}

func (h *Handler) handlePayslip(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	runID, staffID := chi.URLParam(r, "runID"), chi.URLParam(r, "staffID")
	pdf, err := h.Service.Payslip(r.Context(), companyID, runID, staffID)
	if err != nil {
		writeError(w, r, err, "payslip_failed", "failed to render payslip")
		return
	}
	writeFile(w, r, "application/pdf", "payslip-"+staffID+".pdf", pdf)
}

func writeFile(w http.ResponseWriter, r *http.Request, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Warn("file write failed", "err", err, "requestId", middleware.GetRequestID(r.Context()))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, payroll.ErrRunNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payroll run not found", requestID)
	case errors.Is(err, payroll.ErrResultNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payroll result not found", requestID)
	case errors.Is(err, payroll.ErrRunExists):
		api.Fail(w, http.StatusConflict, "run_exists", "a payroll run already exists for this period", requestID)
	case errors.Is(err, payroll.ErrRunNotEditable):
		api.Fail(w, http.StatusConflict, "run_not_editable", "payroll run can no longer be recalculated", requestID)
	case errors.Is(err, payroll.ErrApproveInvalidState), errors.Is(err, payroll.ErrRejectInvalidState):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), requestID)
	case errors.Is(err, payroll.ErrApproveHasErrors):
		api.Fail(w, http.StatusConflict, "run_has_errors", "payroll run has rows in error", requestID)
	case errors.Is(err, payroll.ErrNoStaffForPayroll):
		api.Fail(w, http.StatusUnprocessableEntity, "no_staff", "the company has no active staff for this period", requestID)
	case errors.Is(err, payroll.ErrUnsupportedExport):
		api.Fail(w, http.StatusBadRequest, "unsupported_format", "format must be csv or xlsx", requestID)
	case errors.Is(err, payroll.ErrInvalidInput):
		api.Fail(w, http.StatusBadRequest, "invalid_input", err.Error(), requestID)
	default:
		api.Fail(w, http.StatusInternalServerError, code, message, requestID)
	}
}
