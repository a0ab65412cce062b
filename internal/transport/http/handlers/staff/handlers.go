package staffhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/staff"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

const maxImportBytes = 5 << 20

type Service interface {
	List(ctx context.Context, companyID string, filter staff.Filter, limit, offset int) ([]staff.Staff, int, error)
	Get(ctx context.Context, companyID, staffID string) (staff.Staff, error)
	Create(ctx context.Context, actor audit.Actor, companyID string, st staff.Staff) (staff.Staff, error)
	Update(ctx context.Context, actor audit.Actor, companyID, staffID string, st staff.Staff) (staff.Staff, error)
	Deactivate(ctx context.Context, actor audit.Actor, companyID, staffID string) (staff.Staff, error)
	ListPayments(ctx context.Context, companyID, staffID string) ([]staff.Payment, error)
	AddPayment(ctx context.Context, actor audit.Actor, companyID, staffID string, p staff.Payment) (staff.Payment, error)
	DeletePayment(ctx context.Context, actor audit.Actor, companyID, staffID, paymentID string) error
	ListDeductions(ctx context.Context, companyID, staffID string) ([]staff.Deduction, error)
	AddDeduction(ctx context.Context, actor audit.Actor, companyID, staffID string, d staff.Deduction) (staff.Deduction, error)
	DeleteDeduction(ctx context.Context, actor audit.Actor, companyID, staffID, deductionID string) error
	Import(ctx context.Context, actor audit.Actor, companyID, filename string, r io.Reader) (staff.ImportReport, error)
}

type Handler struct {
	Service Service
	Perms   middleware.PermissionStore
}

func NewHandler(service Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

type staffRequest struct {
	StaffNumber    string `json:"staffNumber" validate:"required,max=50"`
	FirstName      string `json:"firstName" validate:"required,max=100"`
	LastName       string `json:"lastName" validate:"required,max=100"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone" validate:"max=30"`
	NationalID     string `json:"nationalId" validate:"omitempty,numeric,len=16"`
	BankName       string `json:"bankName" validate:"max=100"`
	BankAccount    string `json:"bankAccount" validate:"max=50"`
	Department     string `json:"department" validate:"max=100"`
	Position       string `json:"position" validate:"max=100"`
	EmploymentType string `json:"employmentType" validate:"omitempty,oneof=permanent contract casual"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
}

type paymentRequest struct {
	Type   string          `json:"type" validate:"required,oneof=basic_pay transport_allowance housing_allowance bonus other_allowance"`
	Amount decimal.Decimal `json:"amount"`
}

type deductionRequest struct {
	Type               string          `json:"type" validate:"required,oneof=loan advance other"`
	Description        string          `json:"description" validate:"max=200"`
	OriginalAmount     decimal.Decimal `json:"originalAmount"`
	MonthlyInstallment decimal.Decimal `json:"monthlyInstallment"`
	RemainingBalance   decimal.Decimal `json:"remainingBalance"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermStaffRead, h.Perms)
	write := middleware.RequirePermission(auth.PermStaffWrite, h.Perms)
	r.Route("/staff", func(r chi.Router) {
		r.With(read).Get("/", h.handleList)
		r.With(write).Post("/", h.handleCreate)
		r.With(write).Post("/import", h.handleImport)
		r.Route("/{staffID}", func(r chi.Router) {
			r.With(read).Get("/", h.handleGet)
			r.With(write).Put("/", h.handleUpdate)
			r.With(write).Post("/deactivate", h.handleDeactivate)
			r.With(read).Get("/payments", h.handleListPayments)
			r.With(write).Post("/payments", h.handleAddPayment)
			r.With(write).Delete("/payments/{paymentID}", h.handleDeletePayment)
			r.With(read).Get("/deductions", h.handleListDeductions)
			r.With(write).Post("/deductions", h.handleAddDeduction)
			r.With(write).Delete("/deductions/{deductionID}", h.handleDeleteDeduction)
		})
	})
}

// present hides sensitive fields unless the caller's role may see them.
func (h *Handler) present(r *http.Request, user auth.UserContext, list ...*staff.Staff) {
	allowed, err := h.Perms.HasPermission(r.Context(), user.Role, auth.PermStaffSensitive)
	if err == nil && allowed {
		return
	}
	for _, st := range list {
		staff.RedactSensitive(st)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()
	filter := staff.Filter{
		Status:     strings.TrimSpace(q.Get("status")),
		Department: strings.TrimSpace(q.Get("department")),
		Search:     strings.TrimSpace(q.Get("q")),
	}
	v := shared.NewValidator()
	v.Enum("status", filter.Status, []string{staff.StatusActive, staff.StatusInactive}, "must be active or inactive")
	if v.Reject(w, requestID) {
		return
	}

	page := shared.ParsePagination(r, 50, 500)
	items, total, err := h.Service.List(r.Context(), companyID, filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "staff_list_failed", "failed to list staff", requestID)
		return
	}
	for i := range items {
		h.present(r, user, &items[i])
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, items, requestID)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	st, err := h.Service.Get(r.Context(), companyID, chi.URLParam(r, "staffID"))
	if err != nil {
		writeError(w, r, err, "staff_lookup_failed", "failed to load staff member")
		return
	}
	h.present(r, user, &st)
	api.Success(w, st, middleware.GetRequestID(r.Context()))
}

func (h *Handler) decodeStaff(w http.ResponseWriter, r *http.Request) (staff.Staff, bool) {
	var payload staffRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return staff.Staff{}, false
	}
	v := shared.NewValidator()
	v.Struct(payload)
	st := staff.Staff{
		StaffNumber:    strings.TrimSpace(payload.StaffNumber),
		FirstName:      strings.TrimSpace(payload.FirstName),
		LastName:       strings.TrimSpace(payload.LastName),
		Email:          strings.ToLower(strings.TrimSpace(payload.Email)),
		Phone:          strings.TrimSpace(payload.Phone),
		NationalID:     strings.TrimSpace(payload.NationalID),
		BankName:       strings.TrimSpace(payload.BankName),
		BankAccount:    strings.TrimSpace(payload.BankAccount),
		Department:     strings.TrimSpace(payload.Department),
		Position:       strings.TrimSpace(payload.Position),
		EmploymentType: payload.EmploymentType,
	}
	var start, end time.Time
	if strings.TrimSpace(payload.StartDate) != "" {
		if parsed, ok := v.Date("startDate", payload.StartDate); ok {
			start = parsed
			st.StartDate = &start
		}
	}
	if strings.TrimSpace(payload.EndDate) != "" {
		if parsed, ok := v.Date("endDate", payload.EndDate); ok {
			end = parsed
			st.EndDate = &end
		}
	}
	v.DateOrder("startDate", start, "endDate", end)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return staff.Staff{}, false
	}
	return st, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	st, ok := h.decodeStaff(w, r)
	if !ok {
		return
	}
	created, err := h.Service.Create(r.Context(), shared.Actor(r, user), companyID, st)
	if err != nil {
		writeError(w, r, err, "staff_create_failed", "failed to create staff member")
		return
	}
	h.present(r, user, &created)
	api.Created(w, created, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	st, ok := h.decodeStaff(w, r)
	if !ok {
		return
	}
	updated, err := h.Service.Update(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "staffID"), st)
	if err != nil {
		writeError(w, r, err, "staff_update_failed", "failed to update staff member")
		return
	}
	h.present(r, user, &updated)
	api.Success(w, updated, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	st, err := h.Service.Deactivate(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "staffID"))
	if err != nil {
		writeError(w, r, err, "staff_update_failed", "failed to deactivate staff member")
		return
	}
	h.present(r, user, &st)
	api.Success(w, st, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_upload", "expected a multipart upload with a file field", requestID)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_upload", "expected a multipart upload with a file field", requestID)
		return
	}
	defer file.Close()

	report, err := h.Service.Import(r.Context(), shared.Actor(r, user), companyID, filepath.Base(header.Filename), file)
	switch {
	case errors.Is(err, staff.ErrUnsupportedImport):
		api.Fail(w, http.StatusBadRequest, "unsupported_file", "upload a .csv or .xlsx file", requestID)
		return
	case errors.Is(err, staff.ErrEmptyImport):
		api.Fail(w, http.StatusBadRequest, "empty_file", "the file has no data rows", requestID)
		return
	case err != nil:
		slog.Warn("staff import failed", "err", err, "companyId", companyID)
		api.Fail(w, http.StatusBadRequest, "import_failed", "the file could not be read", requestID)
		return
	}
	api.Success(w, report, requestID)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	items, err := h.Service.ListPayments(r.Context(), companyID, chi.URLParam(r, "staffID"))
	if err != nil {
		writeError(w, r, err, "payment_list_failed", "failed to list payments")
		return
	}
	api.Success(w, items, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	var payload paymentRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	if payload.Amount.IsNegative() {
		v.Add("amount", "must not be negative")
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	p, err := h.Service.AddPayment(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "staffID"), staff.Payment{Type: payload.Type, Amount: payload.Amount})
	if err != nil {
		writeError(w, r, err, "payment_create_failed", "failed to add payment")
		return
	}
	api.Created(w, p, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	paymentID := chi.URLParam(r, "paymentID")
	if err := h.Service.DeletePayment(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "staffID"), paymentID); err != nil {
		writeError(w, r, err, "payment_delete_failed", "failed to delete payment")
		return
	}
	api.Success(w, map[string]string{"id": paymentID}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListDeductions(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	items, err := h.Service.ListDeductions(r.Context(), companyID, chi.URLParam(r, "staffID"))
	if err != nil {
		writeError(w, r, err, "deduction_list_failed", "failed to list deductions")
		return
	}
	api.Success(w, items, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleAddDeduction(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	var payload deductionRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	if !payload.OriginalAmount.IsPositive() {
		v.Add("originalAmount", "must be greater than zero")
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	d, err := h.Service.AddDeduction(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "staffID"), staff.Deduction{
		Type:               payload.Type,
		Description:        strings.TrimSpace(payload.Description),
		OriginalAmount:     payload.OriginalAmount,
		MonthlyInstallment: payload.MonthlyInstallment,
		RemainingBalance:   payload.RemainingBalance,
	})
	if err != nil {
		writeError(w, r, err, "deduction_create_failed", "failed to add deduction")
		return
	}
	api.Created(w, d, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteDeduction(w http.ResponseWriter, r *http.Request) {
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	deductionID := chi.URLParam(r, "deductionID")
	if err := h.Service.DeleteDeduction(r.Context(), shared.Actor(r, user), companyID, chi.URLParam(r, "staffID"), deductionID); err != nil {
		writeError(w, r, err, "deduction_delete_failed", "failed to delete deduction")
		return
	}
	api.Success(w, map[string]string{"id": deductionID}, middleware.GetRequestID(r.Context()))
}

func writeError(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, staff.ErrStaffNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "staff member not found", requestID)
	case errors.Is(err, staff.ErrPaymentNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payment not found", requestID)
	case errors.Is(err, staff.ErrDeductionNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "deduction not found", requestID)
	case errors.Is(err, staff.ErrStaffNumberTaken):
		api.Fail(w, http.StatusConflict, "staff_number_taken", "staff number already exists", requestID)
	case errors.Is(err, staff.ErrInvalidPaymentType), errors.Is(err, staff.ErrInvalidDeduction), errors.Is(err, staff.ErrNegativeAmount):
		api.Fail(w, http.StatusBadRequest, "invalid_request", err.Error(), requestID)
	default:
		slog.Error("staff request failed", "err", err, "code", code)
		api.Fail(w, http.StatusInternalServerError, code, message, requestID)
	}
}
