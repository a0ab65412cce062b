package taxhandler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/company"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/domain/tax"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Service interface {
	Current(ctx context.Context) tax.Configuration
	At(ctx context.Context, asOf time.Time) tax.Configuration
	List(ctx context.Context, limit, offset int) ([]tax.Configuration, int, error)
	Get(ctx context.Context, id string) (tax.Configuration, error)
	Create(ctx context.Context, actor audit.Actor, raw tax.RawConfiguration) (tax.Configuration, error)
}

type ExemptionSource interface {
	Exemptions(ctx context.Context, companyID string) (tax.Exemptions, error)
}

type Handler struct {
	Service   Service
	Companies ExemptionSource
	Perms     middleware.PermissionStore
}

func NewHandler(service Service, companies ExemptionSource, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Companies: companies, Perms: perms}
}

type configurationView struct {
	tax.Configuration
	IsDefault bool `json:"isDefault"`
}

type calculateRequest struct {
	payroll.CompensationInput
	Period string `json:"period"`
}

type calculateResponse struct {
	Period        string                    `json:"period"`
	Configuration configurationView         `json:"configuration"`
	Exemptions    tax.Exemptions            `json:"exemptions"`
	Result        payroll.Result            `json:"result"`
	Rounded       payroll.Result            `json:"rounded"`
	Input         payroll.CompensationInput `json:"input"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tax", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermTaxRead, h.Perms)).Get("/configurations", h.handleList)
		r.With(middleware.RequirePermission(auth.PermTaxWrite, h.Perms)).Post("/configurations", h.handleCreate)
		r.With(middleware.RequirePermission(auth.PermTaxRead, h.Perms)).Get("/configurations/current", h.handleCurrent)
		r.With(middleware.RequirePermission(auth.PermTaxRead, h.Perms)).Get("/configurations/{configID}", h.handleGet)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Post("/calculate", h.handleCalculate)
	})
}

func view(cfg tax.Configuration) configurationView {
	return configurationView{Configuration: cfg, IsDefault: cfg.IsDefault()}
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	cfg := h.Service.Current(r.Context())
	if raw := strings.TrimSpace(r.URL.Query().Get("asOf")); raw != "" {
		asOf, err := shared.ParseDate(raw)
		if err != nil {
			shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "asOf", Reason: "must be a valid date in YYYY-MM-DD format"}})
			return
		}
		cfg = h.Service.At(r.Context(), asOf)
	}
	api.Success(w, view(cfg), requestID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)
	items, total, err := h.Service.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "tax_list_failed", "failed to list tax configurations", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, items, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Service.Get(r.Context(), chi.URLParam(r, "configID"))
	if errors.Is(err, tax.ErrConfigurationNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "tax configuration not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "tax_lookup_failed", "failed to load tax configuration", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, view(cfg), middleware.GetRequestID(r.Context()))
}

// handleCreate accepts the document with camelCase, snake_case or spaced keys.
// Rates left out take the built-in defaults; brackets are all or nothing.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}
	raw, err := tax.DecodeRawConfiguration(body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_configuration", err.Error(), requestID)
		return
	}
	if raw.EffectiveDate == nil {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "effectiveDate", Reason: "is required"}})
		return
	}

	cfg, err := h.Service.Create(r.Context(), shared.Actor(r, user), raw)
	switch {
	case errors.Is(err, tax.ErrInvalidConfiguration):
		api.Fail(w, http.StatusBadRequest, "invalid_configuration", err.Error(), requestID)
		return
	case errors.Is(err, tax.ErrEffectiveDateTaken):
		api.Fail(w, http.StatusConflict, "effective_date_taken", err.Error(), requestID)
		return
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "tax_create_failed", "failed to create tax configuration", requestID)
		return
	}
	api.Created(w, view(cfg), requestID)
}

// handleCalculate previews one calculation with the caller's company
// exemptions. A system admin without a selected company gets every tax.
func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return
	}
	var payload calculateRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}

	period := payroll.PeriodStart(time.Now())
	if strings.TrimSpace(payload.Period) != "" {
		parsed, err := time.Parse("2006-01", strings.TrimSpace(payload.Period))
		if err != nil {
			shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "period", Reason: "must be a month in YYYY-MM format"}})
			return
		}
		period = parsed
	}

	companyID := user.CompanyID
	if user.IsSystemAdmin() {
		companyID = strings.TrimSpace(r.Header.Get(shared.CompanyHeader))
	}
	exemptions := tax.DefaultExemptions()
	if companyID != "" {
		found, err := h.Companies.Exemptions(r.Context(), companyID)
		if errors.Is(err, company.ErrCompanyNotFound) {
			api.Fail(w, http.StatusNotFound, "not_found", "company not found", requestID)
			return
		}
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "company_lookup_failed", "failed to load company exemptions", requestID)
			return
		}
		exemptions = found
	}

	cfg := h.Service.At(r.Context(), period)
	result := payroll.Calculate(payload.CompensationInput, cfg, exemptions)
	api.Success(w, calculateResponse{
		Period:        period.Format("2006-01"),
		Configuration: view(cfg),
		Exemptions:    exemptions,
		Result:        result,
		Rounded:       result.Rounded(),
		Input:         payload.CompensationInput,
	}, requestID)
}
