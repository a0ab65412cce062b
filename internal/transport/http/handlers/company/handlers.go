package companyhandler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/company"
	"hrpay/internal/domain/tax"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Service interface {
	List(ctx context.Context, limit, offset int) ([]company.Company, int, error)
	Get(ctx context.Context, id string) (company.Company, error)
	Create(ctx context.Context, actor audit.Actor, c company.Company, raw tax.RawExemptions) (company.Company, error)
	Update(ctx context.Context, actor audit.Actor, id string, c company.Company) (company.Company, error)
	UpdateExemptions(ctx context.Context, actor audit.Actor, id string, raw tax.RawExemptions) (tax.Exemptions, error)
}

type Handler struct {
	Service Service
	Perms   middleware.PermissionStore
}

func NewHandler(service Service, perms middleware.PermissionStore) *Handler {
	return &Handler{Service: service, Perms: perms}
}

type companyRequest struct {
	Name       string             `json:"name" validate:"required,max=200"`
	TIN        string             `json:"tin" validate:"omitempty,numeric,len=9"`
	Address    string             `json:"address" validate:"max=500"`
	Email      string             `json:"email" validate:"omitempty,email"`
	Phone      string             `json:"phone" validate:"max=30"`
	Exemptions *tax.RawExemptions `json:"exemptions"`
}

func (p companyRequest) company() company.Company {
	return company.Company{
		Name:    strings.TrimSpace(p.Name),
		TIN:     strings.TrimSpace(p.TIN),
		Address: strings.TrimSpace(p.Address),
		Email:   strings.ToLower(strings.TrimSpace(p.Email)),
		Phone:   strings.TrimSpace(p.Phone),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/companies", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermCompaniesRead, h.Perms)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermCompaniesWrite, h.Perms)).Post("/", h.handleCreate)
		r.Route("/{companyID}", func(r chi.Router) {
			r.With(middleware.RequirePermission(auth.PermCompaniesRead, h.Perms)).Get("/", h.handleGet)
			r.With(middleware.RequirePermission(auth.PermCompaniesWrite, h.Perms)).Put("/", h.handleUpdate)
			r.With(middleware.RequirePermission(auth.PermExemptionsWrite, h.Perms)).Put("/exemptions", h.handleUpdateExemptions)
		})
	})
}

// companyFromPath loads the addressed company, hiding other companies from
// company-bound callers.
func (h *Handler) companyFromPath(w http.ResponseWriter, r *http.Request) (auth.UserContext, company.Company, bool) {
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return user, company.Company{}, false
	}
	companyID := chi.URLParam(r, "companyID")
	if !user.CanAccessCompany(companyID) {
		api.Fail(w, http.StatusNotFound, "not_found", "company not found", middleware.GetRequestID(r.Context()))
		return user, company.Company{}, false
	}
	c, err := h.Service.Get(r.Context(), companyID)
	if err != nil {
		writeError(w, r, err, "company_lookup_failed", "failed to load company")
		return user, company.Company{}, false
	}
	return user, c, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	if !user.IsSystemAdmin() {
		c, err := h.Service.Get(r.Context(), user.CompanyID)
		if err != nil {
			writeError(w, r, err, "company_list_failed", "failed to list companies")
			return
		}
		w.Header().Set("X-Total-Count", "1")
		api.Success(w, []company.Company{c}, requestID)
		return
	}

	page := shared.ParsePagination(r, 50, 200)
	items, total, err := h.Service.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "company_list_failed", "failed to list companies", requestID)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, items, requestID)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return
	}
	var payload companyRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}
	var raw tax.RawExemptions
	if payload.Exemptions != nil {
		raw = *payload.Exemptions
	}

	created, err := h.Service.Create(r.Context(), shared.Actor(r, user), payload.company(), raw)
	if err != nil {
		writeError(w, r, err, "company_create_failed", "failed to create company")
		return
	}
	api.Created(w, created, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	_, c, ok := h.companyFromPath(w, r)
	if !ok {
		return
	}
	api.Success(w, c, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, c, ok := h.companyFromPath(w, r)
	if !ok {
		return
	}
	var payload companyRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	if payload.Exemptions != nil {
		v.Add("exemptions", "use the exemptions endpoint")
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	updated, err := h.Service.Update(r.Context(), shared.Actor(r, user), c.ID, payload.company())
	if err != nil {
		writeError(w, r, err, "company_update_failed", "failed to update company")
		return
	}
	api.Success(w, updated, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateExemptions(w http.ResponseWriter, r *http.Request) {
	user, c, ok := h.companyFromPath(w, r)
	if !ok {
		return
	}
	var raw tax.RawExemptions
	if !shared.DecodeOrFail(w, r, &raw) {
		return
	}
	exemptions, err := h.Service.UpdateExemptions(r.Context(), shared.Actor(r, user), c.ID, raw)
	if err != nil {
		writeError(w, r, err, "exemptions_update_failed", "failed to update exemptions")
		return
	}
	api.Success(w, exemptions, middleware.GetRequestID(r.Context()))
}

func writeError(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, company.ErrCompanyNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "company not found", requestID)
	case errors.Is(err, company.ErrNameTaken):
		api.Fail(w, http.StatusConflict, "name_taken", "company name already exists", requestID)
	default:
		api.Fail(w, http.StatusInternalServerError, code, message, requestID)
	}
}
