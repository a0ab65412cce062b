package authhandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Service interface {
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	Me(ctx context.Context, userID string) (auth.User, error)
	ListUsers(ctx context.Context, companyID string, limit, offset int) ([]auth.User, int, error)
	CreateUser(ctx context.Context, actor auth.UserContext, user auth.NewUser) (string, error)
	SetStatus(ctx context.Context, actor auth.UserContext, companyID, userID, status string) error
}

type Handler struct {
	Service Service
	Perms   middleware.PermissionStore
	Audit   audit.Recorder
}

func NewHandler(service Service, perms middleware.PermissionStore, recorder audit.Recorder) *Handler {
	return &Handler{Service: service, Perms: perms, Audit: recorder}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type createUserRequest struct {
	CompanyID string `json:"companyId"`
	Email     string `json:"email" validate:"required,email,max=254"`
	FullName  string `json:"fullName" validate:"required,max=200"`
	Role      string `json:"role" validate:"required,oneof=system_admin company_admin payroll_officer viewer"`
	Password  string `json:"password" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/auth/me", h.handleMe)
	r.Route("/users", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermUsersRead, h.Perms)).Get("/", h.handleListUsers)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Post("/", h.handleCreateUser)
		r.With(middleware.RequirePermission(auth.PermUsersWrite, h.Perms)).Put("/{userID}/status", h.handleSetStatus)
	})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload loginRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	v := shared.NewValidator()
	v.Struct(payload)
	if v.Reject(w, requestID) {
		return
	}

	result, err := h.Service.Login(r.Context(), payload.Email, payload.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", requestID)
		return
	}
	if err != nil {
		slog.Error("login failed", "err", err)
		api.Fail(w, http.StatusInternalServerError, "login_failed", "failed to log in", requestID)
		return
	}

	actor := audit.Actor{UserID: result.User.ID, RequestID: requestID, IP: shared.ClientIP(r)}
	audit.Log(r.Context(), h.Audit, result.User.CompanyID, actor, audit.ActionLogin, "user", result.User.ID, nil, nil)
	api.Success(w, result, requestID)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return
	}
	me, err := h.Service.Me(r.Context(), user.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "user_lookup_failed", "failed to load user", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{
		"user":        me,
		"permissions": auth.RolePermissions[me.Role],
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	_, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	page := shared.ParsePagination(r, 50, 200)
	users, total, err := h.Service.ListUsers(r.Context(), companyID, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "user_list_failed", "failed to list users", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, users, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.RequireUser(w, r)
	if !ok {
		return
	}
	var payload createUserRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	payload.FullName = strings.TrimSpace(payload.FullName)

	v := shared.NewValidator()
	v.Struct(payload)
	if err := validatePassword(payload.Password); err != nil {
		v.Add("password", err.Error())
	}
	companyID := user.CompanyID
	if user.IsSystemAdmin() {
		companyID = strings.TrimSpace(payload.CompanyID)
		if companyID == "" && payload.Role != auth.RoleSystemAdmin {
			v.Add("companyId", "is required for company users")
		}
	}
	if v.Reject(w, requestID) {
		return
	}

	id, err := h.Service.CreateUser(r.Context(), user, auth.NewUser{
		CompanyID: companyID,
		Email:     payload.Email,
		FullName:  payload.FullName,
		Role:      payload.Role,
		Password:  payload.Password,
	})
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		api.Fail(w, http.StatusConflict, "email_taken", "email already registered", requestID)
		return
	case errors.Is(err, auth.ErrRoleNotAllowed):
		api.Fail(w, http.StatusForbidden, "role_not_allowed", "role cannot be assigned", requestID)
		return
	case errors.Is(err, auth.ErrInvalidRole):
		api.Fail(w, http.StatusBadRequest, "invalid_role", "invalid role", requestID)
		return
	case err != nil:
		slog.Error("user create failed", "err", err)
		api.Fail(w, http.StatusInternalServerError, "user_create_failed", "failed to create user", requestID)
		return
	}

	after := map[string]string{"email": payload.Email, "role": payload.Role, "companyId": companyID}
	audit.Log(r.Context(), h.Audit, companyID, shared.Actor(r, user), audit.ActionCreate, "user", id, nil, after)
	api.Created(w, map[string]string{"id": id}, requestID)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, companyID, ok := shared.CompanyScope(w, r)
	if !ok {
		return
	}
	var payload statusRequest
	if !shared.DecodeOrFail(w, r, &payload) {
		return
	}
	v := shared.NewValidator()
	v.Struct(payload)
	if v.Reject(w, requestID) {
		return
	}

	userID := chi.URLParam(r, "userID")
	err := h.Service.SetStatus(r.Context(), user, companyID, userID, payload.Status)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "user not found", requestID)
		return
	case errors.Is(err, auth.ErrSelfDisable):
		api.Fail(w, http.StatusBadRequest, "self_disable", "users cannot disable themselves", requestID)
		return
	case errors.Is(err, auth.ErrInvalidStatus):
		api.Fail(w, http.StatusBadRequest, "invalid_status", "invalid user status", requestID)
		return
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "user_update_failed", "failed to update user", requestID)
		return
	}

	audit.Log(r.Context(), h.Audit, companyID, shared.Actor(r, user), audit.ActionUpdate, "user", userID, nil, map[string]string{"status": payload.Status})
	api.Success(w, map[string]string{"id": userID, "status": payload.Status}, requestID)
}

func validatePassword(password string) error {
	if len(password) < 10 {
		return errors.New("must be at least 10 characters")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return errors.New("must contain upper and lower case letters and a number")
	}
	return nil
}
