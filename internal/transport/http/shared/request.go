package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
)

// CompanyHeader lets a system admin choose the company a request acts on.
const CompanyHeader = "X-Company-ID"

var errEmptyBody = errors.New("request body is empty")

// DecodeJSON decodes the body into dst and rejects unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// DecodeOrFail decodes the body and writes a 400 when that fails.
func DecodeOrFail(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := DecodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", middleware.GetRequestID(r.Context()))
			return false
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

func ClientIP(r *http.Request) string {
	return middleware.ClientIP(r)
}

// Actor describes the caller for the audit trail.
func Actor(r *http.Request, user auth.UserContext) audit.Actor {
	return audit.Actor{
		UserID:    user.UserID,
		RequestID: middleware.GetRequestID(r.Context()),
		IP:        ClientIP(r),
	}
}

// RequireUser returns the authenticated caller or writes a 401.
func RequireUser(w http.ResponseWriter, r *http.Request) (auth.UserContext, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return auth.UserContext{}, false
	}
	return user, true
}

// CompanyScope resolves the company a company-bound request acts on. Company
// users always act on their own company; a system admin names one through the
// X-Company-ID header or the companyId query parameter.
func CompanyScope(w http.ResponseWriter, r *http.Request) (auth.UserContext, string, bool) {
	user, ok := RequireUser(w, r)
	if !ok {
		return user, "", false
	}
	companyID := user.CompanyID
	if user.IsSystemAdmin() {
		companyID = strings.TrimSpace(r.Header.Get(CompanyHeader))
		if companyID == "" {
			companyID = strings.TrimSpace(r.URL.Query().Get("companyId"))
		}
	}
	if companyID == "" {
		api.Fail(w, http.StatusBadRequest, "company_required", "a company must be selected", middleware.GetRequestID(r.Context()))
		return user, "", false
	}
	return user, companyID, true
}
