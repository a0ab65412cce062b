package companyhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/company"
	"hrpay/internal/domain/tax"
	"hrpay/internal/transport/http/middleware"
)

type fakeService struct {
	companies map[string]company.Company
}

func newFake() *fakeService {
	return &fakeService{companies: map[string]company.Company{
		"c1": {ID: "c1", Name: "Kigali Traders", Exemptions: tax.DefaultExemptions()},
		"c2": {ID: "c2", Name: "Huye Farms", Exemptions: tax.DefaultExemptions()},
	}}
}

func (f *fakeService) List(_ context.Context, _, _ int) ([]company.Company, int, error) {
	out := make([]company.Company, 0, len(f.companies))
	for _, c := range f.companies {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (f *fakeService) Get(_ context.Context, id string) (company.Company, error) {
	c, ok := f.companies[id]
	if !ok {
		return company.Company{}, company.ErrCompanyNotFound
	}
	return c, nil
}

func (f *fakeService) Create(_ context.Context, _ audit.Actor, c company.Company, raw tax.RawExemptions) (company.Company, error) {
	for _, existing := range f.companies {
		if existing.Name == c.Name {
			return company.Company{}, company.ErrNameTaken
		}
	}
	c.ID = "c3"
	c.Exemptions = tax.ResolveExemptions(raw)
	f.companies[c.ID] = c
	return c, nil
}

func (f *fakeService) Update(_ context.Context, _ audit.Actor, id string, c company.Company) (company.Company, error) {
	c.ID = id
	c.Exemptions = f.companies[id].Exemptions
	f.companies[id] = c
	return c, nil
}

func (f *fakeService) UpdateExemptions(_ context.Context, _ audit.Actor, id string, raw tax.RawExemptions) (tax.Exemptions, error) {
	c := f.companies[id]
	c.Exemptions = tax.ResolveExemptions(raw)
	f.companies[id] = c
	return c.Exemptions, nil
}

func serve(t *testing.T, svc *fakeService, user auth.UserContext, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), user)))
		})
	})
	NewHandler(svc, auth.NewStaticPermissions()).RegisterRoutes(r)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

var (
	root      = auth.UserContext{UserID: "root", Role: auth.RoleSystemAdmin}
	adminOfC1 = auth.UserContext{UserID: "a1", CompanyID: "c1", Role: auth.RoleCompanyAdmin}
)

func TestListScopesCompanyUsers(t *testing.T) {
	svc := newFake()

	rec, _ := serve(t, svc, root, http.MethodGet, "/companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))

	rec, env := serve(t, svc, adminOfC1, http.MethodGet, "/companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	assert.Len(t, env["data"], 1)
}

func TestCompanyAdminCannotSeeOtherCompany(t *testing.T) {
	rec, _ := serve(t, newFake(), adminOfC1, http.MethodGet, "/companies/c2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCompany(t *testing.T) {
	svc := newFake()
	rec, env := serve(t, svc, root, http.MethodPost, "/companies", map[string]any{
		"name": "Musanze Coffee", "tin": "123456789", "exemptions": map[string]bool{"rama": false},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := env["data"].(map[string]any)
	exemptions := data["exemptions"].(map[string]any)
	assert.Equal(t, false, exemptions["rama"])
	assert.Equal(t, true, exemptions["paye"])

	rec, _ = serve(t, svc, root, http.MethodPost, "/companies", map[string]any{"name": "Kigali Traders"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = serve(t, svc, root, http.MethodPost, "/companies", map[string]any{"name": "Bad TIN", "tin": "12"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, svc, adminOfC1, http.MethodPost, "/companies", map[string]any{"name": "Not Allowed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateExemptions(t *testing.T) {
	svc := newFake()
	rec, _ := serve(t, svc, adminOfC1, http.MethodPut, "/companies/c1/exemptions", map[string]any{"cbhi": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.companies["c1"].Exemptions.CBHI)
	assert.True(t, svc.companies["c1"].Exemptions.PAYE)

	rec, _ = serve(t, svc, adminOfC1, http.MethodPut, "/companies/c2/exemptions", map[string]any{"cbhi": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
