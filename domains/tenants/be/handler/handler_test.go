package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/domains/tenants/be/provisioning"
	"github.com/agencyhub/agencyhub/domains/tenants/be/repo"
	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
)

type stubOrchestrator struct {
	result service.CreateTenantResult
	err    error
}

func (s *stubOrchestrator) Provision(ctx context.Context, input service.CreateTenantInput) (service.CreateTenantResult, error) {
	return s.result, s.err
}

func (s *stubOrchestrator) Deprovision(ctx context.Context, t service.Tenant) error {
	return s.err
}

type stubManager struct {
	report   service.RepairReport
	manifest service.TeamCredentialsManifest
	err      error
}

func (s *stubManager) Repair(ctx context.Context, databaseName string) (service.RepairReport, error) {
	return s.report, s.err
}

func (s *stubManager) CompleteSetup(ctx context.Context, databaseName string, settings service.ExtendedSettings, members []service.TeamMemberInput) (service.TeamCredentialsManifest, error) {
	return s.manifest, s.err
}

func newTestServer(t *testing.T, registry *repo.MemoryRepository, orch *stubOrchestrator, manager *stubManager) *httptest.Server {
	t.Helper()

	svc := service.New(registry, orch, manager)
	h := New(svc, zap.NewNop())

	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		h.Routes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func seedTenant(t *testing.T, registry *repo.MemoryRepository, domain string) service.Tenant {
	t.Helper()

	outcome, err := registry.CommitTenant(context.Background(), provisioning.CommitInput{
		TenantID:     uuid.New(),
		Name:         "Acme Studios",
		Domain:       domain,
		DatabaseName: "agency_" + domain + "_a1b2c3d4",
		OwnerUserID:  uuid.New(),
		Plan:         "starter",
	})
	require.NoError(t, err)
	return outcome.Tenant
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestCreateTenantEndpoint(t *testing.T) {
	registry := repo.NewMemoryRepository()
	orch := &stubOrchestrator{result: service.CreateTenantResult{
		TenantID:     uuid.New(),
		DatabaseName: "agency_acme_a1b2c3d4",
		AdminUserID:  uuid.New(),
	}}
	srv := newTestServer(t, registry, orch, &stubManager{})

	resp := postJSON(t, srv.URL+"/admin/tenants", map[string]string{
		"agencyName":        "Acme Studios",
		"domain":            "Acme.agencyhub.app",
		"adminEmail":        "ada@acme.test",
		"adminPasswordHash": "$2a$10$hash",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Location"), orch.result.TenantID.String())

	var body createTenantResponse
	decodeBody(t, resp, &body)
	require.Equal(t, orch.result.TenantID, body.TenantID)
	require.Equal(t, "agency_acme_a1b2c3d4", body.DatabaseName)
	require.False(t, body.ReusedExisting)
}

func TestCreateTenantEndpointReusedExisting(t *testing.T) {
	registry := repo.NewMemoryRepository()
	orch := &stubOrchestrator{result: service.CreateTenantResult{
		TenantID:       uuid.New(),
		DatabaseName:   "agency_acme_a1b2c3d4",
		ReusedExisting: true,
	}}
	srv := newTestServer(t, registry, orch, &stubManager{})

	resp := postJSON(t, srv.URL+"/admin/tenants", map[string]string{
		"agencyName":        "Acme Studios",
		"domain":            "acme",
		"adminEmail":        "ada@acme.test",
		"adminPasswordHash": "hash",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body createTenantResponse
	decodeBody(t, resp, &body)
	require.True(t, body.ReusedExisting)
}

func TestCreateTenantEndpointValidation(t *testing.T) {
	srv := newTestServer(t, repo.NewMemoryRepository(), &stubOrchestrator{}, &stubManager{})

	// Missing required fields.
	resp := postJSON(t, srv.URL+"/admin/tenants", map[string]string{"agencyName": "Acme"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	var problem ProblemDetails
	decodeBody(t, resp, &problem)
	require.Equal(t, problemTypeValidation, problem.Type)

	// Invalid domain.
	resp = postJSON(t, srv.URL+"/admin/tenants", map[string]string{
		"agencyName":        "Acme",
		"domain":            "not a domain",
		"adminEmail":        "ada@acme.test",
		"adminPasswordHash": "hash",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateTenantEndpointProvisioningFailure(t *testing.T) {
	orch := &stubOrchestrator{err: &provisioning.PhaseError{
		Phase: provisioning.PhaseCreatingSchema,
		Err:   errors.New("boom"),
	}}
	srv := newTestServer(t, repo.NewMemoryRepository(), orch, &stubManager{})

	resp := postJSON(t, srv.URL+"/admin/tenants", map[string]string{
		"agencyName":        "Acme",
		"domain":            "acme",
		"adminEmail":        "ada@acme.test",
		"adminPasswordHash": "hash",
	})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var problem ProblemDetails
	decodeBody(t, resp, &problem)
	require.Equal(t, problemTypeInternal, problem.Type)
	// Raw phase internals never leak to clients.
	require.NotContains(t, problem.Detail, "boom")
}

func TestDomainAvailabilityEndpoint(t *testing.T) {
	registry := repo.NewMemoryRepository()
	seedTenant(t, registry, "taken")
	srv := newTestServer(t, registry, &stubOrchestrator{}, &stubManager{})

	resp, err := http.Get(srv.URL + "/admin/tenants/domain-availability?domain=taken")
	require.NoError(t, err)
	var body struct {
		Available bool `json:"available"`
	}
	decodeBody(t, resp, &body)
	require.False(t, body.Available)

	resp, err = http.Get(srv.URL + "/admin/tenants/domain-availability?domain=free")
	require.NoError(t, err)
	decodeBody(t, resp, &body)
	require.True(t, body.Available)

	resp, err = http.Get(srv.URL + "/admin/tenants/domain-availability")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetTenantEndpoint(t *testing.T) {
	registry := repo.NewMemoryRepository()
	seeded := seedTenant(t, registry, "acme")
	srv := newTestServer(t, registry, &stubOrchestrator{}, &stubManager{})

	resp, err := http.Get(srv.URL + "/admin/tenants/" + seeded.ID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body tenantResponse
	decodeBody(t, resp, &body)
	require.Equal(t, seeded.ID, body.ID)
	require.Equal(t, "acme", body.Domain)

	resp, err = http.Get(srv.URL + "/admin/tenants/" + uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/admin/tenants/not-a-uuid")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRepairEndpoint(t *testing.T) {
	registry := repo.NewMemoryRepository()
	seeded := seedTenant(t, registry, "acme")
	manager := &stubManager{report: service.RepairReport{
		TablesBefore: []string{"users"},
		TablesAfter:  []string{"users", "attendance"},
		Added:        []string{"attendance"},
	}}
	srv := newTestServer(t, registry, &stubOrchestrator{}, manager)

	resp := postJSON(t, srv.URL+"/admin/tenant-databases/"+seeded.DatabaseName+"/repair", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Added []string `json:"added"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, []string{"attendance"}, body.Added)

	// Unknown database.
	resp = postJSON(t, srv.URL+"/admin/tenant-databases/agency_ghost_00000000/repair", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCompleteSetupEndpoint(t *testing.T) {
	registry := repo.NewMemoryRepository()
	seeded := seedTenant(t, registry, "acme")
	manager := &stubManager{manifest: service.TeamCredentialsManifest{
		Created: []service.TeamMemberCredential{{UserID: uuid.New(), Email: "bob@acme.test"}},
		Failed:  []service.TeamMemberCredential{{Email: "bad@acme.test", Error: "duplicate email"}},
	}}
	srv := newTestServer(t, registry, &stubOrchestrator{}, manager)

	resp := postJSON(t, srv.URL+"/admin/tenant-databases/"+seeded.DatabaseName+"/setup", map[string]any{
		"settings": map[string]string{"timezone": "Asia/Kolkata"},
		"teamMembers": []map[string]string{
			{"name": "Bob", "email": "bob@acme.test", "passwordHash": "hash"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var manifest service.TeamCredentialsManifest
	decodeBody(t, resp, &manifest)
	require.Len(t, manifest.Created, 1)
	require.Len(t, manifest.Failed, 1)
	require.Equal(t, "duplicate email", manifest.Failed[0].Error)
}

func TestDeleteTenantEndpoint(t *testing.T) {
	registry := repo.NewMemoryRepository()
	seeded := seedTenant(t, registry, "acme")
	srv := newTestServer(t, registry, &stubOrchestrator{}, &stubManager{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/admin/tenants/"+seeded.ID.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}
