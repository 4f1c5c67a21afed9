package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/agencyhub/platform/go/tenant"
)

// inMemoryRepo is a minimal in-memory impl of Repository for tests.
type inMemoryRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]Tenant
}

func newInMemoryRepo() *inMemoryRepo {
	return &inMemoryRepo{data: make(map[uuid.UUID]Tenant)}
}

func (r *inMemoryRepo) put(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[t.ID] = t
}

func (r *inMemoryRepo) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (r *inMemoryRepo) FindByDomain(ctx context.Context, domainPrefix string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.data {
		if t.Domain == domainPrefix && t.IsActive {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (r *inMemoryRepo) FindByDatabaseName(ctx context.Context, databaseName string) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.data {
		if t.DatabaseName == databaseName {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (r *inMemoryRepo) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tenants []Tenant
	for _, t := range r.data {
		tenants = append(tenants, t)
	}
	return ListResult{Tenants: tenants, Page: 1, PageSize: len(tenants), TotalItems: len(tenants)}, nil
}

// stub orchestrator and manager

type stubOrchestrator struct {
	provisionRes  CreateTenantResult
	provisionErr  error
	provisionedIn *CreateTenantInput
	deprovisioned []uuid.UUID
}

func (s *stubOrchestrator) Provision(ctx context.Context, input CreateTenantInput) (CreateTenantResult, error) {
	s.provisionedIn = &input
	return s.provisionRes, s.provisionErr
}

func (s *stubOrchestrator) Deprovision(ctx context.Context, t Tenant) error {
	s.deprovisioned = append(s.deprovisioned, t.ID)
	return nil
}

type stubManager struct {
	repairRes   RepairReport
	repairErr   error
	setupRes    TeamCredentialsManifest
	setupErr    error
	repairCalls []string
}

func (s *stubManager) Repair(ctx context.Context, databaseName string) (RepairReport, error) {
	s.repairCalls = append(s.repairCalls, databaseName)
	return s.repairRes, s.repairErr
}

func (s *stubManager) CompleteSetup(ctx context.Context, databaseName string, settings ExtendedSettings, members []TeamMemberInput) (TeamCredentialsManifest, error) {
	return s.setupRes, s.setupErr
}

func activeTenant(domain string) Tenant {
	id := uuid.New()
	return Tenant{
		ID:           id,
		Name:         "Acme Studios",
		Domain:       domain,
		DatabaseName: tenant.BuildDatabaseName(domain, id),
		OwnerUserID:  uuid.New(),
		Plan:         "starter",
		IsActive:     true,
	}
}

func TestCreateTenantNormalizesDomainBeforeProvisioning(t *testing.T) {
	orch := &stubOrchestrator{provisionRes: CreateTenantResult{TenantID: uuid.New()}}
	svc := New(newInMemoryRepo(), orch, &stubManager{})

	_, err := svc.CreateTenant(context.Background(), CreateTenantInput{
		AgencyName:        "Acme Studios",
		Domain:            "Acme-Studios.agencyhub.app",
		AdminEmail:        "ada@acme.test",
		AdminPasswordHash: "hash",
	})
	require.NoError(t, err)
	require.NotNil(t, orch.provisionedIn)
	require.Equal(t, "acme-studios", orch.provisionedIn.Domain)
}

func TestCreateTenantRejectsInvalidDomain(t *testing.T) {
	orch := &stubOrchestrator{}
	svc := New(newInMemoryRepo(), orch, &stubManager{})

	_, err := svc.CreateTenant(context.Background(), CreateTenantInput{Domain: "_bad_"})
	require.ErrorIs(t, err, ErrInvalidDomain)
	require.Nil(t, orch.provisionedIn)
}

func TestCheckDomainAvailable(t *testing.T) {
	repo := newInMemoryRepo()
	repo.put(activeTenant("taken"))
	svc := New(repo, &stubOrchestrator{}, &stubManager{})

	available, err := svc.CheckDomainAvailable(context.Background(), "taken.agencyhub.app")
	require.NoError(t, err)
	require.False(t, available)

	available, err = svc.CheckDomainAvailable(context.Background(), "free")
	require.NoError(t, err)
	require.True(t, available)

	_, err = svc.CheckDomainAvailable(context.Background(), "not a domain")
	require.ErrorIs(t, err, ErrInvalidDomain)
}

func TestRepairTenantSchemaRequiresKnownDatabase(t *testing.T) {
	repo := newInMemoryRepo()
	known := activeTenant("acme")
	repo.put(known)
	manager := &stubManager{repairRes: RepairReport{Added: []string{"attendance"}}}
	svc := New(repo, &stubOrchestrator{}, manager)

	report, err := svc.RepairTenantSchema(context.Background(), known.DatabaseName)
	require.NoError(t, err)
	require.Equal(t, []string{"attendance"}, report.Added)
	require.Equal(t, []string{known.DatabaseName}, manager.repairCalls)

	_, err = svc.RepairTenantSchema(context.Background(), "agency_ghost_00000000")
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, manager.repairCalls, 1)
}

func TestCompleteTenantSetupRequiresKnownDatabase(t *testing.T) {
	repo := newInMemoryRepo()
	known := activeTenant("acme")
	repo.put(known)
	manager := &stubManager{setupRes: TeamCredentialsManifest{
		Created: []TeamMemberCredential{{Email: "bob@acme.test"}},
	}}
	svc := New(repo, &stubOrchestrator{}, manager)

	manifest, err := svc.CompleteTenantSetup(context.Background(), known.DatabaseName, ExtendedSettings{}, nil)
	require.NoError(t, err)
	require.Len(t, manifest.Created, 1)

	_, err = svc.CompleteTenantSetup(context.Background(), "agency_ghost_00000000", ExtendedSettings{}, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTenant(t *testing.T) {
	repo := newInMemoryRepo()
	known := activeTenant("acme")
	repo.put(known)
	orch := &stubOrchestrator{}
	svc := New(repo, orch, &stubManager{})

	require.NoError(t, svc.DeleteTenant(context.Background(), known.ID))
	require.Equal(t, []uuid.UUID{known.ID}, orch.deprovisioned)

	err := svc.DeleteTenant(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveTenantSpace(t *testing.T) {
	repo := newInMemoryRepo()
	known := activeTenant("acme")
	repo.put(known)

	inactive := activeTenant("gone")
	inactive.IsActive = false
	repo.put(inactive)

	svc := New(repo, &stubOrchestrator{}, &stubManager{})

	space, err := svc.ResolveTenantSpace(context.Background(), known.DatabaseName)
	require.NoError(t, err)
	require.Equal(t, known.ID, space.TenantID)
	require.Equal(t, known.Domain, space.Domain)
	require.Equal(t, known.DatabaseName, space.DatabaseName)

	_, err = svc.ResolveTenantSpace(context.Background(), inactive.DatabaseName)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ResolveTenantSpace(context.Background(), "agency_ghost_00000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTenantPropagatesProvisioningError(t *testing.T) {
	cause := errors.New("cluster down")
	orch := &stubOrchestrator{provisionErr: cause}
	svc := New(newInMemoryRepo(), orch, &stubManager{})

	_, err := svc.CreateTenant(context.Background(), CreateTenantInput{Domain: "acme"})
	require.ErrorIs(t, err, cause)
}
