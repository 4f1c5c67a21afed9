package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agencyhub/agencyhub/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound      = errors.New("tenant not found")
	ErrInvalidDomain = errors.New("invalid tenant domain")
)

// Tenant represents the domain model for a tenant registry entry held in the
// administrative database.
type Tenant struct {
	ID           uuid.UUID
	Name         string
	Domain       string // normalized subdomain prefix, globally unique
	DatabaseName string // immutable once set
	OwnerUserID  uuid.UUID
	Plan         string
	IsActive     bool
	CreatedAt    time.Time
}

// OnboardingMetadata seeds the tenant-side settings row during provisioning.
type OnboardingMetadata struct {
	AgencyName string
	Industry   string
	Address    string
	Locale     string
	Timezone   string
	Currency   string
}

// CreateTenantInput is the provisioning request.
type CreateTenantInput struct {
	AgencyName        string
	Domain            string
	AdminName         string
	AdminEmail        string
	AdminPasswordHash string
	Plan              string
	Onboarding        OnboardingMetadata
}

// CreateTenantResult reports the provisioned (or pre-existing) tenant identity.
type CreateTenantResult struct {
	TenantID       uuid.UUID
	DatabaseName   string
	AdminUserID    uuid.UUID
	ReusedExisting bool
}

// TeamMemberInput describes one team member for setup completion.
type TeamMemberInput struct {
	Name         string
	Email        string
	PasswordHash string
	RoleName     string
}

// TeamMemberCredential is the per-member outcome in the setup manifest.
type TeamMemberCredential struct {
	UserID uuid.UUID
	Email  string
	Error  string // empty on success; failed members are reported, not fatal
}

// TeamCredentialsManifest summarizes setup completion. Members that failed are
// listed with their error; they never abort the others.
type TeamCredentialsManifest struct {
	Created []TeamMemberCredential
	Failed  []TeamMemberCredential
}

// ExtendedSettings carries post-provisioning profile data for setup completion.
type ExtendedSettings struct {
	Website  string
	Phone    string
	TaxID    string
	Timezone string
}

// RepairReport mirrors the schema engine's administrative repair summary.
type RepairReport struct {
	TablesBefore []string
	TablesAfter  []string
	Added        []string
}

// ListOptions captures pagination for registry listing.
type ListOptions struct {
	Page     int
	PageSize int
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
}

// Repository abstracts read access to the tenant registry.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	FindByDomain(ctx context.Context, domainPrefix string) (Tenant, error)
	FindByDatabaseName(ctx context.Context, databaseName string) (Tenant, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
}

// Service provides the tenant provisioning surface.
type Service struct {
	repo         Repository
	orchestrator Orchestrator
	manager      TenantDatabaseManager
}

// New constructs a Service with required dependencies.
func New(repo Repository, orchestrator Orchestrator, manager TenantDatabaseManager) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if orchestrator == nil {
		panic("tenants orchestrator is required")
	}
	if manager == nil {
		panic("tenant database manager is required")
	}
	return &Service{repo: repo, orchestrator: orchestrator, manager: manager}
}

// CreateTenant provisions a fully isolated tenant database plus its founding
// admin. Idempotent per domain: a repeat request for an already-provisioned
// domain returns the existing tenant's identity with ReusedExisting set.
func (s *Service) CreateTenant(ctx context.Context, input CreateTenantInput) (CreateTenantResult, error) {
	prefix, err := tenant.NormalizeDomain(input.Domain)
	if err != nil {
		return CreateTenantResult{}, errors.Join(ErrInvalidDomain, err)
	}
	input.Domain = prefix
	return s.orchestrator.Provision(ctx, input)
}

// CheckDomainAvailable reports whether the normalized domain prefix is free.
func (s *Service) CheckDomainAvailable(ctx context.Context, domain string) (bool, error) {
	prefix, err := tenant.NormalizeDomain(domain)
	if err != nil {
		return false, errors.Join(ErrInvalidDomain, err)
	}

	_, err = s.repo.FindByDomain(ctx, prefix)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// RepairTenantSchema runs the idempotent schema repair against an existing
// tenant database. Administrative; callable at any time.
func (s *Service) RepairTenantSchema(ctx context.Context, databaseName string) (RepairReport, error) {
	if _, err := s.repo.FindByDatabaseName(ctx, databaseName); err != nil {
		return RepairReport{}, err
	}
	return s.manager.Repair(ctx, databaseName)
}

// CompleteTenantSetup populates extended profile and team data after the
// tenant exists. Each team member is created in its own sub-transaction so one
// bad record cannot abort the rest.
func (s *Service) CompleteTenantSetup(ctx context.Context, databaseName string, settings ExtendedSettings, members []TeamMemberInput) (TeamCredentialsManifest, error) {
	if _, err := s.repo.FindByDatabaseName(ctx, databaseName); err != nil {
		return TeamCredentialsManifest{}, err
	}
	return s.manager.CompleteSetup(ctx, databaseName, settings, members)
}

// DeleteTenant tears a tenant down: terminated connections, dropped database,
// evicted pool, deactivated registry row.
func (s *Service) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.orchestrator.Deprovision(ctx, t)
}

// Get returns a tenant registry entry by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// List returns paginated tenant registry entries.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	return s.repo.List(ctx, opts)
}

// ResolveTenantSpace returns a lightweight tenant Space for middleware
// consumption, keyed by the tenant database name carried on requests.
func (s *Service) ResolveTenantSpace(ctx context.Context, databaseName string) (tenant.Space, error) {
	t, err := s.repo.FindByDatabaseName(ctx, databaseName)
	if err != nil {
		return tenant.Space{}, err
	}
	if !t.IsActive {
		return tenant.Space{}, ErrNotFound
	}
	return tenant.Space{
		TenantID:     t.ID,
		Domain:       t.Domain,
		DatabaseName: t.DatabaseName,
	}, nil
}
