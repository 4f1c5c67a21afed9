package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agencyhub/agencyhub/domains/tenants/be/provisioning"
	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
)

// MemoryRepository is an in-memory tenant registry used by tests and local
// tooling. It mirrors PostgresRepository semantics, including the
// domain-uniqueness race resolution in CommitTenant.
type MemoryRepository struct {
	mu           sync.Mutex
	tenants      map[uuid.UUID]service.Tenant
	entitlements map[uuid.UUID][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants:      make(map[uuid.UUID]service.Tenant),
		entitlements: make(map[uuid.UUID][]string),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return service.Tenant{}, service.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) FindByDomain(ctx context.Context, domainPrefix string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByDomainLocked(domainPrefix)
}

func (r *MemoryRepository) findByDomainLocked(domainPrefix string) (service.Tenant, error) {
	for _, t := range r.tenants {
		if !t.IsActive {
			continue
		}
		if t.Domain == domainPrefix || strings.HasPrefix(t.Domain, domainPrefix+".") {
			return t, nil
		}
	}
	return service.Tenant{}, service.ErrNotFound
}

func (r *MemoryRepository) FindByDatabaseName(ctx context.Context, databaseName string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.DatabaseName == databaseName {
			return t, nil
		}
	}
	return service.Tenant{}, service.ErrNotFound
}

func (r *MemoryRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []service.Tenant
	for _, t := range r.tenants {
		if t.IsActive {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	return service.ListResult{
		Tenants:    all[start:end],
		Page:       page,
		PageSize:   size,
		TotalItems: len(all),
	}, nil
}

func (r *MemoryRepository) CommitTenant(ctx context.Context, input provisioning.CommitInput) (provisioning.CommitOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if winner, err := r.findByDomainLocked(input.Domain); err == nil && winner.ID != input.TenantID {
		return provisioning.CommitOutcome{Tenant: winner, Lost: true}, nil
	}

	plan := input.Plan
	if plan == "" {
		plan = "free"
	}
	t := service.Tenant{
		ID:           input.TenantID,
		Name:         input.Name,
		Domain:       input.Domain,
		DatabaseName: input.DatabaseName,
		OwnerUserID:  input.OwnerUserID,
		Plan:         plan,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	r.tenants[t.ID] = t
	return provisioning.CommitOutcome{Tenant: t}, nil
}

func (r *MemoryRepository) AssignDefaultEntitlements(ctx context.Context, tenantID uuid.UUID, plan string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entitlements[tenantID] = append(r.entitlements[tenantID], plan)
	return nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, tenantID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return service.ErrNotFound
	}
	t.IsActive = false
	r.tenants[tenantID] = t
	return nil
}

// Ensure interface compliance.
var (
	_ service.Repository         = (*MemoryRepository)(nil)
	_ provisioning.RegistryStore = (*MemoryRepository)(nil)
)
