package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/tenant"
)

// Provisioning phase names, surfaced on PhaseError.
const (
	PhaseCheckingDomain       = "checking_domain"
	PhaseCreatingDatabase     = "creating_database"
	PhaseCreatingSchema       = "creating_schema"
	PhaseSeedingSettings      = "seeding_settings"
	PhaseCreatingAdmin        = "creating_admin"
	PhaseCommittingMainRecord = "committing_main_record"
)

// Errors surfaced by the orchestrator.
var (
	// ErrProvisioningFailed wraps every fatal phase failure after compensation ran.
	ErrProvisioningFailed = errors.New("tenant provisioning failed")
	// ErrSchemaVerification indicates the new tenant database failed the post-creation table check.
	ErrSchemaVerification = errors.New("tenant schema verification failed")
)

// PhaseError is the single summarized error callers see: the failed phase name
// plus the underlying cause. Raw phase-internal errors never escape.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%v: phase %s: %v", ErrProvisioningFailed, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProvisioningFailed) hold for every PhaseError.
func (e *PhaseError) Is(target error) bool { return target == ErrProvisioningFailed }

// ClusterOps is the cluster-level surface the orchestrator needs for database
// allocation and teardown. Implemented by persistence.Cluster.
type ClusterOps interface {
	DatabaseExists(ctx context.Context, databaseName string) (bool, error)
	CreateDatabase(ctx context.Context, databaseName string) error
	DropDatabase(ctx context.Context, databaseName string) error
}

// AdminSpec describes the founding administrator created in phase 5.
type AdminSpec struct {
	Name         string
	Email        string
	PasswordHash string
}

// TenantDBOps covers operations executed inside the new tenant database over a
// dedicated connection, before the database is registered with the pool registry.
type TenantDBOps interface {
	CreateSchema(ctx context.Context, databaseName string) error
	VerifyRequiredTables(ctx context.Context, databaseName string) (missing []string, err error)
	SeedSettings(ctx context.Context, databaseName string, meta service.OnboardingMetadata) error
	CreateAdmin(ctx context.Context, databaseName string, admin AdminSpec) (uuid.UUID, error)
}

// CommitInput is the main-record upsert for phase 6, executed in one
// administrative-database transaction.
type CommitInput struct {
	TenantID     uuid.UUID
	Name         string
	Domain       string
	DatabaseName string
	OwnerUserID  uuid.UUID
	Plan         string
	Onboarding   service.OnboardingMetadata
}

// CommitOutcome reports the committed tenant. Lost is set when a concurrent
// provisioning of the same domain won the unique-constraint race; Tenant then
// carries the winner's identity.
type CommitOutcome struct {
	Tenant service.Tenant
	Lost   bool
}

// RegistryStore is the administrative-database surface: the tenant registry
// and settings mirror.
type RegistryStore interface {
	FindByDomain(ctx context.Context, domainPrefix string) (service.Tenant, error)
	CommitTenant(ctx context.Context, input CommitInput) (CommitOutcome, error)
	AssignDefaultEntitlements(ctx context.Context, tenantID uuid.UUID, plan string) error
	Deactivate(ctx context.Context, tenantID uuid.UUID) error
}

// PoolEvictor removes a tenant's pool after destructive operations.
// Implemented by persistence.Registry.
type PoolEvictor interface {
	Evict(databaseName string)
}

// Orchestrator executes the create-tenant workflow as a compensating-transaction
// state machine: a fatal failure after database creation drops the database
// before the error is returned, so a failed run never leaves an orphan behind.
type Orchestrator struct {
	cluster  ClusterOps
	tenantDB TenantDBOps
	store    RegistryStore
	evictor  PoolEvictor
	logger   *zap.Logger
}

// New constructs the orchestrator.
func New(cluster ClusterOps, tenantDB TenantDBOps, store RegistryStore, evictor PoolEvictor, logger *zap.Logger) *Orchestrator {
	if cluster == nil || tenantDB == nil || store == nil || evictor == nil {
		panic("orchestrator requires cluster, tenantDB, store, and evictor")
	}
	if logger == nil {
		panic("orchestrator requires logger")
	}
	return &Orchestrator{cluster: cluster, tenantDB: tenantDB, store: store, evictor: evictor, logger: logger}
}

// progress tracks completed phases for one request; it exists only to drive
// compensating rollback and is never persisted.
type progress struct {
	domainChecked       bool
	databaseCreated     bool
	schemaCreated       bool
	settingsSeeded      bool
	adminUserCreated    bool
	mainRecordCommitted bool
}

// Provision runs the full workflow. Input.Domain must already be a normalized
// subdomain prefix. Domain conflicts at phase 1 or 6 resolve to the existing
// tenant's identity rather than erroring.
func (o *Orchestrator) Provision(ctx context.Context, input service.CreateTenantInput) (service.CreateTenantResult, error) {
	var p progress

	// Phase 1: advisory domain check. The authoritative guard is the unique
	// constraint at phase 6.
	existing, err := o.store.FindByDomain(ctx, input.Domain)
	switch {
	case err == nil:
		o.logger.Info("domain already provisioned, returning existing tenant",
			zap.String("domain", input.Domain),
			zap.String("tenant_id", existing.ID.String()),
		)
		return reusedResult(existing), nil
	case !errors.Is(err, service.ErrNotFound):
		return service.CreateTenantResult{}, &PhaseError{Phase: PhaseCheckingDomain, Err: err}
	}
	p.domainChecked = true

	tenantID := uuid.New()
	databaseName := tenant.BuildDatabaseName(input.Domain, tenantID)
	logger := o.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("domain", input.Domain),
		zap.String("database", databaseName),
	)

	// Phase 2: allocate the database, clearing debris from prior failed attempts.
	if err := o.createDatabase(ctx, databaseName); err != nil {
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseCreatingDatabase, err)
	}
	p.databaseCreated = true
	logger.Info("tenant database created")

	// Phase 3: bootstrap the full schema and verify the load-bearing tables.
	if err := o.tenantDB.CreateSchema(ctx, databaseName); err != nil {
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseCreatingSchema, err)
	}
	missing, err := o.tenantDB.VerifyRequiredTables(ctx, databaseName)
	if err != nil {
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseCreatingSchema, err)
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: missing tables %v", ErrSchemaVerification, missing)
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseCreatingSchema, err)
	}
	p.schemaCreated = true
	logger.Info("tenant schema created and verified")

	// Phase 4: seed onboarding settings (upsert; retried provisioning updates).
	meta := input.Onboarding
	if meta.AgencyName == "" {
		meta.AgencyName = input.AgencyName
	}
	if err := o.tenantDB.SeedSettings(ctx, databaseName, meta); err != nil {
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseSeedingSettings, err)
	}
	p.settingsSeeded = true

	// Phase 5: founding admin, one atomic tenant-side transaction.
	adminID, err := o.tenantDB.CreateAdmin(ctx, databaseName, AdminSpec{
		Name:         input.AdminName,
		Email:        input.AdminEmail,
		PasswordHash: input.AdminPasswordHash,
	})
	if err != nil {
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseCreatingAdmin, err)
	}
	p.adminUserCreated = true
	logger.Info("founding admin created", zap.String("admin_user_id", adminID.String()))

	// Phase 6: commit the main record. Losing the domain race here is success.
	outcome, err := o.store.CommitTenant(ctx, CommitInput{
		TenantID:     tenantID,
		Name:         input.AgencyName,
		Domain:       input.Domain,
		DatabaseName: databaseName,
		OwnerUserID:  adminID,
		Plan:         input.Plan,
		Onboarding:   meta,
	})
	if err != nil {
		return service.CreateTenantResult{}, o.fail(ctx, &p, databaseName, PhaseCommittingMainRecord, err)
	}
	if outcome.Lost {
		logger.Info("lost domain race, returning winning tenant",
			zap.String("winner_tenant_id", outcome.Tenant.ID.String()),
		)
		// The winner's tenant is untouched; only our unregistered database is
		// cleaned up, best-effort. Retried attempts derive a fresh database
		// name, so nothing would ever find this leftover again: the drop must
		// run even when the request context is already dead.
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if dropErr := o.cluster.DropDatabase(dropCtx, databaseName); dropErr != nil {
			logger.Error("cleanup of losing database failed", zap.Error(dropErr))
		}
		return reusedResult(outcome.Tenant), nil
	}
	p.mainRecordCommitted = true
	logger.Info("tenant record committed")

	// Phase 7: best-effort entitlement defaults; never fails provisioning.
	if err := o.store.AssignDefaultEntitlements(ctx, tenantID, input.Plan); err != nil {
		logger.Warn("assigning default entitlements failed", zap.Error(err))
	}

	return service.CreateTenantResult{
		TenantID:     tenantID,
		DatabaseName: databaseName,
		AdminUserID:  adminID,
	}, nil
}

// Deprovision tears a tenant down: drop the database (terminating open
// backends first), evict its pool, deactivate the registry row.
func (o *Orchestrator) Deprovision(ctx context.Context, t service.Tenant) error {
	o.evictor.Evict(t.DatabaseName)

	if err := o.cluster.DropDatabase(ctx, t.DatabaseName); err != nil {
		return fmt.Errorf("drop tenant database: %w", err)
	}

	if err := o.store.Deactivate(ctx, t.ID); err != nil {
		return fmt.Errorf("deactivate tenant record: %w", err)
	}

	o.logger.Info("tenant deprovisioned",
		zap.String("tenant_id", t.ID.String()),
		zap.String("database", t.DatabaseName),
	)
	return nil
}

// createDatabase allocates a fresh database, dropping any leftover from a
// previous failed attempt, and verifies the allocation took effect.
func (o *Orchestrator) createDatabase(ctx context.Context, databaseName string) error {
	exists, err := o.cluster.DatabaseExists(ctx, databaseName)
	if err != nil {
		return err
	}
	if exists {
		o.logger.Warn("stale tenant database found, dropping before recreate",
			zap.String("database", databaseName),
		)
		if err := o.cluster.DropDatabase(ctx, databaseName); err != nil {
			return fmt.Errorf("drop stale database: %w", err)
		}
	}

	if err := o.cluster.CreateDatabase(ctx, databaseName); err != nil {
		return err
	}

	exists, err = o.cluster.DatabaseExists(ctx, databaseName)
	if err != nil {
		return fmt.Errorf("verify database creation: %w", err)
	}
	if !exists {
		return errors.New("database missing after create")
	}
	return nil
}

// fail runs compensation for a fatal phase failure and returns the summarized
// error. Compensation failures are logged but never mask the original cause.
func (o *Orchestrator) fail(ctx context.Context, p *progress, databaseName, phase string, cause error) error {
	if p.databaseCreated && !p.mainRecordCommitted {
		// Compensation must run even when the request context is already dead.
		compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		o.evictor.Evict(databaseName)
		if err := o.cluster.DropDatabase(compCtx, databaseName); err != nil {
			o.logger.Error("compensation failed: tenant database not dropped",
				zap.String("database", databaseName),
				zap.String("phase", phase),
				zap.Error(err),
			)
		} else {
			o.logger.Info("compensation completed: tenant database dropped",
				zap.String("database", databaseName),
				zap.String("phase", phase),
			)
		}
	}

	return &PhaseError{Phase: phase, Err: cause}
}

func reusedResult(t service.Tenant) service.CreateTenantResult {
	return service.CreateTenantResult{
		TenantID:       t.ID,
		DatabaseName:   t.DatabaseName,
		AdminUserID:    t.OwnerUserID,
		ReusedExisting: true,
	}
}

var _ service.Orchestrator = (*Orchestrator)(nil)
