package service

import (
	"context"
)

// Orchestrator drives the multi-phase create-tenant workflow with compensating
// rollback, and its inverse for deletion. Implemented by the provisioning package.
type Orchestrator interface {
	Provision(ctx context.Context, input CreateTenantInput) (CreateTenantResult, error)
	Deprovision(ctx context.Context, t Tenant) error
}

// TenantDatabaseManager performs maintenance operations against an existing
// tenant database: idempotent schema repair and post-provisioning setup
// completion. Implemented by the provisioning package.
type TenantDatabaseManager interface {
	Repair(ctx context.Context, databaseName string) (RepairReport, error)
	CompleteSetup(ctx context.Context, databaseName string, settings ExtendedSettings, members []TeamMemberInput) (TeamCredentialsManifest, error)
}
