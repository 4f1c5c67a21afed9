package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agencyhub/agencyhub/domains/tenants/be/provisioning"
	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
)

const uniqueViolation = "23505"

// Administrative-database DDL. Idempotent; applied by NewPostgresRepository so
// a fresh central database bootstraps itself.
var adminDDL = []string{
	`CREATE TABLE IF NOT EXISTS agency_tenants (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE,
		database_name TEXT NOT NULL UNIQUE,
		owner_user_id UUID NOT NULL,
		plan TEXT NOT NULL DEFAULT 'free',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_settings_mirror (
		tenant_id UUID PRIMARY KEY REFERENCES agency_tenants(id) ON DELETE CASCADE,
		agency_name TEXT NOT NULL DEFAULT '',
		industry TEXT,
		address TEXT,
		locale TEXT NOT NULL DEFAULT 'en',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_entitlements (
		tenant_id UUID NOT NULL REFERENCES agency_tenants(id) ON DELETE CASCADE,
		feature TEXT NOT NULL,
		granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (tenant_id, feature)
	)`,
}

// PostgresRepository is the tenant registry over the administrative database.
// It serves both the read paths (service.Repository) and the provisioning
// commit/entitlement paths (provisioning.RegistryStore).
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs the repository and ensures the registry
// tables exist.
func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, errors.New("admin pool is required")
	}
	for _, stmt := range adminDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure admin registry tables: %w", err)
		}
	}
	return &PostgresRepository{pool: pool}, nil
}

const tenantColumns = "id, name, domain, database_name, owner_user_id, plan, is_active, created_at"

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM agency_tenants WHERE id = $1", id)
	return scanTenant(row)
}

// FindByDomain matches the normalized prefix exactly or any fully-qualified
// domain under it.
func (r *PostgresRepository) FindByDomain(ctx context.Context, domainPrefix string) (service.Tenant, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+tenantColumns+` FROM agency_tenants
		WHERE (domain = $1 OR domain LIKE $1 || '.%') AND is_active = TRUE`, domainPrefix)
	return scanTenant(row)
}

func (r *PostgresRepository) FindByDatabaseName(ctx context.Context, databaseName string) (service.Tenant, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM agency_tenants WHERE database_name = $1", databaseName)
	return scanTenant(row)
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM agency_tenants WHERE is_active = TRUE").Scan(&total); err != nil {
		return service.ListResult{}, err
	}

	rows, err := r.pool.Query(ctx,
		"SELECT "+tenantColumns+` FROM agency_tenants
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, size, offset)
	if err != nil {
		return service.ListResult{}, err
	}
	defer rows.Close()

	var tenants []service.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return service.ListResult{}, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return service.ListResult{}, err
	}

	return service.ListResult{Tenants: tenants, Page: page, PageSize: size, TotalItems: total}, nil
}

// CommitTenant inserts the main tenant record and upserts the settings mirror
// in one administrative transaction. A domain-uniqueness conflict means a
// concurrent provisioning won the race: the winner's record is returned with
// Lost set instead of an error.
func (r *PostgresRepository) CommitTenant(ctx context.Context, input provisioning.CommitInput) (provisioning.CommitOutcome, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return provisioning.CommitOutcome{}, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Settings-extension columns may postdate an older central database.
	for _, stmt := range []string{
		`ALTER TABLE tenant_settings_mirror ADD COLUMN IF NOT EXISTS timezone TEXT`,
		`ALTER TABLE tenant_settings_mirror ADD COLUMN IF NOT EXISTS currency TEXT NOT NULL DEFAULT 'USD'`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return provisioning.CommitOutcome{}, fmt.Errorf("ensure settings mirror columns: %w", err)
		}
	}

	plan := input.Plan
	if plan == "" {
		plan = "free"
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO agency_tenants (id, name, domain, database_name, owner_user_id, plan)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			owner_user_id = EXCLUDED.owner_user_id,
			plan = EXCLUDED.plan,
			is_active = TRUE`,
		input.TenantID, input.Name, input.Domain, input.DatabaseName, input.OwnerUserID, plan,
	); err != nil {
		if isDomainConflict(err) {
			_ = tx.Rollback(ctx)
			winner, findErr := r.FindByDomain(ctx, input.Domain)
			if findErr != nil {
				return provisioning.CommitOutcome{}, fmt.Errorf("resolve winning tenant after domain conflict: %w", findErr)
			}
			return provisioning.CommitOutcome{Tenant: winner, Lost: true}, nil
		}
		return provisioning.CommitOutcome{}, fmt.Errorf("insert tenant record: %w", err)
	}

	meta := input.Onboarding
	if _, err := tx.Exec(ctx, `
		INSERT INTO tenant_settings_mirror (tenant_id, agency_name, industry, address, locale, timezone, currency, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), COALESCE(NULLIF($5, ''), 'en'), NULLIF($6, ''), COALESCE(NULLIF($7, ''), 'USD'), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			agency_name = EXCLUDED.agency_name,
			industry = EXCLUDED.industry,
			address = EXCLUDED.address,
			locale = EXCLUDED.locale,
			timezone = EXCLUDED.timezone,
			currency = EXCLUDED.currency,
			updated_at = NOW()`,
		input.TenantID, meta.AgencyName, meta.Industry, meta.Address, meta.Locale, meta.Timezone, meta.Currency,
	); err != nil {
		return provisioning.CommitOutcome{}, fmt.Errorf("upsert settings mirror: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isDomainConflict(err) {
			winner, findErr := r.FindByDomain(ctx, input.Domain)
			if findErr != nil {
				return provisioning.CommitOutcome{}, fmt.Errorf("resolve winning tenant after domain conflict: %w", findErr)
			}
			return provisioning.CommitOutcome{Tenant: winner, Lost: true}, nil
		}
		return provisioning.CommitOutcome{}, fmt.Errorf("commit tenant record: %w", err)
	}

	return provisioning.CommitOutcome{
		Tenant: service.Tenant{
			ID:           input.TenantID,
			Name:         input.Name,
			Domain:       input.Domain,
			DatabaseName: input.DatabaseName,
			OwnerUserID:  input.OwnerUserID,
			Plan:         plan,
			IsActive:     true,
		},
	}, nil
}

// Plan entitlement defaults assigned in the best-effort final phase.
var planEntitlements = map[string][]string{
	"free":       {"dashboard", "documents"},
	"starter":    {"dashboard", "documents", "projects", "hr"},
	"business":   {"dashboard", "documents", "projects", "hr", "financial", "gst"},
	"enterprise": {"dashboard", "documents", "projects", "hr", "financial", "gst", "reports", "workflows"},
}

func (r *PostgresRepository) AssignDefaultEntitlements(ctx context.Context, tenantID uuid.UUID, plan string) error {
	features, ok := planEntitlements[plan]
	if !ok {
		features = planEntitlements["free"]
	}

	for _, feature := range features {
		if _, err := r.pool.Exec(ctx, `
			INSERT INTO tenant_entitlements (tenant_id, feature)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			tenantID, feature,
		); err != nil {
			return fmt.Errorf("grant entitlement %s: %w", feature, err)
		}
	}
	return nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE agency_tenants SET is_active = FALSE WHERE id = $1", tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func scanTenant(row pgx.Row) (service.Tenant, error) {
	var t service.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Domain, &t.DatabaseName, &t.OwnerUserID, &t.Plan, &t.IsActive, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.Tenant{}, service.ErrNotFound
		}
		return service.Tenant{}, err
	}
	return t, nil
}

func isDomainConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == "agency_tenants_domain_key"
}

// Ensure interface compliance.
var (
	_ service.Repository         = (*PostgresRepository)(nil)
	_ provisioning.RegistryStore = (*PostgresRepository)(nil)
)
