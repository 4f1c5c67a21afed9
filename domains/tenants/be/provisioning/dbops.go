package provisioning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/schema"
)

// DBOps implements TenantDBOps with dedicated, non-pooled connections into the
// new tenant database. Provisioning happens outside the pool registry; the
// registry only sees the database once it is committed and usable.
type DBOps struct {
	cluster *persistence.Cluster
	engine  *schema.Engine
}

// NewDBOps constructs the tenant-database operations used during provisioning.
func NewDBOps(cluster *persistence.Cluster, engine *schema.Engine) *DBOps {
	if cluster == nil {
		panic("db ops requires cluster")
	}
	if engine == nil {
		panic("db ops requires schema engine")
	}
	return &DBOps{cluster: cluster, engine: engine}
}

// CreateSchema runs the repair engine in create-all-modules mode.
func (d *DBOps) CreateSchema(ctx context.Context, databaseName string) error {
	return d.cluster.WithTenantConn(ctx, databaseName, func(conn *pgx.Conn) error {
		return d.engine.EnsureAll(ctx, conn)
	})
}

// VerifyRequiredTables returns the load-bearing tables still missing after
// schema creation.
func (d *DBOps) VerifyRequiredTables(ctx context.Context, databaseName string) ([]string, error) {
	var missing []string
	err := d.cluster.WithTenantConn(ctx, databaseName, func(conn *pgx.Conn) error {
		var verifyErr error
		missing, verifyErr = d.engine.VerifyRequiredTables(ctx, conn)
		return verifyErr
	})
	return missing, err
}

// SeedSettings upserts the singleton settings row with onboarding metadata.
// Retried provisioning updates the existing row rather than duplicating it.
func (d *DBOps) SeedSettings(ctx context.Context, databaseName string, meta service.OnboardingMetadata) error {
	locale := meta.Locale
	if locale == "" {
		locale = "en"
	}
	currency := meta.Currency
	if currency == "" {
		currency = "USD"
	}

	return d.cluster.WithTenantConn(ctx, databaseName, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO settings (id, agency_name, industry, address, locale, timezone, currency, updated_at)
			VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (id) DO UPDATE SET
				agency_name = EXCLUDED.agency_name,
				industry = EXCLUDED.industry,
				address = EXCLUDED.address,
				locale = EXCLUDED.locale,
				timezone = EXCLUDED.timezone,
				currency = EXCLUDED.currency,
				updated_at = NOW()`,
			meta.AgencyName, nullable(meta.Industry), nullable(meta.Address), locale, nullable(meta.Timezone), currency,
		)
		if err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		return nil
	})
}

// CreateAdmin creates the founding admin inside one tenant-side transaction:
// user, profile, employee record, and the admin role assignment. Any default
// non-admin role attached by table defaults is removed. A failure rolls back
// only this transaction.
func (d *DBOps) CreateAdmin(ctx context.Context, databaseName string, admin AdminSpec) (uuid.UUID, error) {
	userID := uuid.New()

	err := d.cluster.WithTenantConn(ctx, databaseName, func(conn *pgx.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin admin tx: %w", err)
		}
		defer tx.Rollback(ctx) // nolint:errcheck

		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, full_name)
			VALUES ($1, $2, $3, $4)`,
			userID, admin.Email, admin.PasswordHash, admin.Name,
		); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id) VALUES ($1)`, userID,
		); err != nil {
			return fmt.Errorf("create admin profile: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO employees (id, user_id, employee_code)
			VALUES ($1, $2, 'EMP-0001')`,
			uuid.New(), userID,
		); err != nil {
			return fmt.Errorf("create admin employee record: %w", err)
		}

		adminRoleID := uuid.New()
		if err := tx.QueryRow(ctx, `
			INSERT INTO roles (id, name, is_admin)
			VALUES ($1, 'admin', TRUE)
			ON CONFLICT (name) DO UPDATE SET is_admin = TRUE
			RETURNING id`, adminRoleID,
		).Scan(&adminRoleID); err != nil {
			return fmt.Errorf("ensure admin role: %w", err)
		}

		// Strip any non-admin role a table default may have attached.
		if _, err := tx.Exec(ctx, `
			DELETE FROM user_roles
			WHERE user_id = $1
			  AND role_id IN (SELECT id FROM roles WHERE is_admin = FALSE)`,
			userID,
		); err != nil {
			return fmt.Errorf("remove default roles: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			userID, adminRoleID,
		); err != nil {
			return fmt.Errorf("assign admin role: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ TenantDBOps = (*DBOps)(nil)
