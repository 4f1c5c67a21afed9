package provisioning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/schema"
)

// Manager performs maintenance against existing tenant databases through the
// pool registry: administrative schema repair and setup completion.
type Manager struct {
	registry *persistence.Registry
	engine   *schema.Engine
	logger   *zap.Logger
}

// NewManager constructs the tenant database manager.
func NewManager(registry *persistence.Registry, engine *schema.Engine, logger *zap.Logger) *Manager {
	if registry == nil {
		panic("manager requires pool registry")
	}
	if engine == nil {
		panic("manager requires schema engine")
	}
	if logger == nil {
		panic("manager requires logger")
	}
	return &Manager{registry: registry, engine: engine, logger: logger}
}

// Repair runs the idempotent ensure-all pass and reports added tables.
func (m *Manager) Repair(ctx context.Context, databaseName string) (service.RepairReport, error) {
	pool, err := m.registry.Pool(ctx, databaseName)
	if err != nil {
		return service.RepairReport{}, err
	}

	report, err := m.engine.Repair(ctx, pool)
	if err != nil {
		return service.RepairReport{}, err
	}

	return service.RepairReport{
		TablesBefore: report.TablesBefore,
		TablesAfter:  report.TablesAfter,
		Added:        report.Added,
	}, nil
}

// CompleteSetup writes extended settings and creates team members. Each member
// runs in its own savepoint: one bad record is reported in the manifest and
// never aborts the others. A missing relation triggers reactive schema repair
// when that mode is enabled.
func (m *Manager) CompleteSetup(ctx context.Context, databaseName string, settings service.ExtendedSettings, members []service.TeamMemberInput) (service.TeamCredentialsManifest, error) {
	pool, err := m.registry.Pool(ctx, databaseName)
	if err != nil {
		return service.TeamCredentialsManifest{}, err
	}

	var manifest service.TeamCredentialsManifest
	err = m.engine.WithRetry(ctx, pool, func() error {
		manifest = service.TeamCredentialsManifest{}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin setup tx: %w", err)
		}
		defer tx.Rollback(ctx) // nolint:errcheck

		if _, err := tx.Exec(ctx, `
			UPDATE settings SET
				website = COALESCE(NULLIF($1, ''), website),
				phone = COALESCE(NULLIF($2, ''), phone),
				tax_id = COALESCE(NULLIF($3, ''), tax_id),
				timezone = COALESCE(NULLIF($4, ''), timezone),
				updated_at = NOW()
			WHERE id = 1`,
			settings.Website, settings.Phone, settings.TaxID, settings.Timezone,
		); err != nil {
			return fmt.Errorf("update extended settings: %w", err)
		}

		for _, member := range members {
			cred, memberErr := createTeamMember(ctx, tx, member)
			if memberErr != nil {
				m.logger.Warn("team member creation failed",
					zap.String("database", databaseName),
					zap.String("email", member.Email),
					zap.Error(memberErr),
				)
				manifest.Failed = append(manifest.Failed, service.TeamMemberCredential{
					Email: member.Email,
					Error: memberErr.Error(),
				})
				continue
			}
			manifest.Created = append(manifest.Created, cred)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return service.TeamCredentialsManifest{}, err
	}
	return manifest, nil
}

// createTeamMember wraps one member's rows in a savepoint (nested pgx
// transaction) so its failure rolls back only that member.
func createTeamMember(ctx context.Context, tx pgx.Tx, member service.TeamMemberInput) (service.TeamMemberCredential, error) {
	sub, err := tx.Begin(ctx)
	if err != nil {
		return service.TeamMemberCredential{}, fmt.Errorf("begin member savepoint: %w", err)
	}
	defer sub.Rollback(ctx) // nolint:errcheck

	userID := uuid.New()
	if _, err := sub.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, full_name)
		VALUES ($1, $2, $3, $4)`,
		userID, member.Email, member.PasswordHash, member.Name,
	); err != nil {
		return service.TeamMemberCredential{}, fmt.Errorf("create user: %w", err)
	}

	if _, err := sub.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1)`, userID); err != nil {
		return service.TeamMemberCredential{}, fmt.Errorf("create profile: %w", err)
	}

	roleName := member.RoleName
	if roleName == "" {
		roleName = "member"
	}
	roleID := uuid.New()
	if err := sub.QueryRow(ctx, `
		INSERT INTO roles (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, roleID, roleName,
	).Scan(&roleID); err != nil {
		return service.TeamMemberCredential{}, fmt.Errorf("ensure role %s: %w", roleName, err)
	}

	if _, err := sub.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		userID, roleID,
	); err != nil {
		return service.TeamMemberCredential{}, fmt.Errorf("assign role: %w", err)
	}

	if err := sub.Commit(ctx); err != nil {
		return service.TeamMemberCredential{}, fmt.Errorf("commit member savepoint: %w", err)
	}

	return service.TeamMemberCredential{UserID: userID, Email: member.Email}, nil
}

var _ service.TenantDatabaseManager = (*Manager)(nil)
