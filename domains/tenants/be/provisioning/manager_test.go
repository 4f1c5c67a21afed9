package provisioning

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/schema"
)

// integrationPool connects to TEST_DATABASE_URL, ensures the core module, and
// seeds the settings singleton row.
func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok || url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	engine := schema.NewEngine(schema.Config{Logger: zap.NewNop()})
	require.NoError(t, engine.EnsureModule(ctx, pool, schema.ModuleCore))

	_, err = pool.Exec(ctx, `INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)

	return pool
}

// managerForPool builds a Manager whose registry hands out the given pool
// regardless of database name, so the test exercises the real savepoint logic
// against the TEST_DATABASE_URL database.
func managerForPool(t *testing.T, pool *pgxpool.Pool) *Manager {
	t.Helper()

	registry := persistence.NewRegistry(persistence.RegistryConfig{
		Logger: zap.NewNop(),
		Connect: func(ctx context.Context, databaseName string) (*pgxpool.Pool, error) {
			return pool, nil
		},
	})
	engine := schema.NewEngine(schema.Config{Logger: zap.NewNop()})
	return NewManager(registry, engine, zap.NewNop())
}

func TestCompleteSetupIsolatesFailedMember(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	aliceEmail := fmt.Sprintf("alice_%s@acme.test", suffix)
	bobEmail := fmt.Sprintf("bob_%s@acme.test", suffix)
	t.Cleanup(func() {
		_, err := pool.Exec(ctx, `DELETE FROM users WHERE email = ANY($1)`, []string{aliceEmail, bobEmail})
		require.NoError(t, err)
	})

	m := managerForPool(t, pool)

	website := fmt.Sprintf("https://%s.acme.test", suffix)
	manifest, err := m.CompleteSetup(ctx, "agency_acme_a1b2c3d4",
		service.ExtendedSettings{Website: website},
		[]service.TeamMemberInput{
			{Name: "Alice", Email: aliceEmail, PasswordHash: "x", RoleName: "admin"},
			{Name: "Bob", Email: bobEmail, PasswordHash: "x"},
			{Name: "Alice Again", Email: aliceEmail, PasswordHash: "x"}, // duplicate email
		},
	)
	require.NoError(t, err)

	// The duplicate rolls back its own savepoint only: the other two members
	// and the settings update still commit.
	require.Len(t, manifest.Created, 2)
	require.Len(t, manifest.Failed, 1)
	require.Equal(t, aliceEmail, manifest.Failed[0].Email)
	require.NotEmpty(t, manifest.Failed[0].Error)

	var users int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE email = ANY($1)`,
		[]string{aliceEmail, bobEmail}).Scan(&users)
	require.NoError(t, err)
	require.Equal(t, 2, users)

	var gotWebsite string
	err = pool.QueryRow(ctx, `SELECT website FROM settings WHERE id = 1`).Scan(&gotWebsite)
	require.NoError(t, err)
	require.Equal(t, website, gotWebsite)
}
