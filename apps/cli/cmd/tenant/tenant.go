package tenantcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agencyhub/agencyhub/domains/tenants/be/provisioning"
	"github.com/agencyhub/agencyhub/domains/tenants/be/repo"
	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/logging"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/schema"
)

// clusterFlags holds the shared connection flags every tenant subcommand needs.
type clusterFlags struct {
	adminDatabaseURL string
	host             string
	port             int
	user             string
	password         string
	sslMode          string
	maintenanceDB    string
}

func (f *clusterFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.adminDatabaseURL, "admin-database-url", "", "PostgreSQL connection string for the administrative database")
	c.Flags().StringVar(&f.host, "cluster-host", "localhost", "Cluster host")
	c.Flags().IntVar(&f.port, "cluster-port", 5432, "Cluster port")
	c.Flags().StringVar(&f.user, "cluster-user", "", "Cluster superuser")
	c.Flags().StringVar(&f.password, "cluster-password", "", "Cluster password")
	c.Flags().StringVar(&f.sslMode, "cluster-sslmode", "prefer", "Cluster sslmode")
	c.Flags().StringVar(&f.maintenanceDB, "maintenance-db", "postgres", "Maintenance database for CREATE/DROP DATABASE")

	_ = c.MarkFlagRequired("admin-database-url")
	_ = c.MarkFlagRequired("cluster-user")
}

// buildService wires the full provisioning stack for one CLI invocation.
// The returned cleanup closes every pool it opened.
func buildService(ctx context.Context, f clusterFlags) (*service.Service, func(), error) {
	logger, err := logging.NewLogger(logging.Config{Component: "cli", Level: "info"})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: f.adminDatabaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init admin pool: %w", err)
	}

	cluster := persistence.NewCluster(persistence.ClusterConfig{
		Host:          f.host,
		Port:          f.port,
		User:          f.user,
		Password:      f.password,
		SSLMode:       f.sslMode,
		MaintenanceDB: f.maintenanceDB,
	})

	registry := persistence.NewRegistry(persistence.RegistryConfig{
		Cluster: cluster.Config(),
		Logger:  logger,
	})

	engine := schema.NewEngine(schema.Config{Logger: logger})

	tenantRepo, err := repo.NewPostgresRepository(ctx, adminPool)
	if err != nil {
		registry.Close()
		persistence.ClosePool(adminPool)
		return nil, nil, fmt.Errorf("init tenant repository: %w", err)
	}

	dbOps := provisioning.NewDBOps(cluster, engine)
	orchestrator := provisioning.New(cluster, dbOps, tenantRepo, registry, logger)
	manager := provisioning.NewManager(registry, engine, logger)

	cleanup := func() {
		registry.Close()
		persistence.ClosePool(adminPool)
		_ = logger.Sync()
	}
	return service.New(tenantRepo, orchestrator, manager), cleanup, nil
}

// Command groups tenant-related helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create/repair/check-domain)",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(checkDomainCommand())
	cmd.AddCommand(repairCommand())
	return cmd
}

func createCommand() *cobra.Command {
	var (
		flags             clusterFlags
		agencyName        string
		domain            string
		adminName         string
		adminEmail        string
		adminPasswordHash string
		plan              string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Provision a tenant: database, schema, settings, founding admin, registry record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := buildService(ctx, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.CreateTenant(ctx, service.CreateTenantInput{
				AgencyName:        agencyName,
				Domain:            domain,
				AdminName:         adminName,
				AdminEmail:        adminEmail,
				AdminPasswordHash: adminPasswordHash,
				Plan:              plan,
			})
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}

			if result.ReusedExisting {
				fmt.Fprintf(cmd.OutOrStdout(), "Domain already provisioned. Tenant: %s, database: %s\n",
					result.TenantID, result.DatabaseName)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant provisioned. Tenant: %s, database: %s, admin user: %s\n",
				result.TenantID, result.DatabaseName, result.AdminUserID)
			return nil
		},
	}

	flags.register(c)
	c.Flags().StringVar(&agencyName, "agency-name", "", "Agency display name")
	c.Flags().StringVar(&domain, "domain", "", "Requested tenant domain or subdomain prefix")
	c.Flags().StringVar(&adminName, "admin-name", "", "Founding admin full name")
	c.Flags().StringVar(&adminEmail, "admin-email", "", "Founding admin email")
	c.Flags().StringVar(&adminPasswordHash, "admin-password-hash", "", "Founding admin password hash")
	c.Flags().StringVar(&plan, "plan", "free", "Subscription plan")

	_ = c.MarkFlagRequired("agency-name")
	_ = c.MarkFlagRequired("domain")
	_ = c.MarkFlagRequired("admin-email")
	_ = c.MarkFlagRequired("admin-password-hash")

	return c
}

func checkDomainCommand() *cobra.Command {
	var (
		flags  clusterFlags
		domain string
	)

	c := &cobra.Command{
		Use:   "check-domain",
		Short: "Check whether a tenant domain prefix is still available",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := buildService(ctx, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			available, err := svc.CheckDomainAvailable(ctx, domain)
			if err != nil {
				return fmt.Errorf("check domain: %w", err)
			}

			if available {
				fmt.Fprintf(cmd.OutOrStdout(), "Domain %q is available\n", domain)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Domain %q is taken\n", domain)
			}
			return nil
		},
	}

	flags.register(c)
	c.Flags().StringVar(&domain, "domain", "", "Domain or subdomain prefix to check")
	_ = c.MarkFlagRequired("domain")

	return c
}

func repairCommand() *cobra.Command {
	var (
		flags        clusterFlags
		databaseName string
	)

	c := &cobra.Command{
		Use:   "repair",
		Short: "Run idempotent schema repair against an existing tenant database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := buildService(ctx, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := svc.RepairTenantSchema(ctx, databaseName)
			if err != nil {
				return fmt.Errorf("repair tenant schema: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Repair complete. Tables before: %d, after: %d, added: %v\n",
				len(report.TablesBefore), len(report.TablesAfter), report.Added)
			return nil
		},
	}

	flags.register(c)
	c.Flags().StringVar(&databaseName, "database", "", "Tenant database name")
	_ = c.MarkFlagRequired("database")

	return c
}
