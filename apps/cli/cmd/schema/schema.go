package schemacmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/agencyhub/agencyhub/platform/go/logging"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
	"github.com/agencyhub/agencyhub/platform/go/schema"
)

// Command groups schema-engine helpers that talk to a tenant database directly,
// without going through the tenant registry.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema utilities (ensure modules, list modules)",
	}

	cmd.AddCommand(ensureCommand())
	cmd.AddCommand(modulesCommand())
	return cmd
}

func ensureCommand() *cobra.Command {
	var (
		host          string
		port          int
		user          string
		password      string
		sslMode       string
		maintenanceDB string
		databaseName  string
		moduleName    string
	)

	c := &cobra.Command{
		Use:   "ensure",
		Short: "Apply idempotent module DDL to a tenant database (all modules by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			logger, err := logging.NewLogger(logging.Config{Component: "cli", Level: "info"})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			cluster := persistence.NewCluster(persistence.ClusterConfig{
				Host:          host,
				Port:          port,
				User:          user,
				Password:      password,
				SSLMode:       sslMode,
				MaintenanceDB: maintenanceDB,
			})
			engine := schema.NewEngine(schema.Config{Logger: logger})

			err = cluster.WithTenantConn(ctx, databaseName, func(conn *pgx.Conn) error {
				if moduleName != "" {
					return engine.EnsureModule(ctx, conn, moduleName)
				}
				return engine.EnsureAll(ctx, conn)
			})
			if err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema ensured")
			return nil
		},
	}

	c.Flags().StringVar(&host, "cluster-host", "localhost", "Cluster host")
	c.Flags().IntVar(&port, "cluster-port", 5432, "Cluster port")
	c.Flags().StringVar(&user, "cluster-user", "", "Cluster superuser")
	c.Flags().StringVar(&password, "cluster-password", "", "Cluster password")
	c.Flags().StringVar(&sslMode, "cluster-sslmode", "prefer", "Cluster sslmode")
	c.Flags().StringVar(&maintenanceDB, "maintenance-db", "postgres", "Maintenance database")
	c.Flags().StringVar(&databaseName, "database", "", "Tenant database name")
	c.Flags().StringVar(&moduleName, "module", "", "Single module to ensure (default: all)")

	_ = c.MarkFlagRequired("cluster-user")
	_ = c.MarkFlagRequired("database")

	return c
}

func modulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered schema modules and their tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range schema.Modules {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %v\n", m.Name, m.Tables)
			}
			return nil
		},
	}
}
