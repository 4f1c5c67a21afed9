package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ClusterConfig holds the cluster coordinates used both to build per-tenant
// connection targets and to open privileged administrative connections.
type ClusterConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	SSLMode       string
	MaintenanceDB string        // database used for CREATE/DROP DATABASE, typically "postgres"
	StmtTimeout   time.Duration // statement timeout applied to administrative sessions
}

// ConnString produces a validated connection target for the named database.
// The database name is validated before being embedded so unsafe identifiers
// never reach the driver.
func (c ClusterConfig) ConnString(databaseName string) (string, error) {
	if err := ValidateIdentifier(databaseName); err != nil {
		return "", fmt.Errorf("build conn string: %w", err)
	}
	if strings.TrimSpace(c.Host) == "" {
		return "", errors.New("cluster host is required")
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   "/" + databaseName,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Cluster performs cluster-level administrative operations (database creation,
// teardown, existence checks). Administrative sessions are never pooled: each
// call opens one connection, runs the minimum necessary statements, and closes
// it on every exit path.
type Cluster struct {
	cfg ClusterConfig
}

func NewCluster(cfg ClusterConfig) *Cluster {
	if cfg.MaintenanceDB == "" {
		cfg.MaintenanceDB = "postgres"
	}
	if cfg.StmtTimeout <= 0 {
		cfg.StmtTimeout = 30 * time.Second
	}
	return &Cluster{cfg: cfg}
}

// Config returns the cluster coordinates used by this helper.
func (c *Cluster) Config() ClusterConfig {
	return c.cfg
}

// WithAdminConn opens a scoped administrative connection to the maintenance
// database, applies the statement timeout, runs fn, and closes the connection
// regardless of outcome.
func (c *Cluster) WithAdminConn(ctx context.Context, fn func(conn *pgx.Conn) error) error {
	connString, err := c.cfg.ConnString(c.cfg.MaintenanceDB)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return classifyConnError(err)
	}
	defer conn.Close(ctx) // nolint:errcheck

	timeoutMS := c.cfg.StmtTimeout.Milliseconds()
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMS)); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	return fn(conn)
}

// WithTenantConn opens a scoped, non-pooled connection directly to the named
// tenant database. Used during provisioning before the database is registered
// with the pool registry.
func (c *Cluster) WithTenantConn(ctx context.Context, databaseName string, fn func(conn *pgx.Conn) error) error {
	connString, err := c.cfg.ConnString(databaseName)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return classifyConnError(err)
	}
	defer conn.Close(ctx) // nolint:errcheck

	timeoutMS := c.cfg.StmtTimeout.Milliseconds()
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMS)); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	return fn(conn)
}

// DatabaseExists reports whether the named database exists on the cluster.
func (c *Cluster) DatabaseExists(ctx context.Context, databaseName string) (bool, error) {
	if err := ValidateIdentifier(databaseName); err != nil {
		return false, err
	}

	var exists bool
	err := c.WithAdminConn(ctx, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", databaseName,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check database existence: %w", err)
	}
	return exists, nil
}

// CreateDatabase creates the named database. CREATE DATABASE cannot run inside
// a transaction, so the statement executes on a plain administrative session.
func (c *Cluster) CreateDatabase(ctx context.Context, databaseName string) error {
	quoted, err := QuoteIdentifier(databaseName)
	if err != nil {
		return err
	}

	return c.WithAdminConn(ctx, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "CREATE DATABASE "+quoted); err != nil {
			return fmt.Errorf("create database %s: %w", databaseName, err)
		}
		return nil
	})
}

// DropDatabase terminates open backends and drops the named database. Used by
// provisioning compensation and tenant deletion; no-op if the database is gone.
func (c *Cluster) DropDatabase(ctx context.Context, databaseName string) error {
	quoted, err := QuoteIdentifier(databaseName)
	if err != nil {
		return err
	}

	return c.WithAdminConn(ctx, func(conn *pgx.Conn) error {
		if err := terminateBackends(ctx, conn, databaseName); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+quoted); err != nil {
			return fmt.Errorf("drop database %s: %w", databaseName, err)
		}
		return nil
	})
}

// TerminateBackends force-closes every connection to the named database.
func (c *Cluster) TerminateBackends(ctx context.Context, databaseName string) error {
	if err := ValidateIdentifier(databaseName); err != nil {
		return err
	}

	return c.WithAdminConn(ctx, func(conn *pgx.Conn) error {
		return terminateBackends(ctx, conn, databaseName)
	})
}

func terminateBackends(ctx context.Context, conn *pgx.Conn, databaseName string) error {
	if _, err := conn.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, databaseName); err != nil {
		return fmt.Errorf("terminate backends for %s: %w", databaseName, err)
	}
	return nil
}
