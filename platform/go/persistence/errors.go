package persistence

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Errors surfaced by the pool registry and cluster helpers. Callers decide
// retry policy: ErrTenantUnreachable and ErrPoolSaturated are retryable,
// ErrTenantDatabaseNotFound and ErrTenantConfigInvalid are not.
var (
	// ErrTenantDatabaseNotFound indicates the named tenant database does not exist on the cluster.
	ErrTenantDatabaseNotFound = errors.New("tenant database not found")
	// ErrTenantUnreachable indicates a transient connectivity failure; retryable.
	ErrTenantUnreachable = errors.New("tenant database unreachable")
	// ErrTenantConfigInvalid indicates credentials or connection configuration are wrong; fatal.
	ErrTenantConfigInvalid = errors.New("tenant connection config invalid")
	// ErrPoolSaturated indicates the per-tenant connection ceiling was hit and the bounded wait expired.
	ErrPoolSaturated = errors.New("tenant pool saturated")
)

// PostgreSQL SQLSTATE codes the registry cares about.
const (
	codeInvalidCatalogName = "3D000"
	codeUndefinedTable     = "42P01"
	classInvalidAuth       = "28"
)

// classifyConnError maps a raw connection/ping failure onto the registry error
// taxonomy so callers can distinguish missing databases from transient faults.
// The original error is kept in the chain.
func classifyConnError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeInvalidCatalogName:
			return errors.Join(ErrTenantDatabaseNotFound, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == classInvalidAuth:
			return errors.Join(ErrTenantConfigInvalid, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTenantUnreachable, err)
	}

	var parseErr *pgconn.ParseConfigError
	if errors.As(err, &parseErr) {
		return errors.Join(ErrTenantConfigInvalid, err)
	}

	return errors.Join(ErrTenantUnreachable, err)
}

// IsUndefinedTable reports whether err is a PostgreSQL undefined_table error,
// the signal consumed by reactive schema repair.
func IsUndefinedTable(err error) (table string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
		return pgErr.TableName, true
	}
	return "", false
}
