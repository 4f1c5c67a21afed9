package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyConnErrorInvalidCatalog(t *testing.T) {
	err := classifyConnError(&pgconn.PgError{Code: "3D000", Message: `database "agency_gone" does not exist`})
	require.ErrorIs(t, err, ErrTenantDatabaseNotFound)
	require.NotErrorIs(t, err, ErrTenantUnreachable)
}

func TestClassifyConnErrorAuthClass(t *testing.T) {
	for _, code := range []string{"28000", "28P01"} {
		err := classifyConnError(&pgconn.PgError{Code: code})
		require.ErrorIs(t, err, ErrTenantConfigInvalid, "code %s", code)
	}
}

func TestClassifyConnErrorNetwork(t *testing.T) {
	err := classifyConnError(&timeoutError{})
	require.ErrorIs(t, err, ErrTenantUnreachable)

	err = classifyConnError(fmt.Errorf("dial: %w", context.DeadlineExceeded))
	require.ErrorIs(t, err, ErrTenantUnreachable)
}

func TestClassifyConnErrorKeepsCause(t *testing.T) {
	cause := &pgconn.PgError{Code: "3D000"}
	err := classifyConnError(fmt.Errorf("connect: %w", cause))

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	require.Equal(t, "3D000", pgErr.Code)
}

func TestClassifyConnErrorUnknownDefaultsToUnreachable(t *testing.T) {
	err := classifyConnError(errors.New("something odd"))
	require.ErrorIs(t, err, ErrTenantUnreachable)
}

func TestClassifyConnErrorNil(t *testing.T) {
	require.NoError(t, classifyConnError(nil))
}

func TestIsUndefinedTable(t *testing.T) {
	table, ok := IsUndefinedTable(&pgconn.PgError{Code: "42P01", TableName: "attendance"})
	require.True(t, ok)
	require.Equal(t, "attendance", table)

	_, ok = IsUndefinedTable(&pgconn.PgError{Code: "23505"})
	require.False(t, ok)

	_, ok = IsUndefinedTable(errors.New("plain"))
	require.False(t, ok)
}

// timeoutError implements net.Error for classification tests.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
