package persistence

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateIdentifier enforces the subset of PostgreSQL identifiers we allow
// for tenant database names: lowercase snake_case, max 63 bytes. Every
// externally influenced name must pass through here before it is embedded in
// any DDL statement.
func ValidateIdentifier(name string) error {
	if name == "" {
		return errors.New("identifier is required")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier %q exceeds 63 bytes", name)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match ^[a-z_][a-z0-9_]*$", name)
	}
	return nil
}

// QuoteIdentifier validates and quotes an identifier for safe embedding in
// schema-altering statements.
func QuoteIdentifier(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}
