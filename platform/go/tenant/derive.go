package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var prefixPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// NormalizeDomain reduces a requested agency domain to its canonical subdomain
// prefix: "Acme.agencyhub.app" and "acme" both normalize to "acme".
func NormalizeDomain(input string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "", errors.New("domain is required")
	}

	prefix := trimmed
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		prefix = trimmed[:idx]
	}

	if !prefixPattern.MatchString(prefix) {
		return "", fmt.Errorf("invalid domain %q: subdomain prefix must match ^[a-z0-9]+(?:-[a-z0-9]+)*$", input)
	}

	return prefix, nil
}

// ToSnake converts a kebab-case domain prefix into snake_case for database names.
func ToSnake(prefix string) string {
	return strings.ReplaceAll(strings.ToLower(prefix), "-", "_")
}

// ShortID returns the first 8 hexadecimal characters of a UUID (without dashes).
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if len(hex) < 8 {
		return hex
	}
	return hex[:8]
}

// maxDatabaseNameLen mirrors PostgreSQL's NAMEDATALEN-1 identifier limit.
const maxDatabaseNameLen = 63

// BuildDatabaseName derives the immutable per-tenant database name from the
// normalized domain prefix and the tenant id. Format:
// agency_<snake(prefix)>_<shortID>. The prefix segment is truncated so the
// full name never exceeds the PostgreSQL identifier limit; the id segment is
// what keeps names collision-free.
func BuildDatabaseName(domainPrefix string, id uuid.UUID) string {
	short := ShortID(id)
	snake := ToSnake(domainPrefix)

	room := maxDatabaseNameLen - len("agency_") - len("_") - len(short)
	if len(snake) > room {
		snake = snake[:room]
		snake = strings.TrimRight(snake, "_")
	}

	return "agency_" + snake + "_" + short
}
