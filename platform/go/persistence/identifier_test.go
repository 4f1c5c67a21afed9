package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	valid := []string{
		"agency_acme_a1b2c3d4",
		"_private",
		"a",
		"postgres",
		strings.Repeat("a", 63),
	}
	for _, name := range valid {
		require.NoError(t, ValidateIdentifier(name), "name %q", name)
	}

	invalid := []string{
		"",
		"Agency",
		"1agency",
		"agency-acme",
		"agency acme",
		`agency"; DROP DATABASE postgres; --`,
		strings.Repeat("a", 64),
	}
	for _, name := range invalid {
		require.Error(t, ValidateIdentifier(name), "name %q", name)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	quoted, err := QuoteIdentifier("agency_acme")
	require.NoError(t, err)
	require.Equal(t, `"agency_acme"`, quoted)

	_, err = QuoteIdentifier("agency-acme")
	require.Error(t, err)
}
