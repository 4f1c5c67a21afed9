package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModuleForTable(t *testing.T) {
	cases := map[string]string{
		"users":      ModuleCore,
		"settings":   ModuleCore,
		"sessions":   ModuleCore,
		"documents":  ModuleDocuments,
		"attendance": ModuleHR,
		"employees":  ModuleHR,
	}
	for table, want := range cases {
		got, ok := ModuleForTable(table)
		require.True(t, ok, "table %q", table)
		require.Equal(t, want, got, "table %q", table)
	}

	_, ok := ModuleForTable("no_such_table")
	require.False(t, ok)

	// Lookup is exact, never fuzzy.
	_, ok = ModuleForTable("USERS")
	require.False(t, ok)
	_, ok = ModuleForTable("user")
	require.False(t, ok)
}

func TestRequiredTablesAllOwned(t *testing.T) {
	for _, table := range RequiredTables {
		_, ok := ModuleForTable(table)
		require.True(t, ok, "required table %q has no owning module", table)
	}
}

func TestModuleTablesUniqueAcrossModules(t *testing.T) {
	seen := make(map[string]string)
	for _, m := range Modules {
		for _, table := range m.Tables {
			owner, dup := seen[table]
			require.False(t, dup, "table %q claimed by both %q and %q", table, owner, m.Name)
			seen[table] = m.Name
		}
	}
}

func TestCoreModuleAppliesFirst(t *testing.T) {
	require.NotEmpty(t, Modules)
	require.Equal(t, ModuleCore, Modules[0].Name)
}

func TestModuleStatementsAreNonDestructive(t *testing.T) {
	forbidden := []string{"DROP TABLE", "DROP COLUMN", "TRUNCATE", "DELETE FROM"}

	for _, m := range Modules {
		require.NotEmpty(t, m.Statements, "module %q", m.Name)
		for _, stmt := range m.Statements {
			upper := strings.ToUpper(stmt)
			for _, bad := range forbidden {
				require.NotContains(t, upper, bad, "module %q", m.Name)
			}
		}
	}
}

func TestModuleStatementsAreIdempotentForms(t *testing.T) {
	for _, m := range Modules {
		for _, stmt := range m.Statements {
			upper := strings.ToUpper(strings.TrimSpace(stmt))
			switch {
			case strings.HasPrefix(upper, "CREATE TABLE IF NOT EXISTS"),
				strings.HasPrefix(upper, "CREATE INDEX IF NOT EXISTS"),
				strings.HasPrefix(upper, "CREATE UNIQUE INDEX IF NOT EXISTS"):
			case strings.HasPrefix(upper, "ALTER TABLE"):
				require.Contains(t, upper, "ADD COLUMN IF NOT EXISTS", "module %q statement %q", m.Name, stmt)
			default:
				t.Fatalf("module %q has non-idempotent statement form: %q", m.Name, stmt)
			}
		}
	}
}
