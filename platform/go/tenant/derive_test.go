package tenant

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"acme", "acme", false},
		{"Acme", "acme", false},
		{"acme.agencyhub.app", "acme", false},
		{"ACME.AGENCYHUB.APP", "acme", false},
		{"  acme-studios  ", "acme-studios", false},
		{"acme-studios.example.com", "acme-studios", false},
		{"", "", true},
		{"   ", "", true},
		{"-acme", "", true},
		{"acme-", "", true},
		{"ac..me", "", true},
		{"acme_studios", "", true},
		{"acme studios", "", true},
	}

	for _, tc := range cases {
		got, err := NormalizeDomain(tc.input)
		if tc.wantErr {
			require.Error(t, err, "input %q", tc.input)
			continue
		}
		require.NoError(t, err, "input %q", tc.input)
		require.Equal(t, tc.want, got)
	}
}

func TestShortID(t *testing.T) {
	id := uuid.MustParse("a1b2c3d4-e5f6-4789-8abc-def012345678")
	require.Equal(t, "a1b2c3d4", ShortID(id))
}

func TestToSnake(t *testing.T) {
	require.Equal(t, "acme_studios", ToSnake("acme-studios"))
	require.Equal(t, "acme", ToSnake("ACME"))
}

func TestBuildDatabaseName(t *testing.T) {
	id := uuid.MustParse("a1b2c3d4-e5f6-4789-8abc-def012345678")

	name := BuildDatabaseName("acme-studios", id)
	require.Equal(t, "agency_acme_studios_a1b2c3d4", name)
}

func TestBuildDatabaseNameDeterministic(t *testing.T) {
	id := uuid.New()
	require.Equal(t, BuildDatabaseName("acme", id), BuildDatabaseName("acme", id))
}

func TestBuildDatabaseNameTruncates(t *testing.T) {
	id := uuid.New()
	long := strings.Repeat("a", 100)

	name := BuildDatabaseName(long, id)
	require.LessOrEqual(t, len(name), 63)
	require.True(t, strings.HasPrefix(name, "agency_"))
	require.True(t, strings.HasSuffix(name, "_"+ShortID(id)))
}

func TestBuildDatabaseNameDistinctTenantsSamePrefix(t *testing.T) {
	a := BuildDatabaseName("acme", uuid.New())
	b := BuildDatabaseName("acme", uuid.New())
	require.NotEqual(t, a, b)
}

func TestSpaceContextRoundTrip(t *testing.T) {
	space := Space{
		TenantID:     uuid.New(),
		Domain:       "acme",
		DatabaseName: "agency_acme_a1b2c3d4",
	}

	ctx := WithSpace(context.Background(), space)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, space, got)

	_, ok = FromContext(context.Background())
	require.False(t, ok)
}
