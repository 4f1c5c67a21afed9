package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/tenant"
)

type stubResolver struct {
	spaces map[string]tenant.Space
	calls  int
}

func (r *stubResolver) ResolveTenantSpace(ctx context.Context, databaseName string) (tenant.Space, error) {
	r.calls++
	space, ok := r.spaces[databaseName]
	if !ok {
		return tenant.Space{}, service.ErrNotFound
	}
	return space, nil
}

func newResolver(databaseName string) *stubResolver {
	return &stubResolver{spaces: map[string]tenant.Space{
		databaseName: {
			TenantID:     uuid.New(),
			Domain:       "acme",
			DatabaseName: databaseName,
		},
	}}
}

func requestWithHeader(databaseName string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	if databaseName != "" {
		req.Header.Set(HeaderDatabase, databaseName)
	}
	return req
}

func TestWithTenantSpaceAttachesSpace(t *testing.T) {
	const db = "agency_acme_a1b2c3d4"
	resolver := newResolver(db)

	var seen tenant.Space
	handler := WithTenantSpace(resolver, Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		space, ok := tenant.FromContext(r.Context())
		require.True(t, ok)
		seen = space
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithHeader(db))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, db, seen.DatabaseName)
	require.Equal(t, "acme", seen.Domain)
}

func TestWithTenantSpaceRejectsMissingHeader(t *testing.T) {
	resolver := newResolver("agency_acme_a1b2c3d4")
	handler := WithTenantSpace(resolver, Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a tenant")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithHeader(""))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, resolver.calls)
}

func TestWithTenantSpaceRejectsInvalidIdentifier(t *testing.T) {
	resolver := newResolver("agency_acme_a1b2c3d4")
	handler := WithTenantSpace(resolver, Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for an invalid database name")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithHeader("agency_acme; DROP DATABASE postgres"))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	// Rejected before the resolver is ever consulted.
	require.Zero(t, resolver.calls)
}

func TestWithTenantSpaceRejectsUnknownTenant(t *testing.T) {
	resolver := newResolver("agency_acme_a1b2c3d4")
	handler := WithTenantSpace(resolver, Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for an unknown tenant")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithHeader("agency_ghost_00000000"))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, 1, resolver.calls)
}

func TestWithTenantSpaceCachesResolution(t *testing.T) {
	const db = "agency_acme_a1b2c3d4"
	resolver := newResolver(db)
	handler := WithTenantSpace(resolver, Config{CacheTTL: time.Minute})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithHeader(db))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, resolver.calls)
}
