package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Space captures the resolved tenant routing metadata for a request.
// It is intended to be attached to the context by middleware once the tenant
// database has been resolved from the out-of-band request header.
type Space struct {
	TenantID     uuid.UUID
	Domain       string
	DatabaseName string
}

type ctxKey string

const spaceKey ctxKey = "AGENCYHUB_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	v := ctx.Value(spaceKey)
	if v == nil {
		return Space{}, false
	}

	space, ok := v.(Space)
	return space, ok
}
