package auth

import (
	"context"
	"fmt"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/storage"
)

type identityKey struct{}

// SetIdentity returns a context carrying id. A non-nil id also becomes the
// job owner, so stores only return the caller's jobs.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	if owner := id.Owner(); owner != "" {
		ctx = storage.SetOwner(ctx, owner)
	}
	return ctx
}

// IdentityFromContext returns the caller, or nil when auth is disabled.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// Authorize checks that the caller in ctx holds scope. It returns a
// forbidden error otherwise.
func Authorize(ctx context.Context, scope string) *api.APIError {
	id := IdentityFromContext(ctx)
	if id.Allows(scope) {
		return nil
	}
	return api.NewForbiddenError(fmt.Sprintf("%s requires scope %q", describeScope(scope), scope))
}

func describeScope(scope string) string {
	switch scope {
	case ScopeRead:
		return "reading problems"
	case ScopeWrite:
		return "generating or cancelling problems"
	}
	return "this operation"
}
