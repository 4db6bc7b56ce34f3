package storage

import "context"

// ownerKey is a private type for the owner context key, preventing
// collisions with other packages.
type ownerKey struct{}

// SetOwner injects the authenticated subject into the context. Stores scope
// reads to that owner.
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// GetOwner extracts the owner from the context. Returns an empty string if
// no owner is set (unauthenticated mode, no scoping).
func GetOwner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}

// Visible reports whether a job owned by jobOwner may be read in ctx.
func Visible(ctx context.Context, jobOwner string) bool {
	owner := GetOwner(ctx)
	return owner == "" || owner == jobOwner
}
