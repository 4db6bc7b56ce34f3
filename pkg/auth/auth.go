package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
)

// Scopes a caller can hold. Reading covers fetching and listing jobs,
// writing covers starting and cancelling them.
const (
	ScopeRead  = "problems:read"
	ScopeWrite = "problems:write"
)

// AuthDecision is one authenticator's vote on a request.
type AuthDecision int

const (
	// Yes accepts the credentials; the result carries the identity.
	Yes AuthDecision = iota

	// No rejects credentials the authenticator recognized.
	No

	// Abstain passes the request on; the credentials are not of this kind.
	Abstain
)

// AuthResult is a vote. Identity is set for Yes, Err for No.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity
	Err      error
}

// Identity is the caller on whose behalf jobs are created and read.
type Identity struct {
	// Subject is the job owner. It must not be empty.
	Subject string

	// ServiceTier selects the rate limit bucket.
	ServiceTier string

	// Scopes limit what the caller may do. An identity with no scopes may
	// read and write.
	Scopes []string
}

// Owner returns the job owner. A nil identity owns nothing and is not
// scoped, which is the case when auth is disabled.
func (id *Identity) Owner() string {
	if id == nil {
		return ""
	}
	return id.Subject
}

// Tier returns the rate limit tier, "default" when none is set.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return "default"
	}
	return id.ServiceTier
}

// Allows reports whether the identity may act with scope. The empty scope
// is always allowed.
func (id *Identity) Allows(scope string) bool {
	if scope == "" || id == nil || len(id.Scopes) == 0 {
		return true
	}
	return slices.Contains(id.Scopes, scope)
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// anonymousSubject owns the jobs of callers admitted by a Yes default.
const anonymousSubject = "anonymous"

// AuthChain asks its authenticators in order and takes the first vote that
// is not Abstain. When all abstain, DefaultDecision applies: Yes admits the
// caller as "anonymous" (development setups), anything else rejects.
type AuthChain struct {
	Authenticators  []Authenticator
	DefaultDecision AuthDecision
}

// Authenticate returns the chain's decision for r.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		if result := authn.Authenticate(ctx, r); result.Decision != Abstain {
			return result
		}
	}
	if c.DefaultDecision != Yes {
		return AuthResult{Decision: No, Err: ErrUnauthenticated}
	}
	return AuthResult{
		Decision: Yes,
		Identity: &Identity{Subject: anonymousSubject, ServiceTier: "default"},
	}
}
