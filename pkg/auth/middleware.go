package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/observability"
	"github.com/rhuss/probforge/pkg/transport"
)

// DefaultBypassEndpoints are served without credentials: probes and the
// metrics scrape.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

const problemsPath = "/v1/problems"

// RequiredScope returns the scope a request needs. Creating and cancelling
// jobs writes, fetching and listing reads. Other routes need none here;
// the MCP tools check scopes per call.
func RequiredScope(r *http.Request) string {
	if r.URL.Path != problemsPath && !strings.HasPrefix(r.URL.Path, problemsPath+"/") {
		return ""
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return ScopeRead
	}
	return ScopeWrite
}

// Middleware admits requests outside bypassEndpoints in three steps:
// authentication by chain, the tier's rate limit (when limiter is set) and
// the route's scope. Admitted requests carry the identity and job owner.
func Middleware(chain *AuthChain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	g := &gate{chain: chain, limiter: limiter, bypass: make(map[string]bool, len(bypassEndpoints))}
	for _, ep := range bypassEndpoints {
		g.bypass[ep] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			id, apiErr := g.admit(w, r)
			if apiErr != nil {
				if apiErr.Type == api.ErrorTypeUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer realm="probforge"`)
				}
				transport.WriteAPIError(w, apiErr)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
		})
	}
}

type gate struct {
	chain   *AuthChain
	limiter RateLimiter
	bypass  map[string]bool
}

func (g *gate) admit(w http.ResponseWriter, r *http.Request) (*Identity, *api.APIError) {
	result := g.chain.Authenticate(r.Context(), r)
	if result.Decision != Yes || result.Identity == nil {
		slog.Warn("authentication failed", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", result.Err)
		return nil, api.NewUnauthorizedError("authentication required")
	}
	id := result.Identity
	if id.Subject == "" {
		slog.Error("authenticator accepted a caller without subject", "path", r.URL.Path)
		return nil, api.NewServerError("internal authentication error")
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(r.Context(), id); err != nil {
			observability.RateLimitRejectedTotal.WithLabelValues(id.Tier()).Inc()
			slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier())
			var limited *LimitedError
			if errors.As(err, &limited) {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
			}
			return nil, api.NewTooManyRequestsError("rate limit exceeded")
		}
	}

	scope := RequiredScope(r)
	if !id.Allows(scope) {
		slog.Warn("missing scope", "subject", id.Subject, "scope", scope, "method", r.Method, "path", r.URL.Path)
		return nil, Authorize(SetIdentity(r.Context(), id), scope)
	}

	slog.Debug("request admitted", "subject", id.Subject, "path", r.URL.Path, "scope", scope)
	return id, nil
}
