package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/storage"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_BypassEndpoint(t *testing.T) {
	chain := &AuthChain{DefaultDecision: No}
	handler := Middleware(chain, nil, []string{"/healthz"})(okHandler())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("bypass endpoint: status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_NoAuth_Rejects(t *testing.T) {
	chain := &AuthChain{DefaultDecision: No}
	handler := Middleware(chain, nil, DefaultBypassEndpoints)(okHandler())

	req := httptest.NewRequest("POST", "/v1/problems", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth: status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error.Type != api.ErrorTypeUnauthorized {
		t.Errorf("error type = %q, want %q", errResp.Error.Type, api.ErrorTypeUnauthorized)
	}
}

func TestMiddleware_EmptySubject_ServerError(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{}}},
		},
	}
	handler := Middleware(chain, nil, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/problems", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMiddleware_ValidAuth_SetsOwner(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{
				Decision: Yes,
				Identity: &Identity{Subject: "alice"},
			}},
		},
		DefaultDecision: No,
	}

	var gotOwner string
	handler := Middleware(chain, nil, DefaultBypassEndpoints)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = storage.GetOwner(r.Context())
		id := IdentityFromContext(r.Context())
		if id == nil || id.Subject != "alice" {
			t.Error("expected identity 'alice' in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/problems", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("valid auth: status = %d, want 200", rec.Code)
	}
	if gotOwner != "alice" {
		t.Errorf("owner = %q, want %q", gotOwner, "alice")
	}
}

func TestMiddleware_RateLimit_Exceeded(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{
				Decision: Yes,
				Identity: &Identity{Subject: "alice", ServiceTier: "limited"},
			}},
		},
		DefaultDecision: No,
	}

	limiter := NewInProcessLimiter(map[string]TierConfig{
		"limited": {RequestsPerMinute: 2},
	}, 100)

	handler := Middleware(chain, limiter, DefaultBypassEndpoints)(okHandler())

	for i := range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/problems", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/problems", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("rate limited request: status = %d, want 429", rec.Code)
	}
	if ra, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || ra < 1 || ra > 60 {
		t.Errorf("Retry-After = %q, want 1..60 seconds", rec.Header().Get("Retry-After"))
	}
}

func TestMiddleware_NoLimiter_AllAllowed(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "alice"}}},
		},
	}

	handler := Middleware(chain, nil, DefaultBypassEndpoints)(okHandler())

	for i := range 100 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/problems", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i+1, rec.Code)
			break
		}
	}
}

func TestRequiredScope(t *testing.T) {
	tests := []struct {
		method, path string
		want         string
	}{
		{"POST", "/v1/problems", ScopeWrite},
		{"DELETE", "/v1/problems/prob_123", ScopeWrite},
		{"GET", "/v1/problems", ScopeRead},
		{"GET", "/v1/problems/prob_123", ScopeRead},
		{"POST", "/mcp", ""},
		{"GET", "/v1/problemsets", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if got := RequiredScope(httptest.NewRequest(tt.method, tt.path, nil)); got != tt.want {
				t.Errorf("RequiredScope = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware_EnforcesScopes(t *testing.T) {
	chainFor := func(scopes ...string) *AuthChain {
		return &AuthChain{Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "alice", Scopes: scopes}}},
		}}
	}

	tests := []struct {
		name   string
		scopes []string
		method string
		path   string
		want   int
	}{
		{"reader lists", []string{ScopeRead}, "GET", "/v1/problems", http.StatusOK},
		{"reader cannot generate", []string{ScopeRead}, "POST", "/v1/problems", http.StatusForbidden},
		{"reader cannot cancel", []string{ScopeRead}, "DELETE", "/v1/problems/prob_1", http.StatusForbidden},
		{"writer generates", []string{ScopeWrite}, "POST", "/v1/problems", http.StatusOK},
		{"writer cannot read", []string{ScopeWrite}, "GET", "/v1/problems/prob_1", http.StatusForbidden},
		{"mcp needs no scope here", []string{ScopeRead}, "POST", "/mcp", http.StatusOK},
		{"unscoped key does everything", nil, "DELETE", "/v1/problems/prob_1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Middleware(chainFor(tt.scopes...), nil, DefaultBypassEndpoints)(okHandler())
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusForbidden {
				return
			}
			if rec.Header().Get("WWW-Authenticate") != "" {
				t.Error("forbidden response must not ask for credentials")
			}
			var errResp api.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if errResp.Error.Type != api.ErrorTypeForbidden {
				t.Errorf("error type = %q, want forbidden", errResp.Error.Type)
			}
		})
	}
}

var _ Authenticator = (*mockAuthn)(nil)
