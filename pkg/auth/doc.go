// Package auth provides optional bearer-token authentication for the HTTP
// API.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default decides when
// all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// pipeline. The middleware injects the authenticated subject as the job
// owner so stores scope reads to the caller. Callers may be limited to
// problems:read (fetch, list) or problems:write (generate, cancel); the
// middleware checks the REST routes and the MCP tools call Authorize.
package auth
