package sandbox

import "context"

// Acquirer abstracts sandbox acquisition. Implementations exist for
// static URL mode (returns a fixed URL) and SandboxClaim mode (creates CRDs).
type Acquirer interface {
	// Acquire returns a sandbox URL to use for execution.
	// The release function must be called after execution to clean up.
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticAcquirer returns a fixed sandbox URL (development mode).
type StaticAcquirer struct {
	URL string
}

// Acquire returns the configured URL and a no-op release.
func (a StaticAcquirer) Acquire(_ context.Context) (string, func(), error) {
	return a.URL, func() {}, nil
}
