package agent

import "errors"

var (
	// ErrNotFound means no descriptor exists for the requested name in
	// either the in-process table or the catalog.
	ErrNotFound = errors.New("agent not found")

	// ErrNoCatalog means a catalog-backed operation was attempted while
	// the registry is running in memory-only mode.
	ErrNoCatalog = errors.New("agent catalog unavailable")
)

// compileFailureMessage is the exact error surfaced when scripted source
// cannot be compiled. Callers match on it, so it never changes shape.
const compileFailureMessage = "Could not parse function body"
