package agent

import (
	// Pure-Go driver keeps the catalog usable without cgo; the vector
	// store picks its own driver independently.
	_ "modernc.org/sqlite"
)

const catalogDriver = "sqlite"
