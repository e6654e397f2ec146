//go:build !sqlite_vec

package memory

import _ "modernc.org/sqlite"

// Pure-Go driver; no cgo required.
const driverName = "sqlite"
