// Global database config.
package config

import "time"

// Name of the database.
const DBName = "basaltdb"

// The maximum number of page frames that can live in the pager's buffer at once.
const MaxPagesInBuffer = 32

// How many historical accesses the replacer remembers per frame when
// computing backward K-distance.
const ReplacerK = 2

// Default fan-out for B+Tree nodes. Zero means "as many entries as fit in a
// page"; tests shrink these to force splits with few keys.
const (
	DefaultLeafMaxSize     int64 = 0
	DefaultInternalMaxSize int64 = 0
)

// How often the deadlock detector wakes up to scan the waits-for graph.
const DeadlockDetectionInterval = 50 * time.Millisecond
