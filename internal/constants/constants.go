// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Enrollment constants
const (
	// EnrollWorkers is the number of concurrent embedding requests per enrollment run
	EnrollWorkers = 4
)

// Recognition constants
const (
	// SessionStopWait is how long a stop request waits for the session to release its camera
	SessionStopWait = 10 * time.Second

	// ShutdownTimeout bounds the graceful shutdown of the HTTP server and its sessions
	ShutdownTimeout = 30 * time.Second
)

// Recognition log constants
const (
	// DefaultStatsWindow is the look-back of recognition statistics when no start is given
	DefaultStatsWindow = 24 * time.Hour

	// PurgeTimeout bounds one scheduled purge of the recognition log
	PurgeTimeout = 5 * time.Minute
)
