package constants

import "time"

// Enrollment upload constants
const (
	// MaxEnrollUploadSize is the maximum multipart body of one enrollment request (64MB)
	MaxEnrollUploadSize = 64 << 20

	// MaxEnrollImageSize is the maximum size of a single uploaded photo (16MB)
	MaxEnrollImageSize = 16 << 20

	// MaxEnrollImages is the maximum number of photos per enrollment request
	MaxEnrollImages = 50

	// MaxSnapshotSize is the largest camera snapshot read from a snapshot URL (16MB)
	MaxSnapshotSize = 16 << 20
)

// Request handling constants
const (
	// RequestTimeout bounds every non-streaming API request
	RequestTimeout = 5 * time.Minute

	// SSEKeepAlive is the interval of keep-alive comments on event streams
	SSEKeepAlive = 15 * time.Second

	// SessionRetention is how long a stopped recognition session stays listed
	SessionRetention = time.Hour
)
