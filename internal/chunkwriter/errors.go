package chunkwriter

import "errors"

var (
	// ErrNotLeader is returned when a write is attempted against a
	// non-leader coordinator.
	ErrNotLeader = errors.New("not leader")

	// ErrInsufficientNodes is returned when fewer than two nodes are
	// alive at upload time.
	ErrInsufficientNodes = errors.New("not enough alive nodes")

	// ErrReplicationFailed is returned when a storage POST fails
	// mid-upload; the writer has already rolled back any partial
	// placements.
	ErrReplicationFailed = errors.New("upload failed, rolled back")

	// ErrMetadataWriteFailed is returned when the KV write that commits
	// an otherwise-successful upload fails.
	ErrMetadataWriteFailed = errors.New("upload failed: could not commit metadata")
)
