package filereader

import "errors"

var (
	// ErrNotFound is returned when no metadata exists for a fileId.
	ErrNotFound = errors.New("not found")

	// ErrReplicaUnavailable is returned when every replica of some
	// chunk is unreachable during a reconstruction.
	ErrReplicaUnavailable = errors.New("all replicas failed for chunk")

	// ErrIntegrityMismatch is returned when a fetched chunk's bytes do
	// not match its stored hash.
	ErrIntegrityMismatch = errors.New("integrity check failed")
)
