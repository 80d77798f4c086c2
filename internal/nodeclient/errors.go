package nodeclient

import "errors"

var (
	// ErrNodeInBlackout is returned when a storage node responds 503
	// because it is currently within a scheduled blackout window.
	ErrNodeInBlackout = errors.New("storage node in blackout")

	// ErrChunkNotFound is returned when a storage node responds 404 to
	// a chunk GET.
	ErrChunkNotFound = errors.New("chunk not found on node")

	// ErrUnexpectedStatus covers any other non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status from storage node")
)
