package types

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors shared across components. The orchestrator treats all of
// these as recoverable: the reply path degrades instead of aborting.
var (
	// ErrCollaboratorUnavailable means an embedding or generation call
	// failed or timed out. The affected step is skipped and logged.
	ErrCollaboratorUnavailable = goerr.New("collaborator unavailable")

	// ErrMalformedExtraction means the graph engine received structured
	// output it could not validate. The candidate is discarded, the rest
	// of the batch continues.
	ErrMalformedExtraction = goerr.New("malformed extraction output")

	// ErrConcurrentUpdateConflict means an affection write lost the
	// optimistic race after the bounded retry budget.
	ErrConcurrentUpdateConflict = goerr.New("concurrent update conflict")

	// ErrCorruptIndex means the vector index for a partition is unreadable
	// and search is suspended until rebuild completes.
	ErrCorruptIndex = goerr.New("corrupt vector index")

	// ErrNotFound is returned by repositories for missing records
	ErrNotFound = goerr.New("not found")
)
