package chain

import (
	"errors"
	"fmt"
)

// Failure taxonomy for block validation and filing. All of these are local,
// recoverable failures; callers decide whether to reconcile, retry or drop.
var (
	// ErrMalformedBlock covers signature and hash mismatches. Fatal to the
	// block itself, which is never appended.
	ErrMalformedBlock = errors.New("malformed block")

	// ErrSequenceConflict means a sequence number on a chain is already
	// claimed by a different block, or a proposal reservation is in flight.
	ErrSequenceConflict = errors.New("sequence conflict")

	// ErrLinkMismatch means the cross-reference between paired blocks does
	// not resolve.
	ErrLinkMismatch = errors.New("link mismatch")
)

// SequenceGapError is returned when a block's predecessor is not held
// locally. Recoverable: the caller may pull the missing range through
// reconciliation and retry.
type SequenceGapError struct {
	PublicKey      string
	SequenceNumber uint64
}

func (e SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap: missing predecessor of %.8s:%d", e.PublicKey, e.SequenceNumber)
}
