package chain

import (
	"fmt"

	"github.com/trustmesh/trustmesh/core"
)

// Resolver looks up blocks the validator needs to check cross-references.
// *Store satisfies it.
type Resolver interface {
	Get(publicKey string, seq uint64) (*core.Block, bool)
}

// Validate checks a block's internal consistency and its fit onto a chain.
//
// Checks run in order: signature, continuity against the known predecessor,
// then link mutuality. A nil predecessor is only acceptable for sequence
// number 1; otherwise the caller is missing blocks and gets a gap error so it
// can reconcile. Link fields pointing at blocks not yet held are forward
// references and pass; once the far half exists, its own link fields must
// point back here.
func Validate(b *core.Block, predecessor *core.Block, links Resolver) error {
	if !b.VerifySignature() {
		return fmt.Errorf("%w: bad signature on %s", ErrMalformedBlock, b)
	}

	if predecessor == nil {
		if b.SequenceNumber != core.GenesisSeq {
			return SequenceGapError{PublicKey: b.PublicKey, SequenceNumber: b.SequenceNumber}
		}
		if b.PreviousHash != core.GenesisHash() {
			return fmt.Errorf("%w: first block carries non-genesis previous hash", ErrMalformedBlock)
		}
	} else {
		if b.SequenceNumber <= predecessor.SequenceNumber {
			return fmt.Errorf("%w: %.8s:%d does not extend sequence %d",
				ErrSequenceConflict, b.PublicKey, b.SequenceNumber, predecessor.SequenceNumber)
		}
		if b.SequenceNumber != predecessor.SequenceNumber+1 {
			return SequenceGapError{PublicKey: b.PublicKey, SequenceNumber: b.SequenceNumber}
		}
		predHash := predecessor.Hash
		if predHash == "" {
			predHash = predecessor.ComputeHash()
		}
		if b.PreviousHash != predHash {
			return fmt.Errorf("%w: previous hash does not match predecessor", ErrMalformedBlock)
		}
	}

	return validateLink(b, links)
}

func validateLink(b *core.Block, links Resolver) error {
	if b.LinkPublicKey == core.EmptyKey || b.LinkSequenceNumber == core.UnknownSeq {
		// Proposal half or unlinked block; nothing to resolve yet.
		return nil
	}
	if b.LinkPublicKey == b.PublicKey {
		return fmt.Errorf("%w: block links to its own chain", ErrLinkMismatch)
	}
	if links == nil {
		return nil
	}

	target, ok := links.Get(b.LinkPublicKey, b.LinkSequenceNumber)
	if !ok {
		// Forward reference we cannot verify yet.
		return nil
	}
	if target.LinkPublicKey != b.PublicKey {
		return fmt.Errorf("%w: %s is linked to %.8s, not back to %.8s",
			ErrLinkMismatch, target, target.LinkPublicKey, b.PublicKey)
	}
	// The far half may still be a proposal carrying the unknown-seq sentinel;
	// once resolved it must name this exact block.
	if target.LinkSequenceNumber != core.UnknownSeq &&
		target.LinkSequenceNumber != b.SequenceNumber {
		return fmt.Errorf("%w: %s points back at sequence %d, not %d",
			ErrLinkMismatch, target, target.LinkSequenceNumber, b.SequenceNumber)
	}
	return nil
}

// ValidateAgainstStore validates a block using the store's view of its chain.
// Holding an identical copy already is fine (idempotent re-application);
// holding a different block at the same position is a conflict.
func ValidateAgainstStore(b *core.Block, store *Store) error {
	if existing, ok := store.Get(b.PublicKey, b.SequenceNumber); ok {
		if existing.Hash == b.ComputeHash() {
			return nil
		}
		return fmt.Errorf("%w: %.8s:%d already held with different hash",
			ErrSequenceConflict, b.PublicKey, b.SequenceNumber)
	}

	var predecessor *core.Block
	if b.SequenceNumber > core.GenesisSeq {
		pred, ok := store.Get(b.PublicKey, b.SequenceNumber-1)
		if !ok {
			return SequenceGapError{PublicKey: b.PublicKey, SequenceNumber: b.SequenceNumber}
		}
		predecessor = pred
	}
	return Validate(b, predecessor, store)
}

// VerifyChain checks a complete chain segment received from another agent:
// sequence numbers start at 1 with no gaps, every previous hash matches, and
// every signature verifies.
func VerifyChain(blocks []*core.Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("%w: empty chain", ErrMalformedBlock)
	}

	var predecessor *core.Block
	for i, b := range blocks {
		if b.PublicKey != blocks[0].PublicKey {
			return fmt.Errorf("%w: chain mixes creators", ErrMalformedBlock)
		}
		if b.SequenceNumber != core.GenesisSeq+uint64(i) {
			return SequenceGapError{PublicKey: b.PublicKey, SequenceNumber: core.GenesisSeq + uint64(i)}
		}
		if err := Validate(b, predecessor, nil); err != nil {
			return err
		}
		predecessor = b
	}
	return nil
}
