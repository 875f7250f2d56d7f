package chain

import (
	"sort"

	"github.com/trustmesh/trustmesh/core"
)

// BlockIndex summarizes which blocks an agent holds: for each public key, the
// set of sequence numbers present. Sequence sets are kept sorted and unique.
type BlockIndex map[string][]uint64

// IndexEntry is the wire form of one BlockIndex row.
type IndexEntry struct {
	PublicKey       string   `json:"public_key"`
	SequenceNumbers []uint64 `json:"sequence_numbers"`
}

func NewBlockIndex() BlockIndex {
	return make(BlockIndex)
}

// BuildIndex computes the index of a set of blocks, e.g. a whole store or a
// received chain.
func BuildIndex(blocks []*core.Block) BlockIndex {
	idx := NewBlockIndex()
	for _, b := range blocks {
		idx.Add(b.PublicKey, b.SequenceNumber)
	}
	return idx
}

// Add records one (key, seq) pair, keeping the sequence set sorted and unique.
func (idx BlockIndex) Add(publicKey string, seq uint64) {
	seqs := idx[publicKey]
	i := sort.Search(len(seqs), func(i int) bool { return seqs[i] >= seq })
	if i < len(seqs) && seqs[i] == seq {
		return
	}
	seqs = append(seqs, 0)
	copy(seqs[i+1:], seqs[i:])
	seqs[i] = seq
	idx[publicKey] = seqs
}

// Contains reports whether the index records (key, seq).
func (idx BlockIndex) Contains(publicKey string, seq uint64) bool {
	seqs := idx[publicKey]
	i := sort.Search(len(seqs), func(i int) bool { return seqs[i] >= seq })
	return i < len(seqs) && seqs[i] == seq
}

// Count returns the number of (key, seq) pairs recorded.
func (idx BlockIndex) Count() int {
	n := 0
	for _, seqs := range idx {
		n += len(seqs)
	}
	return n
}

// Sub returns the pairs present in idx but absent from other.
func (idx BlockIndex) Sub(other BlockIndex) BlockIndex {
	result := NewBlockIndex()
	for key, seqs := range idx {
		for _, seq := range seqs {
			if !other.Contains(key, seq) {
				result.Add(key, seq)
			}
		}
	}
	return result
}

// Union returns all pairs present in either index.
func (idx BlockIndex) Union(other BlockIndex) BlockIndex {
	result := NewBlockIndex()
	for key, seqs := range idx {
		for _, seq := range seqs {
			result.Add(key, seq)
		}
	}
	for key, seqs := range other {
		for _, seq := range seqs {
			result.Add(key, seq)
		}
	}
	return result
}

// Entries returns the index rows in ascending public-key order, sequence
// numbers ascending within each row, so wire output is deterministic.
func (idx BlockIndex) Entries() []IndexEntry {
	keys := make([]string, 0, len(idx))
	for key := range idx {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]IndexEntry, 0, len(keys))
	for _, key := range keys {
		seqs := make([]uint64, len(idx[key]))
		copy(seqs, idx[key])
		entries = append(entries, IndexEntry{PublicKey: key, SequenceNumbers: seqs})
	}
	return entries
}

// IndexFromEntries rebuilds a BlockIndex from its wire form.
func IndexFromEntries(entries []IndexEntry) BlockIndex {
	idx := NewBlockIndex()
	for _, entry := range entries {
		for _, seq := range entry.SequenceNumbers {
			idx.Add(entry.PublicKey, seq)
		}
	}
	return idx
}

// Diff compares two indices. toRequest is what the remote holds and we lack;
// toOffer the reverse.
func Diff(local, remote BlockIndex) (toRequest, toOffer BlockIndex) {
	return remote.Sub(local), local.Sub(remote)
}

// BuildOrder sorts blocks so that each chain's blocks appear in ascending
// sequence order, making them safe to validate and file one at a time.
func BuildOrder(blocks []*core.Block) []*core.Block {
	ordered := make([]*core.Block, len(blocks))
	copy(ordered, blocks)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].PublicKey != ordered[j].PublicKey {
			return ordered[i].PublicKey < ordered[j].PublicKey
		}
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})
	return ordered
}

// ExchangeIndex maps a block's content hash to the index context needed to
// request or file it, letting a peer fetch a specific block by hash.
type ExchangeIndex map[string]BlockIndex

// ExchangeEntry is the wire form of one ExchangeIndex row.
type ExchangeEntry struct {
	BlockHash string       `json:"block_hash"`
	Index     []IndexEntry `json:"index"`
}

// Entries returns the rows sorted by block hash for deterministic output.
func (ex ExchangeIndex) Entries() []ExchangeEntry {
	hashes := make([]string, 0, len(ex))
	for hash := range ex {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	entries := make([]ExchangeEntry, 0, len(hashes))
	for _, hash := range hashes {
		entries = append(entries, ExchangeEntry{BlockHash: hash, Index: ex[hash].Entries()})
	}
	return entries
}

// ExchangeFromEntries rebuilds an ExchangeIndex from its wire form.
func ExchangeFromEntries(entries []ExchangeEntry) ExchangeIndex {
	ex := make(ExchangeIndex)
	for _, entry := range entries {
		ex[entry.BlockHash] = IndexFromEntries(entry.Index)
	}
	return ex
}

// ChainAndBlocks bundles a full reconciliation response: a contiguous chain
// segment, auxiliary blocks from other chains needed to validate it, and the
// exchange index describing everything bundled.
type ChainAndBlocks struct {
	Chain    []*core.Block   `json:"chain"`
	Blocks   []*core.Block   `json:"blocks"`
	Exchange []ExchangeEntry `json:"exchange"`
}

// BuildExchangePacket gathers the blocks named by toOffer plus any link
// targets they depend on that the peer is not already known to hold, bundled
// with the sender's own chain and an exchange index keyed by block hash.
func BuildExchangePacket(store *Store, ownKey string, toOffer, peerKnown BlockIndex) *ChainAndBlocks {
	offered := store.ByIndex(toOffer)

	bundled := BuildIndex(offered)
	var aux []*core.Block
	for _, b := range offered {
		if b.LinkPublicKey == core.EmptyKey || b.LinkSequenceNumber == core.UnknownSeq {
			continue
		}
		if peerKnown.Contains(b.LinkPublicKey, b.LinkSequenceNumber) ||
			bundled.Contains(b.LinkPublicKey, b.LinkSequenceNumber) {
			continue
		}
		if target, ok := store.Get(b.LinkPublicKey, b.LinkSequenceNumber); ok {
			aux = append(aux, target)
			bundled.Add(target.PublicKey, target.SequenceNumber)
		}
	}

	exchange := make(ExchangeIndex)
	for _, b := range append(append([]*core.Block{}, offered...), aux...) {
		locator := NewBlockIndex()
		locator.Add(b.PublicKey, b.SequenceNumber)
		exchange[b.Hash] = locator
	}

	return &ChainAndBlocks{
		Chain:    store.Chain(ownKey),
		Blocks:   append(offered, aux...),
		Exchange: exchange.Entries(),
	}
}
