package chain

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trustmesh/trustmesh/core"
)

// Store holds one namespace of chains: the agent's own chain plus cached,
// validated copies of other agents' blocks. Own-chain appends go through the
// reservation mechanism so two concurrently initiated proposals can never
// claim the same sequence number. Remote chains may have gaps.
type Store struct {
	mu       sync.RWMutex
	logs     map[string]map[uint64]*core.Block
	byHash   map[string]*core.Block
	reserved map[string]uint64
}

func NewStore() *Store {
	return &Store{
		logs:     make(map[string]map[uint64]*core.Block),
		byHash:   make(map[string]*core.Block),
		reserved: make(map[string]uint64),
	}
}

// Add files a block into the store. Re-adding an identical block is a no-op;
// a different block at an occupied (key, seq) slot is a sequence conflict.
// Add does not validate; callers run the block through Validate first.
func (s *Store) Add(b *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(b)
}

func (s *Store) addLocked(b *core.Block) error {
	if b.Hash == "" {
		b.Hash = b.ComputeHash()
	}
	if b.InsertTime == 0 {
		b.InsertTime = time.Now().Unix()
	}

	if existing, ok := s.logs[b.PublicKey][b.SequenceNumber]; ok {
		if existing.Hash == b.Hash {
			return nil
		}
		return fmt.Errorf("%w: %.8s:%d already held with different hash",
			ErrSequenceConflict, b.PublicKey, b.SequenceNumber)
	}

	if s.logs[b.PublicKey] == nil {
		s.logs[b.PublicKey] = make(map[uint64]*core.Block)
	}
	s.logs[b.PublicKey][b.SequenceNumber] = b
	s.byHash[b.Hash] = b
	return nil
}

// Get returns the block at (publicKey, seq), if held.
func (s *Store) Get(publicKey string, seq uint64) (*core.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.logs[publicKey][seq]
	return b, ok
}

// GetByHash returns the block with the given content hash, if held.
func (s *Store) GetByHash(hash string) (*core.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byHash[hash]
	return b, ok
}

// Chain returns all held blocks of one agent, ordered by sequence number.
func (s *Store) Chain(publicKey string) []*core.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedBlocks(s.logs[publicKey])
}

// AllBlocks returns every held block, ordered by public key then sequence
// number so output derived from it is deterministic.
func (s *Store) AllBlocks() []*core.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.logs))
	for key := range s.logs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var all []*core.Block
	for _, key := range keys {
		all = append(all, sortedBlocks(s.logs[key])...)
	}
	return all
}

// ByIndex returns the held blocks named by idx, in index order. Entries the
// store does not hold are skipped.
func (s *Store) ByIndex(idx BlockIndex) []*core.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blocks []*core.Block
	for _, entry := range idx.Entries() {
		for _, seq := range entry.SequenceNumbers {
			if b, ok := s.logs[entry.PublicKey][seq]; ok {
				blocks = append(blocks, b)
			}
		}
	}
	return blocks
}

// LastSequence returns the highest contiguous sequence number held for the
// given chain, starting from genesis. Zero means the chain is empty.
func (s *Store) LastSequence(publicKey string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastContiguous(s.logs[publicKey])
}

func lastContiguous(log map[uint64]*core.Block) uint64 {
	var last uint64
	for seq := core.GenesisSeq; ; seq++ {
		if _, ok := log[seq]; !ok {
			break
		}
		last = seq
	}
	return last
}

// ReserveNext claims the next sequence number on an owned chain for a pending
// proposal. At most one reservation per chain is outstanding at a time; a
// second attempt fails with ErrSequenceConflict until the first is committed
// or released. Returns the reserved sequence number and the previous hash the
// candidate block must carry.
func (s *Store) ReserveNext(publicKey string) (uint64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.reserved[publicKey]; ok {
		return 0, "", fmt.Errorf("%w: proposal for %.8s:%d still pending",
			ErrSequenceConflict, publicKey, seq)
	}

	last := lastContiguous(s.logs[publicKey])
	next := last + 1
	prevHash := core.GenesisHash()
	if last >= core.GenesisSeq {
		prevHash = s.logs[publicKey][last].Hash
	}

	s.reserved[publicKey] = next
	return next, prevHash, nil
}

// Release gives a reserved sequence number back after an abandoned proposal.
func (s *Store) Release(publicKey string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[publicKey] == seq {
		delete(s.reserved, publicKey)
	}
}

// Reserved reports whether a proposal reservation is outstanding for a chain.
func (s *Store) Reserved(publicKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reserved[publicKey]
	return ok
}

// CommitPair appends both halves of a completed agreement atomically: either
// both blocks are filed or neither is. The commit consumes the reservation
// held for own's chain; a commit without a matching in-flight reservation is
// refused, so a late agreement racing the abandon timer (which releases the
// reservation) cannot append, and cannot consume a successor proposal's
// reservation either. Appends of distinct chains stay serialized through the
// store lock.
func (s *Store) CommitPair(own, partner *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.reserved[own.PublicKey]; !ok || seq != own.SequenceNumber {
		return fmt.Errorf("%w: no reservation held for %.8s:%d",
			ErrSequenceConflict, own.PublicKey, own.SequenceNumber)
	}

	// Conflict-check both halves before touching either chain.
	for _, b := range []*core.Block{own, partner} {
		if b.Hash == "" {
			b.Hash = b.ComputeHash()
		}
		if existing, ok := s.logs[b.PublicKey][b.SequenceNumber]; ok && existing.Hash != b.Hash {
			return fmt.Errorf("%w: %.8s:%d already held with different hash",
				ErrSequenceConflict, b.PublicKey, b.SequenceNumber)
		}
	}

	if err := s.addLocked(own); err != nil {
		return err
	}
	if err := s.addLocked(partner); err != nil {
		return err
	}
	delete(s.reserved, own.PublicKey)
	return nil
}

func sortedBlocks(log map[uint64]*core.Block) []*core.Block {
	if len(log) == 0 {
		return nil
	}
	seqs := make([]uint64, 0, len(log))
	for seq := range log {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	blocks := make([]*core.Block, 0, len(seqs))
	for _, seq := range seqs {
		blocks = append(blocks, log[seq])
	}
	return blocks
}
