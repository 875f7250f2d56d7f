package agent

import (
	"sync"

	"github.com/trustmesh/trustmesh/chain"
)

// ExchangeStorage remembers, per exchange block, which block index was
// transferred when that block was created. It backs the protect index reply
// and lets peers verify that advertised exchanges add up to the hashes
// recorded on the chain.
type ExchangeStorage struct {
	mu        sync.RWMutex
	exchanges map[string]chain.BlockIndex
}

func NewExchangeStorage() *ExchangeStorage {
	return &ExchangeStorage{exchanges: make(map[string]chain.BlockIndex)}
}

// AddExchange records the index transferred with an exchange block.
func (s *ExchangeStorage) AddExchange(blockHash string, idx chain.BlockIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges[blockHash] = idx
}

// Get returns the index recorded for an exchange block hash.
func (s *ExchangeStorage) Get(blockHash string) (chain.BlockIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.exchanges[blockHash]
	return idx, ok
}

// Entries returns the storage in wire form, sorted by block hash.
func (s *ExchangeStorage) Entries() []chain.ExchangeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex := make(chain.ExchangeIndex, len(s.exchanges))
	for hash, idx := range s.exchanges {
		ex[hash] = idx
	}
	return ex.Entries()
}

// Union folds every recorded exchange into one index.
func (s *ExchangeStorage) Union() chain.BlockIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := chain.NewBlockIndex()
	for _, idx := range s.exchanges {
		result = result.Union(idx)
	}
	return result
}
