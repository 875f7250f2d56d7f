package agent

import (
	"sync"
	"time"
)

// Maximum interaction records kept in history
const MaxHistoryRecords = 100

// InteractionRecord is one terminal session outcome with a peer.
type InteractionRecord struct {
	Partner   string
	Outcome   SessionState
	Timestamp time.Time
}

// PeerState tracks per-peer interaction history and the ignore list. Peers
// that failed verification are refused future protect sessions.
type PeerState struct {
	mu        sync.RWMutex
	ignored   map[string]bool
	history   []InteractionRecord
	completed map[string]int
	rejected  map[string]int
}

func NewPeerState() *PeerState {
	return &PeerState{
		ignored:   make(map[string]bool),
		completed: make(map[string]int),
		rejected:  make(map[string]int),
	}
}

// Ignore adds a peer address to the ignore list.
func (p *PeerState) Ignore(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignored[address] = true
}

// Ignored reports whether a peer address is on the ignore list.
func (p *PeerState) Ignored(address string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ignored[address]
}

// RecordOutcome appends a terminal outcome to the bounded history.
func (p *PeerState) RecordOutcome(address string, outcome SessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, InteractionRecord{
		Partner:   address,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
	if len(p.history) > MaxHistoryRecords {
		p.history = p.history[len(p.history)-MaxHistoryRecords:]
	}

	switch outcome {
	case StateAgreed:
		p.completed[address]++
	case StateRejected:
		p.rejected[address]++
	}
}

// Completed returns how many sessions with a peer reached Agreed.
func (p *PeerState) Completed(address string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.completed[address]
}

// Rejected returns how many sessions with a peer ended in Rejected.
func (p *PeerState) Rejected(address string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rejected[address]
}

// History returns a copy of the recent interaction records.
func (p *PeerState) History() []InteractionRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	records := make([]InteractionRecord, len(p.history))
	copy(records, p.history)
	return records
}
