package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trustmesh/trustmesh/chain"
	"github.com/trustmesh/trustmesh/core"
)

// SessionState is the tagged state of a pending pairwise session.
type SessionState string

const (
	StateProposed      SessionState = "proposed"
	StateCounterSigned SessionState = "counter_signed"
	StateAgreed        SessionState = "agreed"
	StateAbandoned     SessionState = "abandoned"
	StateRejected      SessionState = "rejected"
)

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s == StateAgreed || s == StateAbandoned || s == StateRejected
}

// Session tracks one pending agreement or protect exchange with a partner.
// Sessions are keyed by partner address; at most one open session per partner
// at a time.
type Session struct {
	ID        string
	Partner   core.AgentInfo
	Protected bool
	Initiator bool
	State     SessionState
	CreatedAt time.Time

	// ReservedSeq is the own-chain sequence number held for the proposal;
	// released on abandonment, consumed on commit.
	ReservedSeq uint64
	// Proposal is the own signed half awaiting the counter-signature.
	Proposal *core.Block

	// Protect bookkeeping.
	PartnerChain []*core.Block
	PartnerIndex chain.BlockIndex
	TransferUp   chain.BlockIndex
	TransferDown chain.BlockIndex

	timer *time.Timer
}

// RequestCache holds the open sessions of one agent. Terminal sessions are
// removed, so a later identical proposal starts a fresh session.
type RequestCache struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRequestCache() *RequestCache {
	return &RequestCache{sessions: make(map[string]*Session)}
}

// New opens a session with a partner. Fails if one is already open.
func (c *RequestCache) New(partner core.AgentInfo, protected, initiator bool) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, open := c.sessions[partner.Address]; open {
		return nil, fmt.Errorf("request already open with %s", partner.Address)
	}

	session := &Session{
		ID:        uuid.NewString(),
		Partner:   partner,
		Protected: protected,
		Initiator: initiator,
		State:     StateProposed,
		CreatedAt: time.Now(),
	}
	c.sessions[partner.Address] = session
	return session, nil
}

// Get returns the open session with the given partner address, or nil.
func (c *RequestCache) Get(address string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[address]
}

// Terminate moves the session with the given partner into a terminal state
// and removes it. Returns nil if no session is open (terminal states are
// final; cancelling twice is a no-op).
func (c *RequestCache) Terminate(address string, state SessionState) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, open := c.sessions[address]
	if !open {
		return nil
	}
	if session.timer != nil {
		session.timer.Stop()
	}
	session.State = state
	delete(c.sessions, address)
	return session
}

// StartTimer arms the session's timeout. If the session is still open when it
// fires, it is terminated as Abandoned and onTimeout runs with it.
func (c *RequestCache) StartTimer(session *Session, d time.Duration, onTimeout func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := session.ID
	session.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		current, open := c.sessions[session.Partner.Address]
		if !open || current.ID != id {
			c.mu.Unlock()
			return
		}
		current.State = StateAbandoned
		delete(c.sessions, session.Partner.Address)
		c.mu.Unlock()

		onTimeout(current)
	})
}

// Open returns the number of open sessions.
func (c *RequestCache) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
