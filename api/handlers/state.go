package handlers

import (
	"sync"

	"github.com/trustmesh/trustmesh/agent"
)

var (
	localAgents = make(map[string]*agent.Agent)
	localMutex  sync.RWMutex
	outcomeLog  string
)

// RegisterLocalAgent makes an in-process agent reachable through the API.
func RegisterLocalAgent(a *agent.Agent) {
	localMutex.Lock()
	defer localMutex.Unlock()
	localAgents[a.PublicKey] = a
}

// LocalAgent returns an in-process agent by public key.
func LocalAgent(publicKey string) (*agent.Agent, bool) {
	localMutex.RLock()
	defer localMutex.RUnlock()
	a, ok := localAgents[publicKey]
	return a, ok
}

// LocalAgents returns all in-process agents.
func LocalAgents() []*agent.Agent {
	localMutex.RLock()
	defer localMutex.RUnlock()
	agents := make([]*agent.Agent, 0, len(localAgents))
	for _, a := range localAgents {
		agents = append(agents, a)
	}
	return agents
}

// SetOutcomeLog records the session outcome log path served over the
// websocket event stream.
func SetOutcomeLog(path string) {
	localMutex.Lock()
	defer localMutex.Unlock()
	outcomeLog = path
}

// OutcomeLog returns the configured outcome log path.
func OutcomeLog() string {
	localMutex.RLock()
	defer localMutex.RUnlock()
	return outcomeLog
}
