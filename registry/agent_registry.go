package registry

import (
	"sync"

	"github.com/trustmesh/trustmesh/core"
)

var (
	// Map of public key -> AgentInfo
	agentRegistry = make(map[string]core.AgentInfo)
	agentMutex    sync.RWMutex
)

// RegisterAgent stores an agent in the directory. Re-registration refreshes
// the stored address and role.
func RegisterAgent(agent core.AgentInfo) {
	agentMutex.Lock()
	defer agentMutex.Unlock()

	agentRegistry[agent.PublicKey] = agent
}

// UnregisterAgent removes an agent from the directory.
func UnregisterAgent(publicKey string) bool {
	agentMutex.Lock()
	defer agentMutex.Unlock()

	if _, exists := agentRegistry[publicKey]; !exists {
		return false
	}
	delete(agentRegistry, publicKey)
	return true
}

// GetAgent resolves a public key to the agent's last-known info.
func GetAgent(publicKey string) (core.AgentInfo, bool) {
	agentMutex.RLock()
	defer agentMutex.RUnlock()

	agent, exists := agentRegistry[publicKey]
	return agent, exists
}

// GetAgentByAddress returns agent info for a network address.
func GetAgentByAddress(address string) (core.AgentInfo, bool) {
	agentMutex.RLock()
	defer agentMutex.RUnlock()

	for _, agent := range agentRegistry {
		if agent.Address == address {
			return agent, true
		}
	}
	return core.AgentInfo{}, false
}

// GetAllAgents returns every registered agent.
func GetAllAgents() []core.AgentInfo {
	agentMutex.RLock()
	defer agentMutex.RUnlock()

	agents := make([]core.AgentInfo, 0, len(agentRegistry))
	for _, agent := range agentRegistry {
		agents = append(agents, agent)
	}
	return agents
}
