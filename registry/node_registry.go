package registry

import (
	"fmt"
	"sync"
)

// NodeInfo describes an agent node running in this process: where its HTTP
// API listens and which NATS address it receives on.
type NodeInfo struct {
	Name    string
	Address string
	APIPort int
}

var (
	// Map of public key -> NodeInfo
	localNodes    = make(map[string]NodeInfo)
	registryMutex sync.RWMutex
)

// RegisterNode records a locally running agent node.
func RegisterNode(publicKey string, info NodeInfo) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	localNodes[publicKey] = info
}

// GetNodeInfo returns info for a specific local node.
func GetNodeInfo(publicKey string) (NodeInfo, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	info, exists := localNodes[publicKey]
	return info, exists
}

// GetNodeByName returns the local node with the given display name.
func GetNodeByName(name string) (string, NodeInfo, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	for publicKey, info := range localNodes {
		if info.Name == name {
			return publicKey, info, true
		}
	}
	return "", NodeInfo{}, false
}

// GetAllNodes returns a copy of the local node table.
func GetAllNodes() map[string]NodeInfo {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	nodesCopy := make(map[string]NodeInfo, len(localNodes))
	for key, info := range localNodes {
		nodesCopy[key] = info
	}
	return nodesCopy
}

// NodeAddress resolves a local node's NATS address.
func NodeAddress(publicKey string) (string, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	info, exists := localNodes[publicKey]
	if !exists {
		return "", fmt.Errorf("node %.8s not found", publicKey)
	}
	return info.Address, nil
}
