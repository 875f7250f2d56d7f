package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/core"
)

func TestAgentRegistry(t *testing.T) {
	info := core.AgentInfo{
		PublicKey: "test-registry-key",
		Address:   "trustmesh.agent.test",
		Role:      "agent",
	}
	RegisterAgent(info)
	defer UnregisterAgent(info.PublicKey)

	got, ok := GetAgent(info.PublicKey)
	require.True(t, ok)
	require.Equal(t, info, got)

	byAddr, ok := GetAgentByAddress(info.Address)
	require.True(t, ok)
	require.True(t, byAddr.Equal(info))

	// Re-registration refreshes the address.
	moved := info
	moved.Address = "trustmesh.agent.moved"
	RegisterAgent(moved)
	got, ok = GetAgent(info.PublicKey)
	require.True(t, ok)
	require.Equal(t, moved.Address, got.Address)

	require.True(t, UnregisterAgent(info.PublicKey))
	require.False(t, UnregisterAgent(info.PublicKey))
	_, ok = GetAgent(info.PublicKey)
	require.False(t, ok)
}

func TestNodeRegistry(t *testing.T) {
	RegisterNode("test-node-key", NodeInfo{Name: "node-a", Address: "trustmesh.agent.a", APIPort: 8080})

	info, ok := GetNodeInfo("test-node-key")
	require.True(t, ok)
	require.Equal(t, "node-a", info.Name)

	key, byName, ok := GetNodeByName("node-a")
	require.True(t, ok)
	require.Equal(t, "test-node-key", key)
	require.Equal(t, 8080, byName.APIPort)

	all := GetAllNodes()
	require.Contains(t, all, "test-node-key")
	require.Equal(t, "node-a", all["test-node-key"].Name)

	addr, err := NodeAddress("test-node-key")
	require.NoError(t, err)
	require.Equal(t, "trustmesh.agent.a", addr)

	_, err = NodeAddress("missing")
	require.Error(t, err)
}
