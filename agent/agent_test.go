package agent

import (
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/core"
	"github.com/trustmesh/trustmesh/registry"
)

// startTestBroker runs an embedded NATS server on a random port and connects
// a broker to it.
func startTestBroker(t *testing.T) *core.NatsBroker {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "embedded NATS server not ready")
	t.Cleanup(ns.Shutdown)

	broker, err := core.NewNatsBroker(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(broker.Close)
	return broker
}

func testConfig(t *testing.T) core.Config {
	t.Helper()
	dir := t.TempDir()
	return core.Config{
		SessionTimeout: 2 * time.Second,
		StepInterval:   50 * time.Millisecond,
		LogDir:         filepath.Join(dir, "logs"),
		OutcomeLog:     filepath.Join(dir, "outcomes.log"),
	}
}

func startTestAgent(t *testing.T, name string, broker *core.NatsBroker, cfg core.Config) *Agent {
	t.Helper()
	a := NewAgent(name, broker, cfg)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)
	return a
}

func TestAgentAddressDerivedFromKey(t *testing.T) {
	broker := startTestBroker(t)
	a := startTestAgent(t, "alice", broker, testConfig(t))

	require.Contains(t, a.Address, AddressPrefix)
	require.Equal(t, a.PublicKey, a.Info().PublicKey)
	require.Equal(t, "agent", a.Info().Role)
}

func TestRequestAgentsThroughDirectory(t *testing.T) {
	broker := startTestBroker(t)
	directory, err := registry.StartDirectory(broker)
	require.NoError(t, err)
	t.Cleanup(directory.Stop)

	cfg := testConfig(t)
	a := startTestAgent(t, "alice", broker, cfg)
	b := startTestAgent(t, "bob", broker, cfg)

	require.Eventually(t, func() bool {
		if err := a.RequestAgents(); err != nil {
			return false
		}
		for _, info := range a.KnownAgents() {
			if info.PublicKey == b.PublicKey {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "alice never learned about bob")

	info, err := a.ResolvePeer(b.PublicKey)
	require.NoError(t, err)
	require.Equal(t, b.Address, info.Address)

	_, err = a.ResolvePeer("feedface")
	require.ErrorIs(t, err, ErrUnknownPeer)
}

func TestStepStartsProtect(t *testing.T) {
	broker := startTestBroker(t)
	directory, err := registry.StartDirectory(broker)
	require.NoError(t, err)
	t.Cleanup(directory.Stop)

	cfg := testConfig(t)
	a := startTestAgent(t, "alice", broker, cfg)
	b := startTestAgent(t, "bob", broker, cfg)

	require.Eventually(t, func() bool {
		a.Step()
		return a.ProtectedStore().LastSequence(a.PublicKey) >= 1 &&
			b.ProtectedStore().LastSequence(b.PublicKey) >= 1
	}, 10*time.Second, 100*time.Millisecond, "step never completed a protect exchange")
}
