package agent

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/nats-io/nats.go"
	"github.com/trustmesh/trustmesh/chain"
	"github.com/trustmesh/trustmesh/communication"
	"github.com/trustmesh/trustmesh/core"
	"github.com/trustmesh/trustmesh/registry"
	"github.com/trustmesh/trustmesh/utils"
)

// AddressPrefix is the subject prefix every agent inbox lives under.
const AddressPrefix = "trustmesh.agent."

var (
	// ErrTimeout is returned when a counterparty does not reply in time.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrUnknownPeer is returned when a public key cannot be resolved to a
	// reachable address.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Agent is one participant: it owns an ordinary and a protected chain, drives
// pairwise agreements with partners and reconciles missing blocks with them.
type Agent struct {
	Name      string
	PublicKey string
	Address   string

	privKey   ed25519.PrivKey
	broker    *core.NatsBroker
	cfg       core.Config
	ordinary  *chain.Store
	protected *chain.Store
	cache     *RequestCache
	exchanges *ExchangeStorage
	peers     *PeerState
	logger    *Logger

	agentsMu sync.RWMutex
	agents   []core.AgentInfo

	sub    *nats.Subscription
	stopCh chan struct{}
}

// NewAgent creates an agent with a fresh identity key.
func NewAgent(name string, broker *core.NatsBroker, cfg core.Config) *Agent {
	privKey := core.GenerateKey()
	publicKey := core.PublicKeyOf(privKey)

	return &Agent{
		Name:      name,
		PublicKey: publicKey,
		Address:   AddressPrefix + publicKey[:16],
		privKey:   privKey,
		broker:    broker,
		cfg:       cfg,
		ordinary:  chain.NewStore(),
		protected: chain.NewStore(),
		cache:     NewRequestCache(),
		exchanges: NewExchangeStorage(),
		peers:     NewPeerState(),
		logger:    NewLogger(name, publicKey, cfg.LogDir),
		stopCh:    make(chan struct{}),
	}
}

// Info returns the agent's directory entry.
func (a *Agent) Info() core.AgentInfo {
	return core.AgentInfo{
		PublicKey: a.PublicKey,
		Address:   a.Address,
		Role:      "agent",
	}
}

// OrdinaryStore exposes the ordinary-namespace chain store.
func (a *Agent) OrdinaryStore() *chain.Store { return a.ordinary }

// ProtectedStore exposes the protected-namespace chain store.
func (a *Agent) ProtectedStore() *chain.Store { return a.protected }

// Peers exposes the per-peer interaction state.
func (a *Agent) Peers() *PeerState { return a.peers }

// Exchanges exposes the recorded exchange history.
func (a *Agent) Exchanges() *ExchangeStorage { return a.exchanges }

// Start subscribes the agent's inbox and registers with the directory.
func (a *Agent) Start() error {
	sub, err := a.broker.Subscribe(a.Address, a.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe inbox: %w", err)
	}
	a.sub = sub

	if err := a.Register(); err != nil {
		return err
	}
	a.logger.System("Agent started at %s", a.Address)
	return nil
}

// Stop unregisters the agent and tears down its inbox.
func (a *Agent) Stop() {
	close(a.stopCh)
	if err := a.Unregister(); err != nil {
		a.logger.Error("Failed to unregister: %v", err)
	}
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
	a.logger.System("Agent stopped")
	a.logger.Close()
}

// Register announces the agent to the directory.
func (a *Agent) Register() error {
	data, err := communication.NewEnvelope(communication.MsgRegister, a.Address,
		communication.RegisterPayload{Agent: a.Info()})
	if err != nil {
		return err
	}
	a.logger.Directory("Registering with directory")
	return a.broker.Publish(registry.DirectorySubject, data)
}

// Unregister announces the agent's departure to the directory.
func (a *Agent) Unregister() error {
	data, err := communication.NewEnvelope(communication.MsgUnregister, a.Address,
		communication.UnregisterPayload{Agent: a.Info()})
	if err != nil {
		return err
	}
	return a.broker.Publish(registry.DirectorySubject, data)
}

// RequestAgents asks the directory for the current peer set and stores it.
func (a *Agent) RequestAgents() error {
	data, err := communication.NewEnvelope(communication.MsgAgentRequest, a.Address,
		communication.EmptyPayload{})
	if err != nil {
		return err
	}

	msg, err := a.broker.Request(registry.DirectorySubject, data, a.cfg.SessionTimeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%w: directory", ErrTimeout)
		}
		return err
	}

	env, err := communication.ParseEnvelope(msg.Data)
	if err != nil || env.Type != communication.MsgAgentReply {
		return fmt.Errorf("unexpected directory reply")
	}
	var payload communication.AgentReplyPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	a.agentsMu.Lock()
	a.agents = payload.Agents
	a.agentsMu.Unlock()
	a.logger.Directory("Directory knows %d agents", len(payload.Agents))
	return nil
}

// KnownAgents returns the last peer set received from the directory,
// excluding the agent itself.
func (a *Agent) KnownAgents() []core.AgentInfo {
	a.agentsMu.RLock()
	defer a.agentsMu.RUnlock()

	others := make([]core.AgentInfo, 0, len(a.agents))
	for _, info := range a.agents {
		if info.PublicKey != a.PublicKey {
			others = append(others, info)
		}
	}
	return others
}

// ResolvePeer resolves a public key to reachable agent info, first from the
// local peer set, then from the directory registry.
func (a *Agent) ResolvePeer(publicKey string) (core.AgentInfo, error) {
	a.agentsMu.RLock()
	for _, info := range a.agents {
		if info.PublicKey == publicKey {
			a.agentsMu.RUnlock()
			return info, nil
		}
	}
	a.agentsMu.RUnlock()

	if info, ok := registry.GetAgent(publicKey); ok {
		return info, nil
	}
	return core.AgentInfo{}, fmt.Errorf("%w: %.8s", ErrUnknownPeer, publicKey)
}

// Run drives the agent's periodic behavior until Stop: refresh the peer set
// and request an interaction with a random partner.
func (a *Agent) Run() {
	ticker := time.NewTicker(a.cfg.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.Step()
		}
	}
}

// Step performs one round of autonomous behavior.
func (a *Agent) Step() {
	if err := a.RequestAgents(); err != nil {
		a.logger.Error("Peer refresh failed: %v", err)
		return
	}

	partners := a.KnownAgents()
	if len(partners) == 0 {
		return
	}
	partner := partners[rand.Intn(len(partners))]

	if err := a.RequestProtect(partner); err != nil {
		a.logger.Protect("Not starting protect with %s: %v", partner.Address, err)
	}
}

func (a *Agent) storeFor(protected bool) *chain.Store {
	if protected {
		return a.protected
	}
	return a.ordinary
}

// send wraps payload in an envelope and publishes it to a peer address.
func (a *Agent) send(address string, t communication.MessageType, payload interface{}) error {
	data, err := communication.NewEnvelope(t, a.Address, payload)
	if err != nil {
		return err
	}
	return a.broker.Publish(address, data)
}

func (a *Agent) handleMessage(m *nats.Msg) {
	env, err := communication.ParseEnvelope(m.Data)
	if err != nil {
		a.logger.Error("Dropped message: %v", err)
		return
	}

	switch env.Type {
	case communication.MsgBlockProposal:
		a.handleBlockProposal(env)
	case communication.MsgBlockAgreement:
		a.handleBlockAgreement(env)
	case communication.MsgProtectChain:
		a.handleProtectChain(env)
	case communication.MsgProtectIndexRequest:
		a.handleProtectIndexRequest(env)
	case communication.MsgProtectIndexReply:
		a.handleProtectIndexReply(env)
	case communication.MsgProtectBlocksRequest:
		a.handleProtectBlocksRequest(env)
	case communication.MsgProtectBlocksReply:
		a.handleProtectBlocksReply(env)
	case communication.MsgProtectChainBlocks:
		a.handleProtectChainBlocks(env)
	case communication.MsgProtectBlockProposal:
		a.handleProtectBlockProposal(env)
	case communication.MsgProtectBlockAgreement:
		a.handleProtectBlockAgreement(env)
	case communication.MsgProtectReject:
		a.handleProtectReject(env)
	case communication.MsgProtectExchangeRequest:
		a.handleProtectExchangeRequest(env, m)
	default:
		a.logger.Error("No handler for message type %q", env.Type)
	}
}

// logOutcome records a terminal session outcome to the shared outcome log.
func (a *Agent) logOutcome(sessionID string, state SessionState, partner, detail string) {
	utils.LogOutcome(a.cfg.OutcomeLog, sessionID, string(state), partner, detail)
}
