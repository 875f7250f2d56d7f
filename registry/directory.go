package registry

import (
	"log"

	"github.com/nats-io/nats.go"
	"github.com/trustmesh/trustmesh/communication"
	"github.com/trustmesh/trustmesh/core"
)

// DirectorySubject is where agents reach the peer directory.
const DirectorySubject = "trustmesh.directory"

// Directory answers register/unregister announcements and "who is online"
// queries over NATS, backed by the agent registry.
type Directory struct {
	broker *core.NatsBroker
	sub    *nats.Subscription
}

// StartDirectory subscribes the directory service on the broker.
func StartDirectory(broker *core.NatsBroker) (*Directory, error) {
	d := &Directory{broker: broker}
	sub, err := broker.Subscribe(DirectorySubject, d.handle)
	if err != nil {
		return nil, err
	}
	d.sub = sub
	log.Printf("Directory listening on %s", DirectorySubject)
	return d, nil
}

// Stop unsubscribes the directory.
func (d *Directory) Stop() {
	if d.sub != nil {
		_ = d.sub.Unsubscribe()
	}
}

func (d *Directory) handle(m *nats.Msg) {
	env, err := communication.ParseEnvelope(m.Data)
	if err != nil {
		log.Printf("Directory dropped message: %v", err)
		return
	}

	switch env.Type {
	case communication.MsgRegister:
		var payload communication.RegisterPayload
		if err := env.DecodePayload(&payload); err != nil {
			log.Printf("Directory dropped register: %v", err)
			return
		}
		RegisterAgent(payload.Agent)
		log.Printf("Directory registered agent %.8s at %s", payload.Agent.PublicKey, payload.Agent.Address)

	case communication.MsgUnregister:
		var payload communication.UnregisterPayload
		if err := env.DecodePayload(&payload); err != nil {
			log.Printf("Directory dropped unregister: %v", err)
			return
		}
		UnregisterAgent(payload.Agent.PublicKey)
		log.Printf("Directory unregistered agent %.8s", payload.Agent.PublicKey)

	case communication.MsgAgentRequest:
		var payload communication.EmptyPayload
		if err := env.DecodePayload(&payload); err != nil {
			log.Printf("Directory dropped agent request: %v", err)
			return
		}
		reply, err := communication.NewEnvelope(communication.MsgAgentReply, DirectorySubject,
			communication.AgentReplyPayload{Agents: GetAllAgents()})
		if err != nil {
			log.Printf("Directory failed to build reply: %v", err)
			return
		}
		if err := m.Respond(reply); err != nil {
			log.Printf("Directory failed to respond: %v", err)
		}

	default:
		log.Printf("Directory ignoring message type %q", env.Type)
	}
}
