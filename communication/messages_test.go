package communication

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/core"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := RegisterPayload{Agent: core.AgentInfo{
		PublicKey: "ab12",
		Address:   "trustmesh.agent.ab12",
		Role:      "agent",
	}}

	data, err := NewEnvelope(MsgRegister, payload.Agent.Address, payload)
	require.NoError(t, err)

	env, err := ParseEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, MsgRegister, env.Type)
	require.Equal(t, payload.Agent.Address, env.Sender)
	require.NotEmpty(t, env.ID)

	var decoded RegisterPayload
	require.NoError(t, env.DecodePayload(&decoded))
	require.Equal(t, payload.Agent, decoded.Agent)
}

func TestNewEnvelopeRejectsWrongPayloadType(t *testing.T) {
	// block_proposal carries a BlockPayload, not a RejectPayload.
	_, err := NewEnvelope(MsgBlockProposal, "sender", RejectPayload{Reason: "no"})
	require.Error(t, err)
}

func TestNewEnvelopeRejectsUnknownType(t *testing.T) {
	_, err := NewEnvelope(MessageType("gossip"), "sender", EmptyPayload{})
	require.Error(t, err)
}

func TestParseEnvelopeRejectsUnknownTag(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"type":"gossip","sender":"x","id":"1","payload":{}}`))
	require.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodePayloadEnforcesDeclaredTag(t *testing.T) {
	data, err := NewEnvelope(MsgProtectReject, "sender", RejectPayload{Reason: "busy"})
	require.NoError(t, err)
	env, err := ParseEnvelope(data)
	require.NoError(t, err)

	// Decoding into the wrong type fails before touching the JSON.
	var wrong BlockPayload
	require.Error(t, env.DecodePayload(&wrong))

	var right RejectPayload
	require.NoError(t, env.DecodePayload(&right))
	require.Equal(t, "busy", right.Reason)
}

func TestDecodePayloadRejectsStrayFields(t *testing.T) {
	env, err := ParseEnvelope([]byte(
		`{"type":"protect_reject","sender":"x","id":"1","payload":{"reason":"no","extra":1}}`))
	require.NoError(t, err)

	var payload RejectPayload
	require.Error(t, env.DecodePayload(&payload))
}
