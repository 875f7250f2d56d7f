package communication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/trustmesh/trustmesh/chain"
	"github.com/trustmesh/trustmesh/core"
)

// MessageType is the discriminant tag on every envelope.
type MessageType string

const (
	MsgRegister     MessageType = "register"
	MsgUnregister   MessageType = "unregister"
	MsgAgentRequest MessageType = "agent_request"
	MsgAgentReply   MessageType = "agent_reply"

	MsgBlockProposal  MessageType = "block_proposal"
	MsgBlockAgreement MessageType = "block_agreement"

	MsgProtectChain           MessageType = "protect_chain"
	MsgProtectIndexRequest    MessageType = "protect_index_request"
	MsgProtectIndexReply      MessageType = "protect_index_reply"
	MsgProtectBlocksRequest   MessageType = "protect_blocks_request"
	MsgProtectBlocksReply     MessageType = "protect_blocks_reply"
	MsgProtectChainBlocks     MessageType = "protect_chain_blocks"
	MsgProtectBlockProposal   MessageType = "protect_block_proposal"
	MsgProtectBlockAgreement  MessageType = "protect_block_agreement"
	MsgProtectReject          MessageType = "protect_reject"
	MsgProtectExchangeRequest MessageType = "protect_exchange_request"
	MsgProtectExchangeReply   MessageType = "protect_exchange_reply"
)

// RegisterPayload announces an agent to the directory.
type RegisterPayload struct {
	Agent core.AgentInfo `json:"agent"`
}

// UnregisterPayload removes an agent from the directory.
type UnregisterPayload struct {
	Agent core.AgentInfo `json:"agent"`
}

// EmptyPayload is the body of messages that carry no data: peer-set queries
// and protect index requests.
type EmptyPayload struct{}

// AgentReplyPayload is the directory's answer to an agent request.
type AgentReplyPayload struct {
	Agents []core.AgentInfo `json:"agents"`
}

// BlockPayload carries a single block: proposals and agreement halves in both
// namespaces.
type BlockPayload struct {
	Block *core.Block `json:"block"`
}

// DatabasePayload carries an agent's info together with a set of its blocks.
type DatabasePayload struct {
	Info   core.AgentInfo `json:"info"`
	Blocks []*core.Block  `json:"blocks"`
}

// IndexPayload carries a block index in wire form.
type IndexPayload struct {
	Entries []chain.IndexEntry `json:"entries"`
}

// ExchangeIndexPayload carries an exchange index in wire form.
type ExchangeIndexPayload struct {
	Entries []chain.ExchangeEntry `json:"entries"`
}

// ChainAndBlocksPayload carries a full reconciliation response.
type ChainAndBlocksPayload struct {
	ChainAndBlocks chain.ChainAndBlocks `json:"chain_and_blocks"`
}

// ExchangeRequestPayload asks for specific blocks by content hash.
type ExchangeRequestPayload struct {
	BlockHashes []string `json:"block_hashes"`
}

// RejectPayload refuses a protect session.
type RejectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// payloadTypes maps each tag to the one payload type it may carry.
var payloadTypes = map[MessageType]reflect.Type{
	MsgRegister:               reflect.TypeOf(RegisterPayload{}),
	MsgUnregister:             reflect.TypeOf(UnregisterPayload{}),
	MsgAgentRequest:           reflect.TypeOf(EmptyPayload{}),
	MsgAgentReply:             reflect.TypeOf(AgentReplyPayload{}),
	MsgBlockProposal:          reflect.TypeOf(BlockPayload{}),
	MsgBlockAgreement:         reflect.TypeOf(BlockPayload{}),
	MsgProtectChain:           reflect.TypeOf(DatabasePayload{}),
	MsgProtectIndexRequest:    reflect.TypeOf(EmptyPayload{}),
	MsgProtectIndexReply:      reflect.TypeOf(ExchangeIndexPayload{}),
	MsgProtectBlocksRequest:   reflect.TypeOf(IndexPayload{}),
	MsgProtectBlocksReply:     reflect.TypeOf(DatabasePayload{}),
	MsgProtectChainBlocks:     reflect.TypeOf(ChainAndBlocksPayload{}),
	MsgProtectBlockProposal:   reflect.TypeOf(BlockPayload{}),
	MsgProtectBlockAgreement:  reflect.TypeOf(BlockPayload{}),
	MsgProtectReject:          reflect.TypeOf(RejectPayload{}),
	MsgProtectExchangeRequest: reflect.TypeOf(ExchangeRequestPayload{}),
	MsgProtectExchangeReply:   reflect.TypeOf(ChainAndBlocksPayload{}),
}

// Envelope is the outer wire frame: a tag, the sender's address and exactly
// one typed payload selected by the tag.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Sender  string          `json:"sender"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds and marshals an envelope. The payload must be the type
// registered for the tag.
func NewEnvelope(t MessageType, sender string, payload interface{}) ([]byte, error) {
	expected, ok := payloadTypes[t]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	if reflect.TypeOf(payload) != expected {
		return nil, fmt.Errorf("message type %q requires payload %s, got %T", t, expected, payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %q payload: %w", t, err)
	}
	return json.Marshal(Envelope{
		Type:    t,
		Sender:  sender,
		ID:      uuid.NewString(),
		Payload: raw,
	})
}

// ParseEnvelope unmarshals the outer frame and rejects unknown tags.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if _, ok := payloadTypes[env.Type]; !ok {
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	return &env, nil
}

// DecodePayload unmarshals the payload into v, rejecting envelopes whose
// payload does not match the type declared by the tag: v must be a pointer to
// the registered payload type and the JSON may not carry stray fields.
func (e *Envelope) DecodePayload(v interface{}) error {
	expected := payloadTypes[e.Type]
	rv := reflect.TypeOf(v)
	if rv == nil || rv.Kind() != reflect.Ptr || rv.Elem() != expected {
		return fmt.Errorf("message type %q carries payload %s, cannot decode into %T", e.Type, expected, v)
	}

	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("payload does not match declared tag %q: %w", e.Type, err)
	}
	return nil
}
