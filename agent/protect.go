package agent

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/trustmesh/trustmesh/chain"
	"github.com/trustmesh/trustmesh/communication"
	"github.com/trustmesh/trustmesh/core"
)

// exchangeSummary is the payload recorded on a protect exchange block: the
// indices of what each side transferred during the reconciliation.
type exchangeSummary struct {
	TransferUp   []chain.IndexEntry `json:"transfer_up"`
	TransferDown []chain.IndexEntry `json:"transfer_down"`
}

// RequestProtect opens a protect session with a partner: the initiator sends
// its complete protected chain and the conversation proceeds through index
// and block exchange before the pairwise exchange block is proposed. The
// partner may refuse at any gate with an explicit rejection.
func (a *Agent) RequestProtect(partner core.AgentInfo) error {
	if partner.PublicKey == a.PublicKey {
		return fmt.Errorf("cannot protect with self")
	}
	if a.peers.Ignored(partner.Address) {
		return fmt.Errorf("partner %s is on the ignore list", partner.Address)
	}

	session, err := a.cache.New(partner, true, true)
	if err != nil {
		return err
	}

	if err := a.send(partner.Address, communication.MsgProtectChain, communication.DatabasePayload{
		Info:   a.Info(),
		Blocks: a.protected.Chain(a.PublicKey),
	}); err != nil {
		a.cache.Terminate(partner.Address, StateAbandoned)
		return err
	}

	a.logger.Protect("[0] Requesting PROTECT with %s", partner.Address)
	a.cache.StartTimer(session, a.cfg.SessionTimeout, a.abandonSession)
	return nil
}

// sendReject refuses a protect session.
func (a *Agent) sendReject(address, reason string) {
	if err := a.send(address, communication.MsgProtectReject,
		communication.RejectPayload{Reason: reason}); err != nil {
		a.logger.Error("Failed to send reject: %v", err)
	}
}

// handleProtectChain receives an initiator's protected chain. The chain is
// verified for continuity; a busy or distrusted partner is rejected.
func (a *Agent) handleProtectChain(env *communication.Envelope) {
	if a.cache.Get(env.Sender) != nil {
		a.logger.Protect("Request already open, rejecting request from %s", env.Sender)
		a.sendReject(env.Sender, "request already open")
		return
	}
	if a.peers.Ignored(env.Sender) {
		a.logger.Protect("Agent %s is in ignore list", env.Sender)
		a.sendReject(env.Sender, "refused")
		return
	}

	var payload communication.DatabasePayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad protect chain payload: %v", err)
		a.sendReject(env.Sender, "malformed chain payload")
		return
	}
	if payload.Info.Address != env.Sender {
		a.sendReject(env.Sender, "sender does not match chain owner")
		return
	}

	if len(payload.Blocks) > 0 {
		if err := chain.VerifyChain(payload.Blocks); err != nil {
			a.logger.Protect("Chain verification failed for %s: %v", env.Sender, err)
			a.peers.Ignore(env.Sender)
			a.sendReject(env.Sender, "chain verification failed")
			return
		}
	}

	session, err := a.cache.New(payload.Info, true, false)
	if err != nil {
		a.sendReject(env.Sender, "request already open")
		return
	}
	session.PartnerChain = payload.Blocks
	a.cache.StartTimer(session, a.cfg.SessionTimeout, a.abandonSession)

	if err := a.send(env.Sender, communication.MsgProtectIndexRequest,
		communication.EmptyPayload{}); err != nil {
		a.logger.Error("Failed to request index: %v", err)
	}
	a.logger.Protect("[1] Requesting INDEX from %s", env.Sender)
}

// handleProtectIndexRequest serves the initiator's exchange storage, which
// lists the blocks received from other agents alongside the exchange block
// each transfer was recorded on.
func (a *Agent) handleProtectIndexRequest(env *communication.Envelope) {
	if a.cache.Get(env.Sender) == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	if err := a.send(env.Sender, communication.MsgProtectIndexReply,
		communication.ExchangeIndexPayload{Entries: a.exchanges.Entries()}); err != nil {
		a.logger.Error("Failed to send index reply: %v", err)
	}
}

// handleProtectIndexReply computes which blocks the initiator holds that this
// agent lacks and requests exactly those.
func (a *Agent) handleProtectIndexReply(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	var payload communication.ExchangeIndexPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad index reply payload: %v", err)
		return
	}

	partnerIndex := chain.NewBlockIndex()
	for _, idx := range chain.ExchangeFromEntries(payload.Entries) {
		partnerIndex = partnerIndex.Union(idx)
	}
	partnerIndex = partnerIndex.Union(chain.BuildIndex(session.PartnerChain))
	session.PartnerIndex = partnerIndex

	ownIndex := chain.BuildIndex(a.protected.AllBlocks())
	toRequest := partnerIndex.Sub(ownIndex)

	if err := a.send(env.Sender, communication.MsgProtectBlocksRequest,
		communication.IndexPayload{Entries: toRequest.Entries()}); err != nil {
		a.logger.Error("Failed to request blocks: %v", err)
		return
	}
	a.logger.Reconcile("Requesting %d blocks from %s", toRequest.Count(), env.Sender)
}

// handleProtectBlocksRequest sends the blocks the responder lacks. The
// transferred index is kept on the session; its hash lands on the exchange
// block created for this request.
func (a *Agent) handleProtectBlocksRequest(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	var payload communication.IndexPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad blocks request payload: %v", err)
		return
	}
	idx := chain.IndexFromEntries(payload.Entries)
	blocks := a.protected.ByIndex(idx)
	session.TransferUp = chain.BuildIndex(blocks)

	if err := a.send(env.Sender, communication.MsgProtectBlocksReply, communication.DatabasePayload{
		Info:   a.Info(),
		Blocks: blocks,
	}); err != nil {
		a.logger.Error("Failed to send blocks: %v", err)
		return
	}
	a.logger.Protect("[2] Sending BLOCKS to %s", env.Sender)
}

// handleProtectBlocksReply validates and files the initiator's blocks, then
// answers with this agent's own chain and the blocks the initiator lacks.
func (a *Agent) handleProtectBlocksReply(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	var payload communication.DatabasePayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad blocks reply payload: %v", err)
		return
	}

	if err := a.fileBlocks(payload.Blocks, a.protected); err != nil {
		a.logger.Protect("Block verification failed for %s: %v", env.Sender, err)
		a.peers.Ignore(env.Sender)
		a.rejectSession(session, "block verification failed")
		return
	}
	session.TransferUp = chain.BuildIndex(payload.Blocks)

	ownIndex := chain.BuildIndex(a.protected.AllBlocks())
	transferDown := ownIndex.Sub(session.PartnerIndex)

	packet := chain.BuildExchangePacket(a.protected, a.PublicKey, transferDown, session.PartnerIndex)
	session.TransferDown = chain.BuildIndex(packet.Blocks)
	if err := a.send(env.Sender, communication.MsgProtectChainBlocks,
		communication.ChainAndBlocksPayload{ChainAndBlocks: *packet}); err != nil {
		a.logger.Error("Failed to send chain and blocks: %v", err)
		return
	}
	a.logger.Protect("[3] Sending CHAIN AND BLOCKS to %s", env.Sender)
}

// handleProtectChainBlocks verifies the responder's chain and blocks; with
// all data exchanged and both sides trusting each other, the exchange block
// is proposed on the protected chain.
func (a *Agent) handleProtectChainBlocks(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	var payload communication.ChainAndBlocksPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad chain and blocks payload: %v", err)
		return
	}
	bundle := payload.ChainAndBlocks

	if len(bundle.Chain) > 0 {
		if err := chain.VerifyChain(bundle.Chain); err != nil {
			a.logger.Protect("Chain verification failed for %s: %v", env.Sender, err)
			a.peers.Ignore(env.Sender)
			a.rejectSession(session, "chain verification failed")
			return
		}
	}
	if err := a.fileBlocks(append(bundle.Chain, bundle.Blocks...), a.protected); err != nil {
		a.logger.Protect("Block verification failed for %s: %v", env.Sender, err)
		a.peers.Ignore(env.Sender)
		a.rejectSession(session, "block verification failed")
		return
	}

	session.TransferDown = chain.BuildIndex(bundle.Blocks)

	seq, prevHash, err := a.protected.ReserveNext(a.PublicKey)
	if err != nil {
		a.failSession(session, err)
		return
	}

	summary, err := core.EncodeJSON(exchangeSummary{
		TransferUp:   session.TransferUp.Entries(),
		TransferDown: session.TransferDown.Entries(),
	})
	if err != nil {
		a.protected.Release(a.PublicKey, seq)
		a.failSession(session, err)
		return
	}

	proposal := &core.Block{
		Payload:            summary,
		PublicKey:          a.PublicKey,
		SequenceNumber:     seq,
		LinkPublicKey:      session.Partner.PublicKey,
		LinkSequenceNumber: core.UnknownSeq,
		PreviousHash:       prevHash,
	}
	if err := proposal.Sign(a.privKey); err != nil {
		a.protected.Release(a.PublicKey, seq)
		a.failSession(session, err)
		return
	}
	proposal.Hash = proposal.ComputeHash()

	session.Proposal = proposal
	session.ReservedSeq = seq
	a.exchanges.AddExchange(proposal.Hash, session.TransferUp)

	if err := a.send(env.Sender, communication.MsgProtectBlockProposal,
		communication.BlockPayload{Block: proposal}); err != nil {
		a.failSession(session, err)
		return
	}
	a.logger.Protect("[4] Sending PROPOSAL to %s", env.Sender)
}

// handleProtectBlockProposal countersigns the exchange block: the summary
// hashes are checked against what was actually transferred, the mirrored half
// is created and both halves appended atomically.
func (a *Agent) handleProtectBlockProposal(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	var payload communication.BlockPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad protect proposal payload: %v", err)
		return
	}
	proposal := payload.Block
	if proposal == nil || proposal.LinkPublicKey != a.PublicKey {
		a.rejectSession(session, "proposal does not link to this agent")
		return
	}

	var summary exchangeSummary
	if err := core.DecodeJSON(proposal.Payload, &summary); err != nil {
		a.rejectSession(session, "unreadable exchange summary")
		return
	}
	if !indexEqual(chain.IndexFromEntries(summary.TransferUp), session.TransferUp) ||
		!indexEqual(chain.IndexFromEntries(summary.TransferDown), session.TransferDown) {
		a.logger.Protect("Exchange summary from %s does not match transfers", env.Sender)
		a.peers.Ignore(env.Sender)
		a.rejectSession(session, "exchange summary mismatch")
		return
	}

	if err := chain.ValidateAgainstStore(proposal, a.protected); err != nil {
		a.rejectSession(session, fmt.Sprintf("invalid proposal: %v", err))
		return
	}

	seq, prevHash, err := a.protected.ReserveNext(a.PublicKey)
	if err != nil {
		a.failSession(session, err)
		return
	}

	own := &core.Block{
		Payload:            proposal.Payload,
		PublicKey:          a.PublicKey,
		SequenceNumber:     seq,
		LinkPublicKey:      proposal.PublicKey,
		LinkSequenceNumber: proposal.SequenceNumber,
		PreviousHash:       prevHash,
	}
	if err := own.Sign(a.privKey); err != nil {
		a.protected.Release(a.PublicKey, seq)
		a.failSession(session, err)
		return
	}
	own.Hash = own.ComputeHash()

	if err := a.protected.CommitPair(own, proposal); err != nil {
		a.protected.Release(a.PublicKey, seq)
		a.failSession(session, err)
		return
	}
	a.exchanges.AddExchange(own.Hash, session.TransferDown)

	if err := a.send(env.Sender, communication.MsgProtectBlockAgreement,
		communication.BlockPayload{Block: own}); err != nil {
		a.logger.Error("Failed to send protect agreement: %v", err)
		return
	}

	a.cache.Terminate(env.Sender, StateAgreed)
	a.peers.RecordOutcome(env.Sender, StateAgreed)
	a.logOutcome(session.ID, StateAgreed, env.Sender, fmt.Sprintf("protect countersigned %s", proposal))
	a.logger.Protect("[5] Sending AGREEMENT to %s", env.Sender)
}

// handleProtectBlockAgreement finishes the initiator side of the protect
// exchange and follows up with an ordinary interaction, now that both agents
// hold each other's full history.
func (a *Agent) handleProtectBlockAgreement(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil || !session.Protected || session.Proposal == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}

	var payload communication.BlockPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad protect agreement payload: %v", err)
		return
	}

	if err := a.completeAgreement(session, payload.Block, a.protected); err != nil {
		a.failSession(session, err)
		return
	}

	a.cache.Terminate(env.Sender, StateAgreed)
	a.peers.RecordOutcome(env.Sender, StateAgreed)
	a.logOutcome(session.ID, StateAgreed, env.Sender, fmt.Sprintf("protect agreed %s", session.Proposal))
	a.logger.Protect("[6] Storing AGREEMENT from %s", env.Sender)

	if err := a.RequestInteraction(session.Partner, nil); err != nil {
		a.logger.Agreement("Follow-up interaction with %s not started: %v", env.Sender, err)
	}
}

// handleProtectReject ends a session the partner refused. Rejection is
// per-attempt: the session is removed and a later identical proposal starts
// a new one.
func (a *Agent) handleProtectReject(env *communication.Envelope) {
	var payload communication.RejectPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad reject payload: %v", err)
		return
	}

	session := a.cache.Terminate(env.Sender, StateRejected)
	if session == nil {
		a.logger.Error("No open request found for %s", env.Sender)
		return
	}
	if session.ReservedSeq != core.UnknownSeq {
		a.storeFor(session.Protected).Release(a.PublicKey, session.ReservedSeq)
	}

	a.peers.RecordOutcome(env.Sender, StateRejected)
	a.logOutcome(session.ID, StateRejected, env.Sender, payload.Reason)
	a.logger.Protect("Session %s rejected by %s: %s", session.ID, env.Sender, payload.Reason)
}

// rejectSession refuses the partner and records the rejection locally.
func (a *Agent) rejectSession(session *Session, reason string) {
	a.cache.Terminate(session.Partner.Address, StateRejected)
	if session.ReservedSeq != core.UnknownSeq {
		a.storeFor(session.Protected).Release(a.PublicKey, session.ReservedSeq)
	}
	a.sendReject(session.Partner.Address, reason)
	a.peers.RecordOutcome(session.Partner.Address, StateRejected)
	a.logOutcome(session.ID, StateRejected, session.Partner.Address, reason)
}

// fileBlocks validates and appends received blocks in chain order.
// Already-held identical blocks are skipped; any invalid block aborts.
func (a *Agent) fileBlocks(blocks []*core.Block, store *chain.Store) error {
	for _, b := range chain.BuildOrder(blocks) {
		if err := chain.ValidateAgainstStore(b, store); err != nil {
			return err
		}
		if err := store.Add(b); err != nil {
			return err
		}
	}
	return nil
}

// handleProtectExchangeRequest answers a hash-addressed block fetch over
// NATS request/reply.
func (a *Agent) handleProtectExchangeRequest(env *communication.Envelope, m *nats.Msg) {
	var payload communication.ExchangeRequestPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad exchange request payload: %v", err)
		return
	}

	exchange := make(chain.ExchangeIndex)
	var blocks []*core.Block
	for _, hash := range payload.BlockHashes {
		b, ok := a.protected.GetByHash(hash)
		if !ok {
			continue
		}
		blocks = append(blocks, b)
		// An exchange block carries the index that was transferred with it;
		// plain blocks just get their own locator.
		if idx, ok := a.exchanges.Get(hash); ok && idx.Count() > 0 {
			exchange[b.Hash] = idx
			continue
		}
		locator := chain.NewBlockIndex()
		locator.Add(b.PublicKey, b.SequenceNumber)
		exchange[b.Hash] = locator
	}

	reply, err := communication.NewEnvelope(communication.MsgProtectExchangeReply, a.Address,
		communication.ChainAndBlocksPayload{ChainAndBlocks: chain.ChainAndBlocks{
			Blocks:   blocks,
			Exchange: exchange.Entries(),
		}})
	if err != nil {
		a.logger.Error("Failed to build exchange reply: %v", err)
		return
	}
	if m.Reply == "" {
		a.logger.Error("Exchange request from %s carries no reply subject", env.Sender)
		return
	}
	if err := m.Respond(reply); err != nil {
		a.logger.Error("Failed to respond to exchange request: %v", err)
	}
}

// FetchBlocksByHash requests specific blocks from a peer by content hash and
// files the validated results into the protected store.
func (a *Agent) FetchBlocksByHash(partner core.AgentInfo, hashes []string) ([]*core.Block, error) {
	data, err := communication.NewEnvelope(communication.MsgProtectExchangeRequest, a.Address,
		communication.ExchangeRequestPayload{BlockHashes: hashes})
	if err != nil {
		return nil, err
	}

	msg, err := a.broker.Request(partner.Address, data, a.cfg.SessionTimeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, partner.Address)
		}
		return nil, err
	}

	env, err := communication.ParseEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}
	if env.Type != communication.MsgProtectExchangeReply {
		return nil, fmt.Errorf("unexpected reply type %q", env.Type)
	}
	var payload communication.ChainAndBlocksPayload
	if err := env.DecodePayload(&payload); err != nil {
		return nil, err
	}

	if err := a.fileBlocks(payload.ChainAndBlocks.Blocks, a.protected); err != nil {
		return nil, err
	}
	return payload.ChainAndBlocks.Blocks, nil
}

// indexEqual compares two indices for identical content.
func indexEqual(a, b chain.BlockIndex) bool {
	return a.Sub(b).Count() == 0 && b.Sub(a).Count() == 0
}
