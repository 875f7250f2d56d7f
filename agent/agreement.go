package agent

import (
	"errors"
	"fmt"

	"github.com/trustmesh/trustmesh/chain"
	"github.com/trustmesh/trustmesh/communication"
	"github.com/trustmesh/trustmesh/core"
)

// RequestInteraction proposes a new pairwise block to a partner. The
// candidate is constructed and its sequence number reserved under the chain
// lock, then the lock is released while waiting for the counter-signature;
// the session is abandoned (and the reservation released) on timeout.
func (a *Agent) RequestInteraction(partner core.AgentInfo, payload []byte) error {
	if partner.PublicKey == a.PublicKey {
		return fmt.Errorf("cannot interact with self")
	}

	session, err := a.cache.New(partner, false, true)
	if err != nil {
		return err
	}

	seq, prevHash, err := a.ordinary.ReserveNext(a.PublicKey)
	if err != nil {
		a.cache.Terminate(partner.Address, StateAbandoned)
		return err
	}

	block := &core.Block{
		Payload:            payload,
		PublicKey:          a.PublicKey,
		SequenceNumber:     seq,
		LinkPublicKey:      partner.PublicKey,
		LinkSequenceNumber: core.UnknownSeq,
		PreviousHash:       prevHash,
	}
	if err := block.Sign(a.privKey); err != nil {
		a.ordinary.Release(a.PublicKey, seq)
		a.cache.Terminate(partner.Address, StateAbandoned)
		return err
	}
	block.Hash = block.ComputeHash()

	session.Proposal = block
	session.ReservedSeq = seq

	if err := a.send(partner.Address, communication.MsgBlockProposal,
		communication.BlockPayload{Block: block}); err != nil {
		a.ordinary.Release(a.PublicKey, seq)
		a.cache.Terminate(partner.Address, StateAbandoned)
		return err
	}

	a.logger.Agreement("Proposed %s to %s", block, partner.Address)
	a.cache.StartTimer(session, a.cfg.SessionTimeout, a.abandonSession)
	return nil
}

// abandonSession releases a timed-out session's reservation. No block was
// appended on either side.
func (a *Agent) abandonSession(session *Session) {
	if session.ReservedSeq != core.UnknownSeq {
		a.storeFor(session.Protected).Release(a.PublicKey, session.ReservedSeq)
	}
	a.peers.RecordOutcome(session.Partner.Address, StateAbandoned)
	a.logOutcome(session.ID, StateAbandoned, session.Partner.Address, "timed out waiting for counterparty")
	a.logger.Agreement("Abandoned session %s with %s", session.ID, session.Partner.Address)
}

// Cancel abandons a pending session with a partner before it reaches a
// terminal state. Cancelling a finished or unknown session is a no-op.
func (a *Agent) Cancel(address string) {
	session := a.cache.Terminate(address, StateAbandoned)
	if session == nil {
		return
	}
	a.abandonSession(session)
}

// handleBlockProposal runs the counterparty side of the handshake: validate
// the proposal as a would-be block on the initiator's chain, construct the
// mirrored half, append both atomically and reply with the agreement.
func (a *Agent) handleBlockProposal(env *communication.Envelope) {
	var payload communication.BlockPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad proposal payload: %v", err)
		return
	}
	proposal := payload.Block
	if proposal == nil || proposal.LinkPublicKey != a.PublicKey {
		a.logger.Error("Proposal from %s does not link to this agent", env.Sender)
		return
	}

	// The proposed sequence number must be unused. An occupied slot means a
	// replay of an already-countersigned proposal (or a rival block); either
	// way a second own half must not be created for it.
	if _, held := a.ordinary.Get(proposal.PublicKey, proposal.SequenceNumber); held {
		a.logger.Error("Dropping proposal %s from %s: %v",
			proposal, env.Sender, chain.ErrSequenceConflict)
		return
	}

	if err := chain.ValidateAgainstStore(proposal, a.ordinary); err != nil {
		var gap chain.SequenceGapError
		if errors.As(err, &gap) {
			a.logger.Reconcile("Proposal from %s needs missing predecessor %.8s:%d, dropping",
				env.Sender, gap.PublicKey, gap.SequenceNumber-1)
		} else {
			a.logger.Error("Invalid proposal from %s: %v", env.Sender, err)
		}
		return
	}

	seq, prevHash, err := a.ordinary.ReserveNext(a.PublicKey)
	if err != nil {
		a.logger.Agreement("Cannot countersign for %s: %v", env.Sender, err)
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
		a.ordinary.Release(a.PublicKey, seq)
		a.logger.Error("Failed to sign agreement half: %v", err)
		return
	}
	own.Hash = own.ComputeHash()

	if err := a.ordinary.CommitPair(own, proposal); err != nil {
		a.ordinary.Release(a.PublicKey, seq)
		a.logger.Error("Failed to append agreement pair: %v", err)
		return
	}
	a.logger.Chain("Appended %s and %s", own, proposal)

	if err := a.send(env.Sender, communication.MsgBlockAgreement,
		communication.BlockPayload{Block: own}); err != nil {
		a.logger.Error("Failed to send agreement: %v", err)
		return
	}

	a.peers.RecordOutcome(env.Sender, StateAgreed)
	a.logOutcome(env.ID, StateAgreed, env.Sender, fmt.Sprintf("countersigned %s", proposal))
	a.logger.Agreement("Countersigned %s with own %s", proposal, own)
}

// handleBlockAgreement finishes the initiator side: validate the
// counter-signed half, confirm the cross-references and append both halves
// atomically. A late reply for an abandoned proposal finds no open session
// and is dropped.
func (a *Agent) handleBlockAgreement(env *communication.Envelope) {
	session := a.cache.Get(env.Sender)
	if session == nil || session.Protected || session.Proposal == nil {
		a.logger.Agreement("No open proposal for agreement from %s, dropping", env.Sender)
		return
	}

	var payload communication.BlockPayload
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("Bad agreement payload: %v", err)
		return
	}

	if err := a.completeAgreement(session, payload.Block, a.ordinary); err != nil {
		a.failSession(session, err)
		return
	}

	a.cache.Terminate(env.Sender, StateAgreed)
	a.peers.RecordOutcome(env.Sender, StateAgreed)
	a.logOutcome(session.ID, StateAgreed, env.Sender, fmt.Sprintf("agreed %s", session.Proposal))
	a.logger.Agreement("Agreement reached with %s on %s", env.Sender, session.Proposal)
}

// completeAgreement checks that the counter-signed half mirrors the pending
// proposal and appends both halves atomically.
func (a *Agent) completeAgreement(session *Session, half *core.Block, store *chain.Store) error {
	if half == nil {
		return fmt.Errorf("%w: empty agreement half", chain.ErrMalformedBlock)
	}
	if half.PublicKey != session.Partner.PublicKey ||
		half.LinkPublicKey != a.PublicKey ||
		half.LinkSequenceNumber != session.Proposal.SequenceNumber {
		return fmt.Errorf("%w: agreement half does not mirror proposal %s",
			chain.ErrLinkMismatch, session.Proposal)
	}

	if err := chain.ValidateAgainstStore(half, store); err != nil {
		return err
	}
	if err := store.CommitPair(session.Proposal, half); err != nil {
		return err
	}
	a.logger.Chain("Appended %s and %s", session.Proposal, half)
	return nil
}

// failSession abandons a session after a failed validation; the reservation
// is released and nothing was appended.
func (a *Agent) failSession(session *Session, cause error) {
	a.cache.Terminate(session.Partner.Address, StateAbandoned)
	if session.ReservedSeq != core.UnknownSeq {
		a.storeFor(session.Protected).Release(a.PublicKey, session.ReservedSeq)
	}
	a.peers.RecordOutcome(session.Partner.Address, StateAbandoned)
	a.logOutcome(session.ID, StateAbandoned, session.Partner.Address, cause.Error())
	a.logger.Error("Session %s with %s failed: %v", session.ID, session.Partner.Address, cause)
}
