package agent

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/core"
)

func protectDone(a, b *Agent) bool {
	return a.ProtectedStore().LastSequence(a.PublicKey) >= 1 &&
		a.ProtectedStore().LastSequence(b.PublicKey) >= 1 &&
		b.ProtectedStore().LastSequence(a.PublicKey) >= 1 &&
		b.ProtectedStore().LastSequence(b.PublicKey) >= 1
}

func TestProtectExchange(t *testing.T) {
	broker := startTestBroker(t)
	cfg := testConfig(t)
	a := startTestAgent(t, "alice", broker, cfg)
	b := startTestAgent(t, "bob", broker, cfg)

	require.NoError(t, a.RequestProtect(b.Info()))

	require.Eventually(t, func() bool { return protectDone(a, b) },
		5*time.Second, 50*time.Millisecond, "protect exchange never completed")

	// Both halves carry the exchange summary and reference each other.
	proposal, ok := b.ProtectedStore().Get(a.PublicKey, core.GenesisSeq)
	require.True(t, ok)
	agreement, ok := a.ProtectedStore().Get(b.PublicKey, core.GenesisSeq)
	require.True(t, ok)
	require.Equal(t, b.PublicKey, proposal.LinkPublicKey)
	require.Equal(t, proposal.SequenceNumber, agreement.LinkSequenceNumber)

	var summary exchangeSummary
	require.NoError(t, core.DecodeJSON(proposal.Payload, &summary))

	// The exchange is on record for future reconciliations.
	require.NotEmpty(t, a.exchanges.Entries())
	require.NotEmpty(t, b.exchanges.Entries())

	// A completed protect is followed by an ordinary interaction.
	require.Eventually(t, func() bool {
		return a.OrdinaryStore().LastSequence(a.PublicKey) == 1 &&
			b.OrdinaryStore().LastSequence(a.PublicKey) == 1
	}, 5*time.Second, 50*time.Millisecond, "follow-up interaction never completed")
}

func TestProtectRejectsSelf(t *testing.T) {
	broker := startTestBroker(t)
	a := startTestAgent(t, "alice", broker, testConfig(t))
	require.Error(t, a.RequestProtect(a.Info()))
}

func TestProtectRejectedByIgnoringPartner(t *testing.T) {
	broker := startTestBroker(t)
	cfg := testConfig(t)
	a := startTestAgent(t, "alice", broker, cfg)
	b := startTestAgent(t, "bob", broker, cfg)

	b.Peers().Ignore(a.Address)
	require.NoError(t, a.RequestProtect(b.Info()))

	require.Eventually(t, func() bool {
		return a.Peers().Rejected(b.Address) == 1
	}, 5*time.Second, 50*time.Millisecond, "rejection never arrived")

	// Nothing was appended on either side.
	require.Equal(t, uint64(0), a.ProtectedStore().LastSequence(a.PublicKey))
	require.Equal(t, uint64(0), b.ProtectedStore().LastSequence(b.PublicKey))
	require.False(t, a.ProtectedStore().Reserved(a.PublicKey))

	// Rejection is per-attempt: a retry opens a fresh session.
	require.NoError(t, a.RequestProtect(b.Info()))
}

func TestProtectRefusesIgnoredPartnerLocally(t *testing.T) {
	broker := startTestBroker(t)
	a := startTestAgent(t, "alice", broker, testConfig(t))

	a.Peers().Ignore(AddressPrefix + "nobody")
	require.Error(t, a.RequestProtect(core.AgentInfo{
		PublicKey: "c0ffee",
		Address:   AddressPrefix + "nobody",
	}))
}

func TestProtectPropagatesThirdPartyHistory(t *testing.T) {
	broker := startTestBroker(t)
	cfg := testConfig(t)
	a := startTestAgent(t, "alice", broker, cfg)
	b := startTestAgent(t, "bob", broker, cfg)
	c := startTestAgent(t, "carol", broker, cfg)

	require.NoError(t, a.RequestProtect(b.Info()))
	require.Eventually(t, func() bool { return protectDone(a, b) },
		5*time.Second, 50*time.Millisecond, "first protect never completed")

	require.NoError(t, c.RequestProtect(b.Info()))
	require.Eventually(t, func() bool { return protectDone(b, c) },
		5*time.Second, 50*time.Millisecond, "second protect never completed")

	// During the second exchange bob handed alice's blocks to carol, who
	// never talked to alice directly.
	require.Eventually(t, func() bool {
		return c.ProtectedStore().LastSequence(a.PublicKey) >= 1
	}, 5*time.Second, 50*time.Millisecond, "carol never received alice's history")
}

func TestProtectRejectsForgedPartnerBlock(t *testing.T) {
	broker := startTestBroker(t)
	cfg := testConfig(t)
	b := startTestAgent(t, "bob", broker, cfg)
	x := startTestAgent(t, "mallory", broker, cfg)

	// A block on a third agent's chain that its owner never signed. The
	// forger's signature does not verify against the claimed public key.
	victim := core.PublicKeyOf(core.GenerateKey())
	forged := &core.Block{
		Payload:            []byte("forged"),
		PublicKey:          victim,
		SequenceNumber:     core.GenesisSeq,
		LinkPublicKey:      x.PublicKey,
		LinkSequenceNumber: core.GenesisSeq,
		PreviousHash:       core.GenesisHash(),
	}
	sig, err := core.GenerateKey().Sign(forged.SigningBytes())
	require.NoError(t, err)
	forged.Signature = hex.EncodeToString(sig)
	forged.Hash = forged.ComputeHash()
	require.False(t, forged.VerifySignature())
	require.NoError(t, x.ProtectedStore().Add(forged))

	// The forged block rides down in mallory's bundle and must fail
	// verification on bob's side, ending the session in rejection.
	require.NoError(t, b.RequestProtect(x.Info()))

	require.Eventually(t, func() bool {
		return b.Peers().Ignored(x.Address) && x.Peers().Rejected(b.Address) == 1
	}, 5*time.Second, 50*time.Millisecond, "forged block never rejected")

	_, held := b.ProtectedStore().Get(victim, core.GenesisSeq)
	require.False(t, held)
	require.Equal(t, uint64(0), b.ProtectedStore().LastSequence(b.PublicKey))
	require.False(t, b.ProtectedStore().Reserved(b.PublicKey))
}

func TestFetchBlocksByHash(t *testing.T) {
	broker := startTestBroker(t)
	cfg := testConfig(t)
	a := startTestAgent(t, "alice", broker, cfg)
	b := startTestAgent(t, "bob", broker, cfg)

	require.NoError(t, a.RequestProtect(b.Info()))
	require.Eventually(t, func() bool { return protectDone(a, b) },
		5*time.Second, 50*time.Millisecond, "protect exchange never completed")

	target, ok := b.ProtectedStore().Get(b.PublicKey, core.GenesisSeq)
	require.True(t, ok)

	blocks, err := a.FetchBlocksByHash(b.Info(), []string{target.Hash})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, target.Hash, blocks[0].Hash)
}

func TestFetchBlocksByHashTimesOut(t *testing.T) {
	broker := startTestBroker(t)
	cfg := testConfig(t)
	cfg.SessionTimeout = 100 * time.Millisecond
	a := startTestAgent(t, "alice", broker, cfg)

	_, err := a.FetchBlocksByHash(core.AgentInfo{
		PublicKey: "c0ffee",
		Address:   AddressPrefix + "nobody",
	}, []string{"deadbeef"})
	require.ErrorIs(t, err, ErrTimeout)
}
