package chain

import (
	"testing"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/core"
)

// testKey holds a keypair for building blocks in tests.
type testKey struct {
	priv ed25519.PrivKey
	pub  string
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	priv := core.GenerateKey()
	return testKey{priv: priv, pub: core.PublicKeyOf(priv)}
}

// makeBlock builds and signs one block extending prev (nil for a first block).
func makeBlock(t *testing.T, key testKey, prev *core.Block, linkKey string, linkSeq uint64) *core.Block {
	t.Helper()
	b := &core.Block{
		Payload:            []byte("test"),
		PublicKey:          key.pub,
		SequenceNumber:     core.GenesisSeq,
		LinkPublicKey:      linkKey,
		LinkSequenceNumber: linkSeq,
		PreviousHash:       core.GenesisHash(),
	}
	if prev != nil {
		b.SequenceNumber = prev.SequenceNumber + 1
		b.PreviousHash = prev.ComputeHash()
	}
	require.NoError(t, b.Sign(key.priv))
	b.Hash = b.ComputeHash()
	return b
}

// makeChain builds a single-creator chain of n blocks linked to partner's
// chain with unresolved links.
func makeChain(t *testing.T, key testKey, partner string, n int) []*core.Block {
	t.Helper()
	blocks := make([]*core.Block, 0, n)
	var prev *core.Block
	for i := 0; i < n; i++ {
		b := makeBlock(t, key, prev, partner, core.UnknownSeq)
		blocks = append(blocks, b)
		prev = b
	}
	return blocks
}

// makePair builds the two halves of a completed pairwise agreement on top of
// the given predecessors.
func makePair(t *testing.T, a, b testKey, prevA, prevB *core.Block) (*core.Block, *core.Block) {
	t.Helper()
	proposal := makeBlock(t, a, prevA, b.pub, core.UnknownSeq)
	agreement := makeBlock(t, b, prevB, a.pub, proposal.SequenceNumber)
	return proposal, agreement
}
