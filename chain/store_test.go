package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/core"
)

func TestStoreAddIdempotent(t *testing.T) {
	key := newTestKey(t)
	store := NewStore()
	b := makeBlock(t, key, nil, core.EmptyKey, core.UnknownSeq)

	require.NoError(t, store.Add(b))
	require.NoError(t, store.Add(b))

	got, ok := store.Get(key.pub, core.GenesisSeq)
	require.True(t, ok)
	require.Equal(t, b.Hash, got.Hash)
	require.Len(t, store.Chain(key.pub), 1)
}

func TestStoreAddConflict(t *testing.T) {
	key := newTestKey(t)
	other := newTestKey(t)
	store := NewStore()

	first := makeBlock(t, key, nil, other.pub, core.UnknownSeq)
	require.NoError(t, store.Add(first))

	// Same position, different content.
	second := makeBlock(t, key, nil, core.EmptyKey, core.UnknownSeq)
	err := store.Add(second)
	require.ErrorIs(t, err, ErrSequenceConflict)
}

func TestStoreGetByHash(t *testing.T) {
	key := newTestKey(t)
	store := NewStore()
	b := makeBlock(t, key, nil, core.EmptyKey, core.UnknownSeq)
	require.NoError(t, store.Add(b))

	got, ok := store.GetByHash(b.Hash)
	require.True(t, ok)
	require.Equal(t, b.PublicKey, got.PublicKey)

	_, ok = store.GetByHash("missing")
	require.False(t, ok)
}

func TestStoreLastSequenceStopsAtGap(t *testing.T) {
	key := newTestKey(t)
	store := NewStore()
	blocks := makeChain(t, key, core.EmptyKey, 4)

	require.NoError(t, store.Add(blocks[0]))
	require.NoError(t, store.Add(blocks[1]))
	require.NoError(t, store.Add(blocks[3])) // gap at 3

	require.Equal(t, uint64(2), store.LastSequence(key.pub))
}

func TestStoreReserveNext(t *testing.T) {
	key := newTestKey(t)
	store := NewStore()

	seq, prevHash, err := store.ReserveNext(key.pub)
	require.NoError(t, err)
	require.Equal(t, core.GenesisSeq, seq)
	require.Equal(t, core.GenesisHash(), prevHash)
	require.True(t, store.Reserved(key.pub))

	// One outstanding reservation per chain.
	_, _, err = store.ReserveNext(key.pub)
	require.ErrorIs(t, err, ErrSequenceConflict)

	store.Release(key.pub, seq)
	require.False(t, store.Reserved(key.pub))

	seq2, _, err := store.ReserveNext(key.pub)
	require.NoError(t, err)
	require.Equal(t, seq, seq2)
}

func TestStoreCommitPair(t *testing.T) {
	a := newTestKey(t)
	b := newTestKey(t)
	store := NewStore()

	seq, prevHash, err := store.ReserveNext(a.pub)
	require.NoError(t, err)
	require.Equal(t, core.GenesisSeq, seq)

	own := &core.Block{
		Payload:            []byte("test"),
		PublicKey:          a.pub,
		SequenceNumber:     seq,
		LinkPublicKey:      b.pub,
		LinkSequenceNumber: core.UnknownSeq,
		PreviousHash:       prevHash,
	}
	require.NoError(t, own.Sign(a.priv))
	partner := makeBlock(t, b, nil, a.pub, seq)

	require.NoError(t, store.CommitPair(own, partner))
	require.False(t, store.Reserved(a.pub))
	require.Equal(t, seq, store.LastSequence(a.pub))
	require.Equal(t, core.GenesisSeq, store.LastSequence(b.pub))
}

func TestStoreCommitPairRejectsConflict(t *testing.T) {
	a := newTestKey(t)
	b := newTestKey(t)
	store := NewStore()

	// Partner slot is already occupied by a different block.
	occupied := makeBlock(t, b, nil, core.EmptyKey, core.UnknownSeq)
	require.NoError(t, store.Add(occupied))

	proposal, agreement := makePair(t, a, b, nil, nil)
	_, _, err := store.ReserveNext(a.pub)
	require.NoError(t, err)

	err = store.CommitPair(proposal, agreement)
	require.ErrorIs(t, err, ErrSequenceConflict)

	// Neither half landed.
	_, ok := store.Get(a.pub, core.GenesisSeq)
	require.False(t, ok)
	got, ok := store.Get(b.pub, core.GenesisSeq)
	require.True(t, ok)
	require.Equal(t, occupied.Hash, got.Hash)
}

func TestStoreCommitPairRequiresReservation(t *testing.T) {
	a := newTestKey(t)
	b := newTestKey(t)
	store := NewStore()
	proposal, agreement := makePair(t, a, b, nil, nil)

	// No reservation was ever taken.
	require.ErrorIs(t, store.CommitPair(proposal, agreement), ErrSequenceConflict)
	_, ok := store.Get(a.pub, core.GenesisSeq)
	require.False(t, ok)

	// A released reservation no longer admits the commit, so a late
	// agreement that lost the race against the abandon timer cannot append.
	seq, _, err := store.ReserveNext(a.pub)
	require.NoError(t, err)
	store.Release(a.pub, seq)
	require.ErrorIs(t, store.CommitPair(proposal, agreement), ErrSequenceConflict)
	_, ok = store.Get(b.pub, core.GenesisSeq)
	require.False(t, ok)
}

func TestStoreByIndexSkipsMissing(t *testing.T) {
	key := newTestKey(t)
	store := NewStore()
	blocks := makeChain(t, key, core.EmptyKey, 3)
	for _, b := range blocks {
		require.NoError(t, store.Add(b))
	}

	idx := NewBlockIndex()
	idx.Add(key.pub, 1)
	idx.Add(key.pub, 3)
	idx.Add(key.pub, 9)

	got := store.ByIndex(idx)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].SequenceNumber)
	require.Equal(t, uint64(3), got[1].SequenceNumber)
}
