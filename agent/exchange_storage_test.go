package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trustmesh/trustmesh/chain"
)

func TestExchangeStorageRecordsIndexPerBlock(t *testing.T) {
	storage := NewExchangeStorage()

	idx := chain.NewBlockIndex()
	idx.Add("aaaa", 1)
	idx.Add("aaaa", 2)
	storage.AddExchange("hash1", idx)

	got, ok := storage.Get("hash1")
	require.True(t, ok)
	require.Equal(t, 2, got.Count())
	require.True(t, got.Contains("aaaa", 1))

	_, ok = storage.Get("missing")
	require.False(t, ok)
}

func TestExchangeStorageEntriesSorted(t *testing.T) {
	storage := NewExchangeStorage()

	first := chain.NewBlockIndex()
	first.Add("aaaa", 1)
	second := chain.NewBlockIndex()
	second.Add("bbbb", 3)

	storage.AddExchange("zz", first)
	storage.AddExchange("aa", second)

	entries := storage.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "aa", entries[0].BlockHash)
	require.Equal(t, "zz", entries[1].BlockHash)
}

func TestExchangeStorageUnion(t *testing.T) {
	storage := NewExchangeStorage()

	first := chain.NewBlockIndex()
	first.Add("aaaa", 1)
	first.Add("aaaa", 2)
	second := chain.NewBlockIndex()
	second.Add("aaaa", 2)
	second.Add("bbbb", 1)

	storage.AddExchange("hash1", first)
	storage.AddExchange("hash2", second)

	union := storage.Union()
	require.Equal(t, 3, union.Count())
	require.True(t, union.Contains("aaaa", 1))
	require.True(t, union.Contains("aaaa", 2))
	require.True(t, union.Contains("bbbb", 1))
}
