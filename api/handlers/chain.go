package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trustmesh/trustmesh/chain"
	"github.com/trustmesh/trustmesh/registry"
)

func storeFor(a interface {
	OrdinaryStore() *chain.Store
	ProtectedStore() *chain.Store
}, ledger string) *chain.Store {
	if ledger == "protected" {
		return a.ProtectedStore()
	}
	return a.OrdinaryStore()
}

// ListAgents returns every agent registered with the directory.
func ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": registry.GetAllAgents()})
}

// ListNodes returns the node processes known to this one.
func ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": registry.GetAllNodes()})
}

// GetAgent returns one in-process agent with its ledger heads.
func GetAgent(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent":              a.Info(),
		"ordinary_sequence":  a.OrdinaryStore().LastSequence(a.PublicKey),
		"protected_sequence": a.ProtectedStore().LastSequence(a.PublicKey),
		"exchanged_blocks":   a.Exchanges().Union().Count(),
	})
}

// GetExchanges returns the agent's recorded exchange history, one row per
// exchange block.
func GetExchanges(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": a.Exchanges().Entries()})
}

// GetChain returns an agent's own chain in sequence order. The ledger query
// parameter selects the ordinary or protected ledger.
func GetChain(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	store := storeFor(a, c.Query("ledger"))
	c.JSON(http.StatusOK, gin.H{"chain": store.Chain(a.PublicKey)})
}

// GetBlocks returns every block an agent holds, own chain and collected
// partner blocks alike.
func GetBlocks(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	store := storeFor(a, c.Query("ledger"))
	c.JSON(http.StatusOK, gin.H{"blocks": store.AllBlocks()})
}

// GetBlock returns a single block by content hash.
func GetBlock(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	store := storeFor(a, c.Query("ledger"))
	block, ok := store.GetByHash(c.Param("hash"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"block": block})
}

// GetIndex returns the index of an agent's ledger, one row per public key.
func GetIndex(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	store := storeFor(a, c.Query("ledger"))
	c.JSON(http.StatusOK, gin.H{"index": chain.BuildIndex(store.AllBlocks()).Entries()})
}
