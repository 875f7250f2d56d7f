package api

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/trustmesh/trustmesh/api/handlers"
)

// NewRouter builds the HTTP surface for a node: directory and ledger
// queries, session control, and the websocket outcome stream.
func NewRouter() *gin.Engine {
	router := gin.Default()

	api := router.Group("/api")
	{
		api.GET("/agents", handlers.ListAgents)
		api.GET("/nodes", handlers.ListNodes)
		api.GET("/agents/:publicKey", handlers.GetAgent)
		api.GET("/agents/:publicKey/exchanges", handlers.GetExchanges)
		api.GET("/agents/:publicKey/peers/:address", handlers.GetPeer)
		api.GET("/agents/:publicKey/chain", handlers.GetChain)
		api.GET("/agents/:publicKey/blocks", handlers.GetBlocks)
		api.GET("/agents/:publicKey/blocks/:hash", handlers.GetBlock)
		api.GET("/agents/:publicKey/index", handlers.GetIndex)
		api.GET("/agents/:publicKey/history", handlers.GetHistory)
		api.POST("/agents/:publicKey/interactions", handlers.StartInteraction)
		api.POST("/agents/:publicKey/protect", handlers.StartProtect)
		api.DELETE("/agents/:publicKey/sessions/:address", handlers.CancelInteraction)
	}

	router.GET("/ws", handlers.HandleWebSocket)

	return router
}

// Start runs the API server on the given port, blocking until it exits.
func Start(port int) {
	router := NewRouter()
	addr := fmt.Sprintf(":%d", port)
	log.Printf("API server listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("API server failed: %v", err)
	}
}
