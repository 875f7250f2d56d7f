package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/trustmesh/trustmesh/communication"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// HandleWebSocket streams session outcomes to the client as they are
// appended to the outcome log.
func HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	broadcast := func(outcome communication.SessionOutcome) {
		event := struct {
			Type    string                       `json:"type"`
			Payload communication.SessionOutcome `json:"payload"`
		}{
			Type:    communication.EventTypeFor(outcome.State),
			Payload: outcome,
		}
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("Error writing to websocket: %v", err)
		}
	}

	go communication.WatchOutcomeFile(OutcomeLog(), broadcast)

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Printf("WebSocket connection closed: %v", err)
			break
		}
	}
}
