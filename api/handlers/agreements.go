package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type interactionRequest struct {
	PartnerPublicKey string `json:"partner_public_key" binding:"required"`
	Payload          string `json:"payload"`
}

// StartInteraction proposes an ordinary pairwise block with a partner.
func StartInteraction(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}

	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	partner, err := a.ResolvePeer(req.PartnerPublicKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := a.RequestInteraction(partner, []byte(req.Payload)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "proposal sent", "partner": partner.Address})
}

type protectRequest struct {
	PartnerPublicKey string `json:"partner_public_key" binding:"required"`
}

// StartProtect opens a protect session with a partner.
func StartProtect(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}

	var req protectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	partner, err := a.ResolvePeer(req.PartnerPublicKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := a.RequestProtect(partner); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "protect requested", "partner": partner.Address})
}

// CancelInteraction abandons the open session with a partner, if any.
func CancelInteraction(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	a.Cancel(c.Param("address"))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// GetPeer returns an agent's standing with one partner.
func GetPeer(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	address := c.Param("address")
	c.JSON(http.StatusOK, gin.H{
		"address":   address,
		"completed": a.Peers().Completed(address),
		"rejected":  a.Peers().Rejected(address),
		"ignored":   a.Peers().Ignored(address),
	})
}

// GetHistory returns an agent's recorded interaction outcomes.
func GetHistory(c *gin.Context) {
	a, ok := LocalAgent(c.Param("publicKey"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found on this node"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": a.Peers().History()})
}
