package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/regen_bazaar/service"
)

type WalletHandler struct {
	sessions *service.SessionManager
}

func NewWalletHandler(sessions *service.SessionManager) *WalletHandler {
	return &WalletHandler{sessions: sessions}
}

type connectRequest struct {
	ProviderID    string `json:"providerId" binding:"required"`
	ManualAddress string `json:"manualAddress"`
}

// GET /api/wallet/providers
func (h *WalletHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.sessions.ListAvailableProviders()})
}

// POST /api/wallet/connect
func (h *WalletHandler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	addr, err := h.sessions.Connect(c.Request.Context(), req.ProviderID, req.ManualAddress)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "session": h.sessions.Session()})
}

// POST /api/wallet/disconnect
func (h *WalletHandler) Disconnect(c *gin.Context) {
	h.sessions.Disconnect()
	c.JSON(http.StatusOK, gin.H{"session": h.sessions.Session()})
}

// POST /api/wallet/attempts/reset
func (h *WalletHandler) ResetAttempts(c *gin.Context) {
	h.sessions.ResetAttempts()
	c.Status(http.StatusNoContent)
}

// GET /api/wallet/session
func (h *WalletHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Session())
}

// GET /api/wallet/events streams account changes as server-sent events.
func (h *WalletHandler) StreamEvents(c *gin.Context) {
	ch := make(chan service.AccountChange, 16)
	sub := h.sessions.SubscribeSessionEvents(ch)
	defer sub.Unsubscribe()

	c.SSEvent("session", h.sessions.Session())
	c.Stream(func(w io.Writer) bool {
		select {
		case change := <-ch:
			c.SSEvent("accountChanged", change)
			return true
		case <-sub.Err():
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}
