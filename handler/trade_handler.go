package handler

import (
	"context"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/regen_bazaar/model"
	"github.com/regen_bazaar/service"
)

// Executor runs a deposit backed action.
type Executor interface {
	Execute(ctx context.Context, req service.ExecuteRequest) (*service.ExecuteResult, error)
}

// VaultReader reads balances held by the deposit vault.
type VaultReader interface {
	Balance(ctx context.Context, user common.Address) (*big.Int, error)
	ContractBalance(ctx context.Context) (*big.Int, error)
}

type TradeHandler struct {
	exec        Executor
	market      *service.MarketService
	sessions    *service.SessionManager
	progress    *service.ProgressFeed
	vault       VaultReader
	stakeAmount string
}

func NewTradeHandler(exec Executor, market *service.MarketService, sessions *service.SessionManager,
	progress *service.ProgressFeed, vault VaultReader, stakeAmount string) *TradeHandler {
	return &TradeHandler{
		exec:        exec,
		market:      market,
		sessions:    sessions,
		progress:    progress,
		vault:       vault,
		stakeAmount: stakeAmount,
	}
}

type purchaseRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
}

type stakeRequest struct {
	PurchaseID     string `json:"purchaseId" binding:"required"`
	LockPeriodDays int    `json:"lockPeriodDays"`
}

type withdrawRequest struct {
	TransactionHash string `json:"transactionHash"`
}

// buyer returns the ?buyer= query or the connected address.
func (h *TradeHandler) buyer(c *gin.Context) (string, bool) {
	if b := c.Query("buyer"); b != "" {
		return b, true
	}
	return h.sessions.ActiveAddress()
}

// POST /api/purchases
func (h *TradeHandler) Purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	price, err := h.market.PurchasePrice(c.Request.Context(), req.ProjectID)
	if err != nil {
		WriteError(c, err)
		return
	}
	res, err := h.exec.Execute(c.Request.Context(), service.ExecuteRequest{
		Kind:            model.TxPurchase,
		Amount:          price,
		RelatedEntityID: req.ProjectID,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /api/purchases?buyer=
func (h *TradeHandler) ListPurchases(c *gin.Context) {
	buyer, ok := h.buyer(c)
	if !ok {
		WriteError(c, service.ErrNoWalletConnected)
		return
	}
	list, err := h.market.ListPurchasesWithStakeStatus(c.Request.Context(), buyer)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": list})
}

// POST /api/stakes
func (h *TradeHandler) Stake(c *gin.Context) {
	var req stakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	buyer, ok := h.sessions.ActiveAddress()
	if !ok {
		WriteError(c, service.ErrNoWalletConnected)
		return
	}
	if err := h.market.CheckStakeable(c.Request.Context(), req.PurchaseID, buyer); err != nil {
		WriteError(c, err)
		return
	}
	res, err := h.exec.Execute(c.Request.Context(), service.ExecuteRequest{
		Kind:            model.TxStake,
		Amount:          h.stakeAmount,
		RelatedEntityID: req.PurchaseID,
		LockPeriodDays:  req.LockPeriodDays,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /api/stakes?buyer=
func (h *TradeHandler) ListStakes(c *gin.Context) {
	buyer, ok := h.buyer(c)
	if !ok {
		WriteError(c, service.ErrNoWalletConnected)
		return
	}
	list, err := h.market.ListStakedProjects(c.Request.Context(), buyer)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": list})
}

// POST /api/stakes/:id/withdraw
func (h *TradeHandler) WithdrawStake(c *gin.Context) {
	var req withdrawRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := h.market.WithdrawStake(c.Request.Context(), c.Param("id"), req.TransactionHash); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": model.StatusWithdrawn})
}

// GET /api/vault/balance?address=
func (h *TradeHandler) VaultBalance(c *gin.Context) {
	total, err := h.vault.ContractBalance(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	resp := gin.H{"contractBalanceWei": total.String()}
	if addr := c.Query("address"); addr != "" {
		if !common.IsHexAddress(addr) {
			WriteError(c, service.ErrInvalidAddress)
			return
		}
		bal, err := h.vault.Balance(c.Request.Context(), common.HexToAddress(addr))
		if err != nil {
			WriteError(c, err)
			return
		}
		resp["balanceWei"] = bal.String()
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/transactions/events streams progress of buy and stake actions.
func (h *TradeHandler) StreamProgress(c *gin.Context) {
	ch := make(chan service.ProgressEvent, 32)
	sub := h.progress.Subscribe(ch)
	defer sub.Unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-ch:
			c.SSEvent("progress", ev)
			return true
		case <-sub.Err():
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}
