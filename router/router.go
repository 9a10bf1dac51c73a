package router

import (
	"github.com/gin-gonic/gin"

	"github.com/regen_bazaar/controller"
	"github.com/regen_bazaar/handler"
)

func SetupRouter(walletHandler *handler.WalletHandler, tradeHandler *handler.TradeHandler, marketController *controller.MarketController) *gin.Engine {
	r := gin.Default()

	wallet := r.Group("/api/wallet")
	{
		wallet.GET("/providers", walletHandler.ListProviders)
		wallet.POST("/connect", walletHandler.Connect)
		wallet.POST("/disconnect", walletHandler.Disconnect)
		wallet.POST("/attempts/reset", walletHandler.ResetAttempts)
		wallet.GET("/session", walletHandler.GetSession)
		wallet.GET("/events", walletHandler.StreamEvents)
	}

	api := r.Group("/api")
	{
		api.POST("/purchases", tradeHandler.Purchase)
		api.GET("/purchases", tradeHandler.ListPurchases)
		api.POST("/stakes", tradeHandler.Stake)
		api.GET("/stakes", tradeHandler.ListStakes)
		api.POST("/stakes/:id/withdraw", tradeHandler.WithdrawStake)
		api.GET("/vault/balance", tradeHandler.VaultBalance)
		api.GET("/transactions/events", tradeHandler.StreamProgress)

		api.POST("/organizations", marketController.RegisterOrganization)
		api.GET("/organizations/wallet/:address", marketController.GetOrganizationByWallet)
		api.POST("/projects", marketController.CreateProject)
		api.GET("/projects", marketController.ListProjects)
		api.GET("/projects/:id", marketController.GetProject)

		api.GET("/admin/orphan-deposits", marketController.ListOrphanDeposits)
	}

	return r
}
