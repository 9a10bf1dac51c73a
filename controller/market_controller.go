package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/regen_bazaar/handler"
	"github.com/regen_bazaar/repository"
	"github.com/regen_bazaar/service"
)

type MarketController struct {
	MarketService *service.MarketService
}

// POST /api/organizations
func (c *MarketController) RegisterOrganization(ctx *gin.Context) {
	var req service.RegisterOrganizationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, projects, err := c.MarketService.RegisterOrganization(ctx.Request.Context(), req)
	if err != nil {
		handler.WriteError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"organization": org, "projects": projects})
}

// GET /api/organizations/wallet/:address
func (c *MarketController) GetOrganizationByWallet(ctx *gin.Context) {
	org, err := c.MarketService.FindOrganizationByWallet(ctx.Request.Context(), ctx.Param("address"))
	if err != nil {
		handler.WriteError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, org)
}

// POST /api/projects
func (c *MarketController) CreateProject(ctx *gin.Context) {
	var req service.CreateProjectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := c.MarketService.CreateProject(ctx.Request.Context(), req)
	if err != nil {
		handler.WriteError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, project)
}

// GET /api/projects
func (c *MarketController) ListProjects(ctx *gin.Context) {
	pageStr := ctx.Query("page")
	sizeStr := ctx.Query("size")

	page, _ := strconv.Atoi(pageStr)
	size, _ := strconv.Atoi(sizeStr)

	records, total, err := c.MarketService.ListActiveProjects(ctx.Request.Context(), repository.ProjectFilter{
		Category:       ctx.Query("category"),
		OrganizationID: ctx.Query("organizationId"),
		WalletAddress:  ctx.Query("wallet"),
		Page:           page,
		Size:           size,
	})
	if err != nil {
		handler.WriteError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"total": total, "records": records})
}

// GET /api/projects/:id
func (c *MarketController) GetProject(ctx *gin.Context) {
	project, err := c.MarketService.GetProject(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.WriteError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, project)
}

// GET /api/admin/orphan-deposits
func (c *MarketController) ListOrphanDeposits(ctx *gin.Context) {
	records, err := c.MarketService.ListOrphanDeposits(ctx.Request.Context())
	if err != nil {
		handler.WriteError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"total": len(records), "records": records})
}
