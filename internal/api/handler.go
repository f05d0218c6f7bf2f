package api

import (
	"net/http"

	"salespoints-platform/pkg/db/pagination"
	"salespoints-platform/pkg/errutil"
	"salespoints-platform/pkg/health"
	"salespoints-platform/pkg/middleware"
	"salespoints-platform/services/cart"
	"salespoints-platform/services/contract"
	"salespoints-platform/services/ledger"
	"salespoints-platform/services/order"
	"salespoints-platform/services/referral"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.api",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// Handler is the thin HTTP layer over the engines. Handlers bind requests,
// thread the acting agent through, and push errors to the error middleware.
type Handler struct {
	balance   *ledger.Store
	cart      *cart.Service
	contracts *contract.Engine
	orders    *order.Service
	graph     *referral.Graph
	health    health.HealthService
}

type HandlerParams struct {
	fx.In
	Balance   *ledger.Store
	Cart      *cart.Service
	Contracts *contract.Engine
	Orders    *order.Service
	Graph     *referral.Graph
	Health    health.HealthService
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		balance:   p.Balance,
		cart:      p.Cart,
		contracts: p.Contracts,
		orders:    p.Orders,
		graph:     p.Graph,
		health:    p.Health,
	}
}

func RegisterRoutes(engine *gin.Engine, h *Handler) {
	engine.GET("/healthz", h.health.Liveness)
	engine.GET("/readyz", h.health.Readiness)

	v1 := engine.Group("/v1")
	{
		v1.POST("/agents", h.createAgent)
		v1.GET("/agents/:id/balance", h.getBalance)
		v1.GET("/agents/:id/movements", h.listMovements)
		v1.POST("/agents/:id/cart", h.reserve)
		v1.POST("/agents/:id/checkout", h.checkout)

		v1.PATCH("/cart/:id", h.updateQuantity)
		v1.DELETE("/cart/:id", h.release)

		v1.POST("/articles", h.createArticle)

		v1.POST("/contracts", h.createContract)
		v1.GET("/contracts/:id", h.getContract)
		v1.PUT("/contracts/:id/status", h.changeStatus)

		v1.POST("/leads", h.createLead)
		v1.POST("/leads/:id/convert", h.convertLead)

		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/force-complete", h.forceComplete)
		v1.POST("/order-items/:id/process", h.startProcessing)
		v1.POST("/order-items/:id/fulfill", h.fulfillItem)
		v1.POST("/order-items/:id/refund", h.refundItem)
	}
}

type createAgentRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *Handler) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	agent := &ledger.Agent{Name: req.Name, Email: req.Email, Role: req.Role}
	if err := h.balance.CreateAgent(c.Request.Context(), agent); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, agent)
}

type balanceResponse struct {
	AgentID        string `json:"agent_id"`
	EarnedValue    int64  `json:"earned_value"`
	CareerPoints   int64  `json:"career_points"`
	BonusPoints    int64  `json:"bonus_points"`
	PointsSpent    int64  `json:"points_spent"`
	TotalSpendable int64  `json:"total_spendable"`
	Reserved       int64  `json:"reserved"`
	Available      int64  `json:"available"`
}

func (h *Handler) getBalance(c *gin.Context) {
	ctx := c.Request.Context()

	agent, err := h.balance.Get(ctx, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if agent == nil {
		c.Error(errutil.NotFound("agent not found"))
		return
	}

	reserved, err := h.cart.ReservedPoints(ctx, nil, agent.ID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		AgentID:        agent.ID,
		EarnedValue:    agent.EarnedValue,
		CareerPoints:   agent.CareerPoints,
		BonusPoints:    agent.BonusPoints,
		PointsSpent:    agent.PointsSpent,
		TotalSpendable: agent.TotalSpendable(),
		Reserved:       reserved,
		Available:      agent.TotalSpendable() - reserved,
	})
}

func (h *Handler) listMovements(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.ValidationFailed("invalid pagination", errutil.WithErr(err)))
		return
	}

	movements, pageInfo, err := h.balance.Movements(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": movements, "page_info": pageInfo})
}

type reserveRequest struct {
	ArticleID string `json:"article_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required"`
}

func (h *Handler) reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	item, err := h.cart.Reserve(c.Request.Context(), c.Param("id"), req.ArticleID, req.Quantity, middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

type updateQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *Handler) updateQuantity(c *gin.Context) {
	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	item, err := h.cart.UpdateQuantity(c.Request.Context(), c.Param("id"), req.Quantity, middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	if item == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) release(c *gin.Context) {
	if err := h.cart.Release(c.Request.Context(), c.Param("id"), middleware.ActorID(c)); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createArticleRequest struct {
	Name      string `json:"name" binding:"required"`
	UnitPrice int64  `json:"unit_price" binding:"required"`
}

func (h *Handler) createArticle(c *gin.Context) {
	var req createArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	article, err := h.cart.CreateArticle(c.Request.Context(), req.Name, req.UnitPrice, middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, article)
}

type createContractRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
	StatusID  string `json:"status_id" binding:"required"`
}

func (h *Handler) createContract(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	actor := middleware.ActorID(c)
	created, err := h.contracts.Create(c.Request.Context(), req.AgentID, req.ProductID, req.StatusID, actor, actor)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getContract(c *gin.Context) {
	contractRow, err := h.contracts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, contractRow)
}

type changeStatusRequest struct {
	StatusID string `json:"status_id" binding:"required"`
}

func (h *Handler) changeStatus(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	updated, err := h.contracts.ChangeStatus(ctx, c.Param("id"), req.StatusID, middleware.ActorID(c))
	if err != nil {
		zap.L().Error("status change failed",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("contract_id", c.Param("id")),
			zap.Error(err),
		)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

type createLeadRequest struct {
	Name             string  `json:"name" binding:"required"`
	Email            string  `json:"email"`
	InvitedByAgentID *string `json:"invited_by_agent_id"`
}

func (h *Handler) createLead(c *gin.Context) {
	var req createLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	lead := &referral.Lead{Name: req.Name, Email: req.Email, InvitedByAgentID: req.InvitedByAgentID}
	if err := h.graph.CreateLead(c.Request.Context(), lead); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, lead)
}

type convertLeadRequest struct {
	CustomerAgentID string `json:"customer_agent_id" binding:"required"`
}

func (h *Handler) convertLead(c *gin.Context) {
	var req convertLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
		return
	}

	conversion, err := h.graph.Convert(c.Request.Context(), c.Param("id"), req.CustomerAgentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, conversion)
}

type checkoutRequest struct {
	CustomerMessage string `json:"customer_message"`
}

func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
			return
		}
	}

	created, err := h.orders.Checkout(c.Request.Context(), c.Param("id"), req.CustomerMessage, middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getOrder(c *gin.Context) {
	ord, items, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": ord, "items": items})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	ord, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ord)
}

func (h *Handler) forceComplete(c *gin.Context) {
	ord, err := h.orders.ForceComplete(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ord)
}

type fulfillRequest struct {
	RedemptionCode string `json:"redemption_code"`
}

func (h *Handler) startProcessing(c *gin.Context) {
	item, err := h.orders.StartProcessing(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) fulfillItem(c *gin.Context) {
	var req fulfillRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.ValidationFailed("invalid request body", errutil.WithErr(err)))
			return
		}
	}

	item, err := h.orders.FulfillItem(c.Request.Context(), c.Param("id"), req.RedemptionCode, middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) refundItem(c *gin.Context) {
	item, err := h.orders.RefundItem(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, item)
}
