package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/logging"

	"github.com/wyfcoding/tradesim/internal/gateway/application"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// HTTP 处理器
// 负责处理下单、撤单与账户/订单簿查询的 HTTP 请求
type ExchangeHandler struct {
	gateway *application.Gateway
	engine  *matchdomain.MatchingEngine
}

// 创建 HTTP 处理器实例
func NewExchangeHandler(gateway *application.Gateway, engine *matchdomain.MatchingEngine) *ExchangeHandler {
	return &ExchangeHandler{gateway: gateway, engine: engine}
}

// 注册路由
func (h *ExchangeHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/orders", h.SubmitOrder)
		api.DELETE("/orders/:id", h.CancelOrder)
		api.GET("/book/:symbol", h.GetOrderBook)
		api.GET("/account", h.GetAccount)
	}
}

// SubmitOrderRequest 下单请求，price 缺省表示市价单
type SubmitOrderRequest struct {
	Symbol   string           `json:"symbol" binding:"required"`
	Side     string           `json:"side" binding:"required,oneof=BUY SELL"`
	Quantity decimal.Decimal  `json:"quantity" binding:"required"`
	Price    *decimal.Decimal `json:"price"`
}

// SubmitOrder 提交订单
func (h *ExchangeHandler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.gateway.Submit(c.Request.Context(), application.OrderRequest{
		Symbol:   req.Symbol,
		Side:     matchdomain.OrderSide(req.Side),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		// 校验或风控拒绝：订单对象携带拒绝原因一并返回
		logging.Warn(c.Request.Context(), "Order rejected", "symbol", req.Symbol, "reason", order.Reason)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "order": orderPayload(order)})
		return
	}

	c.JSON(http.StatusOK, orderPayload(order))
}

// CancelOrder 撤销挂单
func (h *ExchangeHandler) CancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	if !h.gateway.Cancel(c.Request.Context(), orderID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found or already terminal", "order_id": orderID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true, "order_id": orderID})
}

// GetOrderBook 查询订单簿深度快照
func (h *ExchangeHandler) GetOrderBook(c *gin.Context) {
	symbol := c.Param("symbol")
	depth := 10
	if v := c.Query("depth"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
			return
		}
		depth = parsed
	}

	snapshot := h.engine.Snapshot(symbol, depth)
	resp := gin.H{"symbol": snapshot.Symbol, "bids": snapshot.Bids, "asks": snapshot.Asks}
	if last, ok := h.engine.LastTradePrice(symbol); ok {
		resp["last_trade_price"] = last
	}
	c.JSON(http.StatusOK, resp)
}

// GetAccount 查询账户快照
func (h *ExchangeHandler) GetAccount(c *gin.Context) {
	snap := h.gateway.Manager().Snapshot()

	positions := make([]gin.H, 0, len(snap.Positions))
	for _, pos := range snap.Positions {
		positions = append(positions, gin.H{
			"symbol":       pos.Symbol,
			"quantity":     pos.Quantity,
			"average_cost": pos.AverageCost,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"cash":      snap.Cash,
		"reserved":  snap.Reserved,
		"available": snap.Available(),
		"positions": positions,
	})
}

// orderPayload 订单对外表示
func orderPayload(order *matchdomain.Order) gin.H {
	if order == nil {
		return nil
	}
	return gin.H{
		"order_id":        order.OrderID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"type":            order.Type,
		"price":           order.Price,
		"quantity":        order.Quantity,
		"filled_quantity": order.FilledQuantity,
		"status":          order.Status,
		"reason":          order.Reason,
		"submitted_at":    order.SubmittedAt,
	}
}
