// Package application 订单网关：策略提交/撤销订单的统一入口，回测与实盘共用
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/shopspring/decimal"
	gatewaydomain "github.com/wyfcoding/tradesim/internal/gateway/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	riskapp "github.com/wyfcoding/tradesim/internal/risk/application"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// OrderRequest 策略侧的下单请求，Price 为 nil 表示市价单
type OrderRequest struct {
	Symbol   string
	Side     matchdomain.OrderSide
	Quantity decimal.Decimal
	Price    *decimal.Decimal
}

// Gateway 订单网关
// 负责分配单调递增的订单 ID 与时间戳，将请求交给风控闸口，
// 并把每一次状态变化路由到审计下沉。回测与实盘的差异只在注入的执行场所
type Gateway struct {
	om    *riskapp.OrderManager
	sink  gatewaydomain.Sink
	clock clock.Clock

	orderSeq atomic.Uint64
	trades   matchdomain.TradeRepository // 可选，服务模式下成交落库
	logger   *slog.Logger
}

func NewGateway(om *riskapp.OrderManager, sink gatewaydomain.Sink, clk clock.Clock, logger *slog.Logger) *Gateway {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Gateway{
		om:     om,
		sink:   sink,
		clock:  clk,
		logger: logger.With("module", "gateway"),
	}
}

// Submit 提交订单
// 返回带终局（或挂单）状态的订单；校验/风控失败同步返回对应错误，
// 订单对象中带有拒绝原因
func (g *Gateway) Submit(ctx context.Context, req OrderRequest) (*matchdomain.Order, error) {
	typ := matchdomain.OrderTypeMarket
	price := decimal.Zero
	if req.Price != nil {
		typ = matchdomain.OrderTypeLimit
		price = *req.Price
	}

	order := matchdomain.NewOrder(g.nextOrderID(), req.Symbol, req.Side, typ, price, req.Quantity, g.clock.Now())

	result, err := g.om.ValidateAndSubmit(ctx, order)
	g.auditSubmission(ctx, order)
	if result != nil {
		g.auditFills(ctx, result.Fills)
		g.persistTrades(ctx, result.Trades)
	}
	if err != nil {
		g.logger.Warn("order not accepted", "order_id", order.OrderID, "symbol", order.Symbol, "reason", order.Reason)
		return order, err
	}
	return order, nil
}

// Cancel 撤销挂单；订单不存在或已终态时返回 false
func (g *Gateway) Cancel(ctx context.Context, orderID string) bool {
	order, err := g.om.Cancel(ctx, orderID)
	if err != nil {
		g.logger.Debug("cancel refused", "order_id", orderID, "error", err)
		return false
	}
	g.record(ctx, gatewaydomain.AuditEvent{
		Kind:      gatewaydomain.EventCancellation,
		Timestamp: g.clock.Now(),
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.RemainingQuantity(),
		Price:     order.Price,
		Status:    order.Status,
		Reason:    order.Reason,
	})
	return true
}

// ProvideLiquidity 注入一笔合成流动性报价，返回其订单 ID
// 报价本身不产生审计事件，但它触发的策略订单成交照常审计
func (g *Gateway) ProvideLiquidity(ctx context.Context, req OrderRequest) (string, error) {
	if req.Price == nil {
		return "", fmt.Errorf("liquidity quote must carry a limit price: %w", matchdomain.ErrInvalidOrder)
	}
	order := matchdomain.NewOrder(
		fmt.Sprintf("MM-%d", g.orderSeq.Add(1)),
		req.Symbol, req.Side, matchdomain.OrderTypeLimit, *req.Price, req.Quantity, g.clock.Now())

	result, err := g.om.SubmitLiquidity(ctx, order)
	if result != nil {
		g.auditFills(ctx, result.Fills)
		g.persistTrades(ctx, result.Trades)
	}
	if err != nil {
		return "", err
	}
	return order.OrderID, nil
}

// WithdrawLiquidity 撤销合成报价（报价刷新路径，不审计）
func (g *Gateway) WithdrawLiquidity(ctx context.Context, orderID string) {
	if _, err := g.om.Cancel(ctx, orderID); err != nil {
		g.logger.Debug("liquidity withdraw refused", "order_id", orderID, "error", err)
	}
}

// Manager 暴露底层风控闸口（权益/持仓查询）
func (g *Gateway) Manager() *riskapp.OrderManager { return g.om }

// SetTradeRepository 配置成交落库仓储；回测默认不落库
func (g *Gateway) SetTradeRepository(repo matchdomain.TradeRepository) { g.trades = repo }

func (g *Gateway) persistTrades(ctx context.Context, trades []*matchdomain.Trade) {
	if g.trades == nil {
		return
	}
	for _, trade := range trades {
		if err := g.trades.Save(ctx, trade); err != nil {
			g.logger.Error("failed to persist trade", "trade_id", trade.TradeID, "error", err)
		}
	}
}

func (g *Gateway) nextOrderID() string {
	return fmt.Sprintf("O-%d", g.orderSeq.Add(1))
}

func (g *Gateway) auditSubmission(ctx context.Context, order *matchdomain.Order) {
	g.record(ctx, gatewaydomain.AuditEvent{
		Kind:      gatewaydomain.EventSubmission,
		Timestamp: g.clock.Now(),
		OrderID:   order.OrderID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     order.Price,
		Status:    order.Status,
		Reason:    order.Reason,
	})
}

// auditFills 每笔属于策略订单的成交回报一条事件；合成对手方不审计
func (g *Gateway) auditFills(ctx context.Context, fills []*matchdomain.Fill) {
	for _, fill := range fills {
		if isSyntheticOrderID(fill.OrderID) {
			continue
		}
		g.record(ctx, gatewaydomain.AuditEvent{
			Kind:      gatewaydomain.EventFill,
			Timestamp: fill.Timestamp,
			OrderID:   fill.OrderID,
			Symbol:    fill.Symbol,
			Side:      fill.Side,
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			Status:    fill.OrderStatus,
			Reason:    "",
		})
	}
}

func (g *Gateway) record(ctx context.Context, event gatewaydomain.AuditEvent) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Record(ctx, event); err != nil {
		g.logger.Error("audit sink failed", "order_id", event.OrderID, "error", err)
	}
}

func isSyntheticOrderID(id string) bool {
	return len(id) >= 3 && id[:3] == "MM-"
}
