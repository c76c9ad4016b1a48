package domain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// FailureReason 模拟执行失败的固定原因串，审计日志依赖其逐字节稳定
const FailureReason = "Simulated execution failure"

// NoLiquidityReason 市价单无对手流动性时剩余部分被取消的原因
const NoLiquidityReason = "No liquidity available"

// MatchingEngine 价格-时间优先撮合引擎
// 每个交易对一本订单簿；所有写操作在同一互斥区内完成，
// 读写均观察到一致的簿状态。失败注入由显式播种的随机源驱动，
// 同一种子下两次运行产生完全相同的结果
type MatchingEngine struct {
	mu sync.Mutex

	books     map[string]*OrderBook
	lastTrade map[string]decimal.Decimal

	failureProbability float64
	rng                *rand.Rand

	clock    clock.Clock
	tradeSeq uint64
	logger   *slog.Logger
}

// NewMatchingEngine 构造撮合引擎
// failureProbability 为 [0,1] 的模拟失败概率，seed 固定随机序列
func NewMatchingEngine(failureProbability float64, seed int64, clk clock.Clock, logger *slog.Logger) *MatchingEngine {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MatchingEngine{
		books:              make(map[string]*OrderBook),
		lastTrade:          make(map[string]decimal.Decimal),
		failureProbability: failureProbability,
		rng:                rand.New(rand.NewSource(seed)),
		clock:              clk,
		logger:             logger.With("module", "matching_engine"),
	}
}

func (e *MatchingEngine) book(symbol string) *OrderBook {
	ob, ok := e.books[symbol]
	if !ok {
		ob = NewOrderBook(symbol)
		e.books[symbol] = ob
	}
	return ob
}

// Submit 提交订单进行撮合
// 返回的 ExecutionResult 描述订单的终局（或挂单）状态与全部成交回报；
// 校验失败的订单被拒绝，从未进入订单簿
func (e *MatchingEngine) Submit(ctx context.Context, order *Order) (*ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := order.Validate(); err != nil {
		order.MarkRejected(err.Error())
		return &ExecutionResult{Order: order}, err
	}
	if err := order.Transition(OrderStatusAccepted); err != nil {
		return nil, err
	}

	// 模拟执行失败：仅对本可成交的订单注入，发生时不产生任何成交
	if e.failureProbability > 0 && e.isMatchable(order) && e.rng.Float64() < e.failureProbability {
		order.MarkFailed(FailureReason)
		e.logger.Debug("order failed by injection", "order_id", order.OrderID, "symbol", order.Symbol)
		return &ExecutionResult{Order: order}, nil
	}

	return e.apply(order), nil
}

// SubmitQuote 提交做市/合成流动性订单
// 与 Submit 相同的撮合路径，但不参与失败注入（流动性本身不应“失败”）
func (e *MatchingEngine) SubmitQuote(ctx context.Context, order *Order) (*ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := order.Validate(); err != nil {
		order.MarkRejected(err.Error())
		return &ExecutionResult{Order: order}, err
	}
	if err := order.Transition(OrderStatusAccepted); err != nil {
		return nil, err
	}
	return e.apply(order), nil
}

// apply 核心撮合流程，调用方必须持有 e.mu
func (e *MatchingEngine) apply(order *Order) *ExecutionResult {
	ob := e.book(order.Symbol)
	result := &ExecutionResult{Order: order}
	opposite := order.Side.Opposite()

	for order.RemainingQuantity().IsPositive() {
		level, ok := ob.Best(opposite)
		if !ok || !e.crosses(order, level.Price) {
			break
		}

		// 时间优先：取档位队首最早的挂单
		el := level.Orders.Front()
		resting := el.Value.(*Order)

		qty := decimal.Min(order.RemainingQuantity(), resting.RemainingQuantity())
		price := level.Price // 价格始终由先到的挂单方决定
		now := e.clock.Now()

		order.ApplyFill(qty)
		resting.ApplyFill(qty)
		e.lastTrade[order.Symbol] = price

		result.Fills = append(result.Fills,
			&Fill{OrderID: order.OrderID, CounterOrderID: resting.OrderID, Symbol: order.Symbol, Side: order.Side, Quantity: qty, Price: price, Timestamp: now, OrderStatus: order.Status},
			&Fill{OrderID: resting.OrderID, CounterOrderID: order.OrderID, Symbol: order.Symbol, Side: resting.Side, Quantity: qty, Price: price, Timestamp: now, OrderStatus: resting.Status},
		)
		result.Trades = append(result.Trades, e.newTrade(order, resting, price, qty))

		if !resting.RemainingQuantity().IsPositive() {
			ob.dequeue(opposite, level, el, levelKey(opposite, level.Price))
		}
	}

	if order.RemainingQuantity().IsPositive() {
		switch order.Type {
		case OrderTypeLimit:
			// 剩余部分挂簿；首次成交前为 RESTING，已有成交则保持 PARTIALLY_FILLED
			if order.FilledQuantity.IsZero() {
				order.Status = OrderStatusResting
			}
			if err := ob.Insert(order); err != nil {
				// 校验已在入口完成，此处失败说明引擎内部状态损坏
				panic(fmt.Sprintf("matching engine: rest remainder of %s: %v", order.OrderID, err))
			}
		case OrderTypeMarket:
			// 市价单吃完流动性后剩余部分直接取消，不挂簿
			order.Status = OrderStatusCancelled
			order.Reason = NoLiquidityReason
		}
	}

	if ob.IsCrossed() {
		panic(fmt.Sprintf("matching engine: book %s crossed after matching", order.Symbol))
	}
	return result
}

// crosses 判断订单能否与对手价成交
func (e *MatchingEngine) crosses(order *Order, oppositePrice decimal.Decimal) bool {
	if order.Type == OrderTypeMarket {
		return true
	}
	if order.Side == OrderSideBuy {
		return order.Price.GreaterThanOrEqual(oppositePrice)
	}
	return order.Price.LessThanOrEqual(oppositePrice)
}

// isMatchable 判断订单此刻是否存在可执行的对手流动性
func (e *MatchingEngine) isMatchable(order *Order) bool {
	level, ok := e.book(order.Symbol).Best(order.Side.Opposite())
	if !ok {
		return false
	}
	return e.crosses(order, level.Price)
}

func (e *MatchingEngine) newTrade(incoming, resting *Order, price, qty decimal.Decimal) *Trade {
	e.tradeSeq++
	trade := &Trade{
		TradeID:    fmt.Sprintf("T-%d", e.tradeSeq),
		Symbol:     incoming.Symbol,
		Price:      price,
		Quantity:   qty,
		ExecutedAt: e.clock.Now(),
	}
	if incoming.Side == OrderSideBuy {
		trade.BuyOrderID = incoming.OrderID
		trade.SellOrderID = resting.OrderID
	} else {
		trade.BuyOrderID = resting.OrderID
		trade.SellOrderID = incoming.OrderID
	}
	return trade
}

// Cancel 撤销一笔挂单；订单不存在或已终态时返回 ErrOrderNotFound
func (e *MatchingEngine) Cancel(ctx context.Context, orderID string) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ob := range e.books {
		if _, ok := ob.Lookup(orderID); !ok {
			continue
		}
		order, err := ob.Remove(orderID)
		if err != nil {
			return nil, err
		}
		if err := order.Transition(OrderStatusCancelled); err != nil {
			return nil, err
		}
		order.Reason = "Cancelled by request"
		return order, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}

// WorstFillPrice 给定数量的市价单此刻可能触及的最差成交价
// 逐档遍历对手方直到数量被覆盖；流动性不足时返回最深一档的价格，
// 剩余部分会被取消而不会产生更差的成交。对手方为空时 ok 为 false
func (e *MatchingEngine) WorstFillPrice(symbol string, side OrderSide, quantity decimal.Decimal) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it := e.book(symbol).sideList(side.Opposite()).Iterator()
	worst := decimal.Zero
	remaining := quantity
	found := false
	for remaining.IsPositive() {
		_, level, ok := it.Next()
		if !ok {
			break
		}
		worst = level.Price
		found = true
		remaining = remaining.Sub(level.TotalQuantity())
	}
	return worst, found
}

// LastTradePrice 最近成交价
func (e *MatchingEngine) LastTradePrice(symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.lastTrade[symbol]
	return price, ok
}

// Snapshot 订单簿深度快照
func (e *MatchingEngine) Snapshot(symbol string, depth int) *BookSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book(symbol).Snapshot(depth)
}
