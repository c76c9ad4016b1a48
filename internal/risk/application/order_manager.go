// Package application 订单风控闸口：所有订单进入撮合前的唯一通道，账户台账的唯一修改者
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	"github.com/wyfcoding/tradesim/internal/risk/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// ExecutionVenue 订单的执行场所
// 回测模式由撮合引擎实现，实盘模式由券商适配器实现
type ExecutionVenue interface {
	Submit(ctx context.Context, order *matchdomain.Order) (*matchdomain.ExecutionResult, error)
	SubmitQuote(ctx context.Context, order *matchdomain.Order) (*matchdomain.ExecutionResult, error)
	Cancel(ctx context.Context, orderID string) (*matchdomain.Order, error)
	// WorstFillPrice 给定数量的市价单此刻可能触及的最差成交价
	// 资金检查与占用按该价格计算名义金额
	WorstFillPrice(symbol string, side matchdomain.OrderSide, quantity decimal.Decimal) (decimal.Decimal, bool)
}

// Config 风控参数
type Config struct {
	StartingCash       decimal.Decimal
	PositionLimit      decimal.Decimal // 单交易对持仓绝对值上限，零表示不限制
	MaxOrdersPerMinute int             // 每分钟下单上限，零表示不限制
}

// openOrder 在途订单的占用记录
type openOrder struct {
	symbol       string
	side         matchdomain.OrderSide
	remaining    decimal.Decimal // 未成交数量
	reservedCash decimal.Decimal // 尚未释放的资金占用（仅买单）
	reservePrice decimal.Decimal // 占用时的单位参考价
}

// OrderManager 风险闸口
// 账户只有一个逻辑写者（本结构），全部变更在同一临界区内完成；
// 并发读取（策略查询持仓）观察到的是一致快照
type OrderManager struct {
	mu sync.Mutex

	account *domain.Account
	venue   ExecutionVenue
	cfg     Config

	open        map[string]*openOrder
	submissions []time.Time // 滑动窗口限频

	clock  clock.Clock
	logger *slog.Logger
}

func NewOrderManager(cfg Config, venue ExecutionVenue, clk clock.Clock, logger *slog.Logger) *OrderManager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &OrderManager{
		account: domain.NewAccount(cfg.StartingCash),
		venue:   venue,
		cfg:     cfg,
		open:    make(map[string]*openOrder),
		clock:   clk,
		logger:  logger.With("module", "order_manager"),
	}
}

// ValidateAndSubmit 校验、占用、转发撮合并入账
// 任何校验失败都在订单进入订单簿之前发生；失败的订单不产生台账变更
func (m *OrderManager) ValidateAndSubmit(ctx context.Context, order *matchdomain.Order) (*matchdomain.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := order.Validate(); err != nil {
		order.MarkRejected("Order quantity and price must be strictly positive")
		return &matchdomain.ExecutionResult{Order: order}, err
	}

	if err := m.checkRateLimit(); err != nil {
		order.MarkRejected("Rate limit exceeded")
		return &matchdomain.ExecutionResult{Order: order}, err
	}

	refPrice, err := m.referencePrice(order)
	if err != nil {
		order.MarkRejected("No reference price for market order")
		return &matchdomain.ExecutionResult{Order: order}, err
	}
	notional := order.Quantity.Mul(refPrice)

	if order.Side == matchdomain.OrderSideBuy && notional.GreaterThan(m.account.Available()) {
		order.MarkRejected("Insufficient capital")
		return &matchdomain.ExecutionResult{Order: order}, fmt.Errorf("%w: need %s, available %s",
			domain.ErrInsufficientCapital, notional, m.account.Available())
	}

	if err := m.checkPositionHeadroom(order); err != nil {
		order.MarkRejected("Position limit exceeded")
		return &matchdomain.ExecutionResult{Order: order}, err
	}

	// 占用：提交即预留，终态释放
	state := &openOrder{
		symbol:       order.Symbol,
		side:         order.Side,
		remaining:    order.Quantity,
		reservedCash: decimal.Zero,
		reservePrice: refPrice,
	}
	if order.Side == matchdomain.OrderSideBuy {
		m.account.Reserve(notional)
		state.reservedCash = notional
	}
	m.open[order.OrderID] = state
	m.submissions = append(m.submissions, m.clock.Now())

	result, err := m.venue.Submit(ctx, order)
	if err != nil {
		m.releaseOrder(order.OrderID)
		return result, err
	}

	m.settleFills(result.Fills)
	if order.IsTerminal() {
		m.releaseOrder(order.OrderID)
	}
	m.assertInvariants()
	return result, nil
}

// SubmitLiquidity 注入合成流动性（做市报价）
// 不做风控、不占用资金、不入台账；但报价触发的本账户挂单成交仍正常入账
func (m *OrderManager) SubmitLiquidity(ctx context.Context, order *matchdomain.Order) (*matchdomain.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.venue.SubmitQuote(ctx, order)
	if err != nil {
		return result, err
	}
	m.settleFills(result.Fills)
	m.assertInvariants()
	return result, nil
}

// Cancel 撤单；成功时释放剩余占用
func (m *OrderManager) Cancel(ctx context.Context, orderID string) (*matchdomain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.venue.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m.releaseOrder(orderID)
	return order, nil
}

// Snapshot 账户一致性快照（拷贝），供策略与接口层并发读取
func (m *OrderManager) Snapshot() domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.Account{
		Cash:      m.account.Cash,
		Reserved:  m.account.Reserved,
		Positions: make(map[string]*domain.Position, len(m.account.Positions)),
	}
	for symbol, pos := range m.account.Positions {
		copied := *pos
		snap.Positions[symbol] = &copied
	}
	return snap
}

// Equity 按给定标价计算账户权益
func (m *OrderManager) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account.Equity(marks)
}

// Position 查询持仓快照
func (m *OrderManager) Position(symbol string) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account.Position(symbol)
}

func (m *OrderManager) checkRateLimit() error {
	if m.cfg.MaxOrdersPerMinute <= 0 {
		return nil
	}
	cutoff := m.clock.Now().Add(-time.Minute)
	kept := m.submissions[:0]
	for _, ts := range m.submissions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.submissions = kept
	if len(m.submissions) >= m.cfg.MaxOrdersPerMinute {
		return domain.ErrRateLimitExceeded
	}
	return nil
}

// referencePrice 资金检查与占用使用的单位价格
// 限价单按限价，市价单按当前可达的最差成交价，占用必须不低于实际成交额
func (m *OrderManager) referencePrice(order *matchdomain.Order) (decimal.Decimal, error) {
	if order.Type == matchdomain.OrderTypeLimit {
		return order.Price, nil
	}
	price, ok := m.venue.WorstFillPrice(order.Symbol, order.Side, order.Quantity)
	if !ok {
		return decimal.Zero, domain.ErrNoReferencePrice
	}
	return price, nil
}

// checkPositionHeadroom 校验当前持仓加全部在途敞口再加本单后仍在限额内
func (m *OrderManager) checkPositionHeadroom(order *matchdomain.Order) error {
	if m.cfg.PositionLimit.IsZero() {
		return nil
	}
	projected := m.account.Position(order.Symbol).Quantity.Add(m.pendingExposure(order.Symbol))
	if order.Side == matchdomain.OrderSideBuy {
		projected = projected.Add(order.Quantity)
	} else {
		projected = projected.Sub(order.Quantity)
	}
	if projected.Abs().GreaterThan(m.cfg.PositionLimit) {
		return fmt.Errorf("%w: projected %s exceeds limit %s for %s",
			domain.ErrPositionLimitExceeded, projected, m.cfg.PositionLimit, order.Symbol)
	}
	return nil
}

// pendingExposure 在途订单的带符号未成交敞口
func (m *OrderManager) pendingExposure(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, st := range m.open {
		if st.symbol != symbol {
			continue
		}
		if st.side == matchdomain.OrderSideBuy {
			total = total.Add(st.remaining)
		} else {
			total = total.Sub(st.remaining)
		}
	}
	return total
}

// settleFills 将成交逐笔入账，每笔成交恰好记账一次
// 对手方为合成流动性或非本账户订单的成交直接跳过
func (m *OrderManager) settleFills(fills []*matchdomain.Fill) {
	for _, fill := range fills {
		st, ok := m.open[fill.OrderID]
		if !ok {
			continue
		}
		isBuy := fill.Side == matchdomain.OrderSideBuy
		if isBuy {
			// 先释放本笔对应的占用，再以实际成交价入账
			release := decimal.Min(st.reservedCash, fill.Quantity.Mul(st.reservePrice))
			m.account.Release(release)
			st.reservedCash = st.reservedCash.Sub(release)
		}
		m.account.Settle(fill.Symbol, isBuy, fill.Quantity, fill.Price)
		st.remaining = st.remaining.Sub(fill.Quantity)
		if !st.remaining.IsPositive() {
			m.releaseOrder(fill.OrderID)
		}
	}
}

// releaseOrder 订单终结时释放剩余占用并移出在途表
func (m *OrderManager) releaseOrder(orderID string) {
	st, ok := m.open[orderID]
	if !ok {
		return
	}
	if st.reservedCash.IsPositive() {
		m.account.Release(st.reservedCash)
	}
	delete(m.open, orderID)
}

// assertInvariants 台账不变量：现金非负由 Account 保证，这里校验持仓限额
// 违反意味着闸口自身缺陷，属于不可恢复故障
func (m *OrderManager) assertInvariants() {
	if m.cfg.PositionLimit.IsZero() {
		return
	}
	for symbol, pos := range m.account.Positions {
		if pos.Quantity.Abs().GreaterThan(m.cfg.PositionLimit) {
			panic(fmt.Sprintf("order manager: position %s breaches limit %s on %s",
				pos.Quantity, m.cfg.PositionLimit, symbol))
		}
	}
}
