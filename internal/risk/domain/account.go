// Package domain 风险闸口的领域模型：账户、持仓与风控错误
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCapital 可用资金不足（已扣除其他在途订单的占用）
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrPositionLimitExceeded 成交后持仓绝对值将超出单交易对上限
	ErrPositionLimitExceeded = errors.New("position limit exceeded")
	// ErrRateLimitExceeded 每分钟下单数超限
	ErrRateLimitExceeded = errors.New("order rate limit exceeded")
	// ErrNoReferencePrice 市价单缺少风控参考价
	ErrNoReferencePrice = errors.New("no reference price available for market order")
)

// Position 单交易对持仓，带符号数量与加权平均成本
// 仅由已确认成交驱动更新
type Position struct {
	Symbol      string
	Quantity    decimal.Decimal // 正为多头，负为空头
	AverageCost decimal.Decimal
}

// ApplyFill 按成交更新持仓
// 同向加仓时维护加权平均成本；减仓保持原成本；反手以成交价重置成本
func (p *Position) ApplyFill(isBuy bool, quantity, price decimal.Decimal) {
	signed := quantity
	if !isBuy {
		signed = quantity.Neg()
	}
	newQty := p.Quantity.Add(signed)

	switch {
	case newQty.IsZero():
		p.AverageCost = decimal.Zero
	case p.Quantity.IsZero() || p.Quantity.Sign() == signed.Sign():
		// 开仓或同向加仓：加权平均
		oldNotional := p.AverageCost.Mul(p.Quantity.Abs())
		addNotional := price.Mul(quantity)
		p.AverageCost = oldNotional.Add(addNotional).Div(newQty.Abs())
	case p.Quantity.Sign() != newQty.Sign():
		// 反手：剩余仓位的成本是本次成交价
		p.AverageCost = price
	}
	p.Quantity = newQty
}

// MarketValue 按给定价格的市值
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// Account 模拟账户，每次仿真运行一个实例，由 OrderManager 独占修改
type Account struct {
	Cash      decimal.Decimal
	Reserved  decimal.Decimal // 在途买单占用的资金
	Positions map[string]*Position
}

func NewAccount(startingCash decimal.Decimal) *Account {
	return &Account{
		Cash:      startingCash,
		Reserved:  decimal.Zero,
		Positions: make(map[string]*Position),
	}
}

// Available 可用资金 = 现金 − 已占用
func (a *Account) Available() decimal.Decimal {
	return a.Cash.Sub(a.Reserved)
}

// Position 返回持仓（无则返回零持仓，不落库）
func (a *Account) Position(symbol string) Position {
	if p, ok := a.Positions[symbol]; ok {
		return *p
	}
	return Position{Symbol: symbol}
}

func (a *Account) position(symbol string) *Position {
	p, ok := a.Positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		a.Positions[symbol] = p
	}
	return p
}

// Reserve 占用买单资金
func (a *Account) Reserve(amount decimal.Decimal) {
	a.Reserved = a.Reserved.Add(amount)
}

// Release 释放占用；释放量不得超过当前占用，否则说明闸口记账已损坏
func (a *Account) Release(amount decimal.Decimal) {
	a.Reserved = a.Reserved.Sub(amount)
	if a.Reserved.IsNegative() {
		panic(fmt.Sprintf("account: reserved capital went negative (%s)", a.Reserved))
	}
}

// Settle 将一笔成交入账：买入扣减现金，卖出增加现金，同步更新持仓
// 现金为负属于不可恢复的内部故障，直接中止运行
func (a *Account) Settle(symbol string, isBuy bool, quantity, price decimal.Decimal) {
	notional := quantity.Mul(price)
	if isBuy {
		a.Cash = a.Cash.Sub(notional)
	} else {
		a.Cash = a.Cash.Add(notional)
	}
	if a.Cash.IsNegative() {
		panic(fmt.Sprintf("account: cash balance went negative (%s) on %s %s", a.Cash, symbol, price))
	}
	a.position(symbol).ApplyFill(isBuy, quantity, price)
}

// Equity 权益 = 现金 + 持仓按市价估值（无市价时退回平均成本）
func (a *Account) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	total := a.Cash
	for symbol, pos := range a.Positions {
		price, ok := marks[symbol]
		if !ok {
			price = pos.AverageCost
		}
		total = total.Add(pos.MarketValue(price))
	}
	return total
}
