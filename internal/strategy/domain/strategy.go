// Package domain 交易策略：消费行情点并产出买卖信号
package domain

import (
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// Signal 策略信号
type Signal struct {
	Symbol string
	Side   matchdomain.OrderSide
	Reason string
}

// Strategy 策略接口
// OnTick 按行情顺序逐点调用，返回本点触发的信号（可为空）。
// 实现持有自身窗口状态，同一实例不可跨回测复用
type Strategy interface {
	Name() string
	OnTick(point *marketdomain.MarketDataPoint) []Signal
}

// signalDebouncer 信号去抖：同方向信号只发出一次，方向翻转后才允许再次发出
type signalDebouncer struct {
	last map[string]matchdomain.OrderSide
}

func newSignalDebouncer() *signalDebouncer {
	return &signalDebouncer{last: make(map[string]matchdomain.OrderSide)}
}

// shouldEmit 当前方向与上次发出的方向不同才放行
func (d *signalDebouncer) shouldEmit(symbol string, side matchdomain.OrderSide) bool {
	if prev, ok := d.last[symbol]; ok && prev == side {
		return false
	}
	d.last[symbol] = side
	return true
}
