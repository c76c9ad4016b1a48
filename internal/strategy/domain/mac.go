package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// MovingAverageCrossover 双均线交叉策略
// 短均线上穿长均线发出买入信号，下穿发出卖出信号，同方向去抖
type MovingAverageCrossover struct {
	shortWindow int
	longWindow  int

	closes    map[string][]decimal.Decimal
	debouncer *signalDebouncer
}

func NewMovingAverageCrossover(shortWindow, longWindow int) (*MovingAverageCrossover, error) {
	if shortWindow <= 0 || longWindow <= shortWindow {
		return nil, fmt.Errorf("invalid windows: short=%d long=%d", shortWindow, longWindow)
	}
	return &MovingAverageCrossover{
		shortWindow: shortWindow,
		longWindow:  longWindow,
		closes:      make(map[string][]decimal.Decimal),
		debouncer:   newSignalDebouncer(),
	}, nil
}

func (s *MovingAverageCrossover) Name() string {
	return fmt.Sprintf("mac_%d_%d", s.shortWindow, s.longWindow)
}

func (s *MovingAverageCrossover) OnTick(point *marketdomain.MarketDataPoint) []Signal {
	window := append(s.closes[point.Symbol], point.Close)
	if len(window) > s.longWindow {
		window = window[len(window)-s.longWindow:]
	}
	s.closes[point.Symbol] = window

	if len(window) < s.longWindow {
		return nil
	}

	shortMA := mean(window[len(window)-s.shortWindow:])
	longMA := mean(window)

	var side matchdomain.OrderSide
	switch {
	case shortMA.GreaterThan(longMA):
		side = matchdomain.OrderSideBuy
	case shortMA.LessThan(longMA):
		side = matchdomain.OrderSideSell
	default:
		return nil
	}

	if !s.debouncer.shouldEmit(point.Symbol, side) {
		return nil
	}
	return []Signal{{
		Symbol: point.Symbol,
		Side:   side,
		Reason: fmt.Sprintf("ma%d/ma%d crossover", s.shortWindow, s.longWindow),
	}}
}

func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
