package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// Momentum 动量策略
// 以 lookback 个行情点前的收盘价为基准计算收益率，
// 超过阈值买入、跌破负阈值卖出，同方向去抖
type Momentum struct {
	lookback  int
	threshold decimal.Decimal

	closes    map[string][]decimal.Decimal
	debouncer *signalDebouncer
}

func NewMomentum(lookback int, threshold decimal.Decimal) (*Momentum, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("invalid lookback: %d", lookback)
	}
	if threshold.IsNegative() {
		return nil, fmt.Errorf("threshold must be non-negative: %s", threshold)
	}
	return &Momentum{
		lookback:  lookback,
		threshold: threshold,
		closes:    make(map[string][]decimal.Decimal),
		debouncer: newSignalDebouncer(),
	}, nil
}

func (s *Momentum) Name() string {
	return fmt.Sprintf("momentum_%d", s.lookback)
}

func (s *Momentum) OnTick(point *marketdomain.MarketDataPoint) []Signal {
	window := append(s.closes[point.Symbol], point.Close)
	// 基准点加当前点
	if len(window) > s.lookback+1 {
		window = window[len(window)-s.lookback-1:]
	}
	s.closes[point.Symbol] = window

	if len(window) < s.lookback+1 {
		return nil
	}

	base := window[0]
	if !base.IsPositive() {
		return nil
	}
	ret := point.Close.Sub(base).Div(base)

	var side matchdomain.OrderSide
	switch {
	case ret.GreaterThan(s.threshold):
		side = matchdomain.OrderSideBuy
	case ret.LessThan(s.threshold.Neg()):
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
		Reason: fmt.Sprintf("momentum %s over %d ticks", ret.StringFixed(4), s.lookback),
	}}
}
