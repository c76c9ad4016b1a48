// Package domain 回测引擎：按行情顺序重放，驱动策略、撮合与台账
package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	gatewayapp "github.com/wyfcoding/tradesim/internal/gateway/application"
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	strategydomain "github.com/wyfcoding/tradesim/internal/strategy/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// Config 回测参数
type Config struct {
	OrderQuantity decimal.Decimal // 每个信号的下单数量
	QuoteDepth    decimal.Decimal // 每侧合成报价的挂单量
	SpreadBps     int64           // 合成买卖价差（基点），按收盘价对称分布
}

// EquityPoint 权益曲线上的一个点
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// Result 回测结果汇总
type Result struct {
	StartingCash decimal.Decimal
	FinalEquity  decimal.Decimal
	EquityCurve  []EquityPoint

	Ticks     int
	Submitted int
	Filled    int
	Rejected  int
	Failed    int
}

// symbolQuotes 当前在簿的合成报价，按行情点刷新
type symbolQuotes struct {
	bidID string
	askID string
}

// Engine 回测引擎
// 单协程顺序重放：每个行情点先推进模拟时钟，再刷新该交易对的合成
// 双边报价，然后把策略信号以市价单送入网关，最后记录权益快照。
// 固定种子下整个过程（含审计流）逐字节可重现
type Engine struct {
	feed       marketdomain.Feed
	strategies []strategydomain.Strategy
	gateway    *gatewayapp.Gateway
	clk        *clock.Simulated
	cfg        Config

	quotes    map[string]*symbolQuotes
	lastClose map[string]decimal.Decimal
	logger    *slog.Logger
}

func NewEngine(
	feed marketdomain.Feed,
	strategies []strategydomain.Strategy,
	gateway *gatewayapp.Gateway,
	clk *clock.Simulated,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.OrderQuantity.IsZero() {
		cfg.OrderQuantity = decimal.NewFromInt(10)
	}
	if cfg.QuoteDepth.IsZero() {
		cfg.QuoteDepth = decimal.NewFromInt(1000)
	}
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 10
	}
	return &Engine{
		feed:       feed,
		strategies: strategies,
		gateway:    gateway,
		clk:        clk,
		cfg:        cfg,
		quotes:     make(map[string]*symbolQuotes),
		lastClose:  make(map[string]decimal.Decimal),
		logger:     logger.With("module", "backtest_engine"),
	}
}

// Run 重放整个行情流直至耗尽
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	startingCash := e.gateway.Manager().Snapshot().Cash
	result := &Result{StartingCash: startingCash}

	for {
		point, err := e.feed.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read market data: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.clk.Advance(point.Timestamp)
		e.lastClose[point.Symbol] = point.Close

		if err := e.refreshQuotes(ctx, point); err != nil {
			return nil, err
		}
		e.dispatchSignals(ctx, point, result)

		result.Ticks++
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: point.Timestamp,
			Equity:    e.gateway.Manager().Equity(e.marks()),
		})
	}

	result.FinalEquity = e.gateway.Manager().Equity(e.marks())
	e.logger.Info("backtest finished",
		"ticks", result.Ticks,
		"submitted", result.Submitted,
		"filled", result.Filled,
		"rejected", result.Rejected,
		"final_equity", result.FinalEquity)
	return result, nil
}

// refreshQuotes 撤掉上一轮报价并按当前收盘价重新双边挂出
// 报价走合成流动性通道，不经过风控、不计入台账与审计
func (e *Engine) refreshQuotes(ctx context.Context, point *marketdomain.MarketDataPoint) error {
	q, ok := e.quotes[point.Symbol]
	if !ok {
		q = &symbolQuotes{}
		e.quotes[point.Symbol] = q
	}
	if q.bidID != "" {
		e.gateway.WithdrawLiquidity(ctx, q.bidID)
	}
	if q.askID != "" {
		e.gateway.WithdrawLiquidity(ctx, q.askID)
	}

	half := point.Close.Mul(decimal.NewFromInt(e.cfg.SpreadBps)).
		Div(decimal.NewFromInt(20000))
	bid := point.Close.Sub(half)
	ask := point.Close.Add(half)

	bidID, err := e.gateway.ProvideLiquidity(ctx, gatewayapp.OrderRequest{
		Symbol: point.Symbol, Side: matchdomain.OrderSideBuy,
		Quantity: e.cfg.QuoteDepth, Price: &bid,
	})
	if err != nil {
		return fmt.Errorf("post bid quote: %w", err)
	}
	askID, err := e.gateway.ProvideLiquidity(ctx, gatewayapp.OrderRequest{
		Symbol: point.Symbol, Side: matchdomain.OrderSideSell,
		Quantity: e.cfg.QuoteDepth, Price: &ask,
	})
	if err != nil {
		return fmt.Errorf("post ask quote: %w", err)
	}
	q.bidID, q.askID = bidID, askID
	return nil
}

// dispatchSignals 把本行情点触发的全部信号以市价单送入网关
func (e *Engine) dispatchSignals(ctx context.Context, point *marketdomain.MarketDataPoint, result *Result) {
	for _, strat := range e.strategies {
		for _, signal := range strat.OnTick(point) {
			result.Submitted++
			order, err := e.gateway.Submit(ctx, gatewayapp.OrderRequest{
				Symbol:   signal.Symbol,
				Side:     signal.Side,
				Quantity: e.cfg.OrderQuantity,
			})
			switch {
			case err != nil:
				result.Rejected++
				e.logger.Debug("signal rejected",
					"strategy", strat.Name(), "symbol", signal.Symbol, "reason", order.Reason)
			case order.Status == matchdomain.OrderStatusFailed:
				result.Failed++
			case order.Status == matchdomain.OrderStatusFilled:
				result.Filled++
			}
		}
	}
}

// marks 以各交易对最近收盘价作为权益标价
func (e *Engine) marks() map[string]decimal.Decimal {
	marks := make(map[string]decimal.Decimal, len(e.lastClose))
	for symbol, close := range e.lastClose {
		marks[symbol] = close
	}
	return marks
}
