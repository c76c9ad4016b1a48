// Package application 实盘交易循环：策略预热、行情轮询与信号路由
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	gatewayapp "github.com/wyfcoding/tradesim/internal/gateway/application"
	"github.com/wyfcoding/tradesim/internal/livetrading/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	strategydomain "github.com/wyfcoding/tradesim/internal/strategy/domain"
)

// Config 实盘循环参数
type Config struct {
	Symbols       []string
	Lookback      int           // 预热用的历史 K 线根数
	PollInterval  time.Duration // 行情轮询周期
	OrderQuantity decimal.Decimal
}

// LiveTrader 实盘交易器
// 行情轮询与信号派发单协程顺序执行，与回测引擎走完全相同的
// Gateway → OrderManager 链路；实盘特有的规则只有一条：
// 卖出数量不超过当前多头持仓，不主动开空
type LiveTrader struct {
	adapter    domain.BrokerAdapter
	venue      *domain.BrokerVenue
	gateway    *gatewayapp.Gateway
	strategies []strategydomain.Strategy
	cfg        Config

	lastBar map[string]time.Time
	logger  *slog.Logger
}

func NewLiveTrader(
	adapter domain.BrokerAdapter,
	venue *domain.BrokerVenue,
	gateway *gatewayapp.Gateway,
	strategies []strategydomain.Strategy,
	cfg Config,
	logger *slog.Logger,
) *LiveTrader {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.OrderQuantity.IsZero() {
		cfg.OrderQuantity = decimal.NewFromInt(10)
	}
	return &LiveTrader{
		adapter:    adapter,
		venue:      venue,
		gateway:    gateway,
		strategies: strategies,
		cfg:        cfg,
		lastBar:    make(map[string]time.Time),
		logger:     logger.With("module", "live_trader"),
	}
}

// Run 预热后进入轮询循环，直到 ctx 取消
func (t *LiveTrader) Run(ctx context.Context) error {
	if err := t.warmUp(ctx); err != nil {
		return fmt.Errorf("strategy warm-up: %w", err)
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("live trading loop stopped")
			return ctx.Err()
		case <-ticker.C:
			for _, symbol := range t.cfg.Symbols {
				if err := t.poll(ctx, symbol); err != nil {
					// 单个交易对的临时故障不中断整个循环
					t.logger.Error("poll failed", "symbol", symbol, "error", err)
				}
			}
		}
	}
}

// warmUp 用历史 K 线填充策略窗口，预热期间产生的信号全部丢弃
func (t *LiveTrader) warmUp(ctx context.Context) error {
	for _, symbol := range t.cfg.Symbols {
		bars, err := t.adapter.FetchRecentBars(ctx, symbol, t.cfg.Lookback)
		if err != nil {
			return err
		}
		for i := range bars {
			bar := &bars[i]
			for _, strat := range t.strategies {
				strat.OnTick(bar)
			}
			t.venue.SetMark(bar.Symbol, bar.Close)
			t.lastBar[bar.Symbol] = bar.Timestamp
		}
		t.logger.Info("strategy warm-up done", "symbol", symbol, "bars", len(bars))
	}
	return nil
}

// poll 拉取最新 K 线；同一根 K 线只消费一次
func (t *LiveTrader) poll(ctx context.Context, symbol string) error {
	bars, err := t.adapter.FetchRecentBars(ctx, symbol, 1)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	bar := &bars[len(bars)-1]
	if !bar.Timestamp.After(t.lastBar[symbol]) {
		return nil
	}
	t.lastBar[symbol] = bar.Timestamp
	t.venue.SetMark(bar.Symbol, bar.Close)

	for _, strat := range t.strategies {
		for _, signal := range strat.OnTick(bar) {
			t.dispatch(ctx, strat.Name(), signal)
		}
	}
	return nil
}

// dispatch 把信号转成市价单；卖出数量封顶为当前多头持仓
func (t *LiveTrader) dispatch(ctx context.Context, strategyName string, signal strategydomain.Signal) {
	quantity := t.cfg.OrderQuantity
	if signal.Side == matchdomain.OrderSideSell {
		held := t.gateway.Manager().Position(signal.Symbol).Quantity
		if !held.IsPositive() {
			t.logger.Debug("sell signal skipped, no long position",
				"strategy", strategyName, "symbol", signal.Symbol)
			return
		}
		quantity = decimal.Min(quantity, held)
	}

	order, err := t.gateway.Submit(ctx, gatewayapp.OrderRequest{
		Symbol:   signal.Symbol,
		Side:     signal.Side,
		Quantity: quantity,
	})
	if err != nil {
		t.logger.Warn("live order rejected",
			"strategy", strategyName, "symbol", signal.Symbol, "reason", order.Reason)
		return
	}
	t.logger.Info("live order submitted",
		"strategy", strategyName, "order_id", order.OrderID,
		"symbol", signal.Symbol, "side", signal.Side, "quantity", quantity, "status", order.Status)
}
