package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gatewayapp "github.com/wyfcoding/tradesim/internal/gateway/application"
	"github.com/wyfcoding/tradesim/internal/gateway/infrastructure/audit"
	"github.com/wyfcoding/tradesim/internal/livetrading/domain"
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	riskapp "github.com/wyfcoding/tradesim/internal/risk/application"
	strategydomain "github.com/wyfcoding/tradesim/internal/strategy/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// fakeBroker 测试用券商：历史 K 线固定，所有订单按成交价立即全成
type fakeBroker struct {
	bars      []marketdomain.MarketDataPoint
	fillPrice decimal.Decimal
	submitted []*matchdomain.Order
}

func (b *fakeBroker) FetchRecentBars(_ context.Context, symbol string, lookback int) ([]marketdomain.MarketDataPoint, error) {
	if lookback >= len(b.bars) {
		return b.bars, nil
	}
	return b.bars[len(b.bars)-lookback:], nil
}

func (b *fakeBroker) SubmitOrder(_ context.Context, order *matchdomain.Order) (*domain.BrokerExecution, error) {
	b.submitted = append(b.submitted, order)
	return &domain.BrokerExecution{
		BrokerOrderID: "broker-" + order.OrderID,
		FilledPrice:   b.fillPrice,
		FilledQty:     order.Quantity,
	}, nil
}

func bars(closes ...float64) []marketdomain.MarketDataPoint {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	out := make([]marketdomain.MarketDataPoint, 0, len(closes))
	for i, c := range closes {
		v := decimal.NewFromFloat(c)
		out = append(out, marketdomain.MarketDataPoint{
			Symbol: "AAPL", Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open: v, High: v, Low: v, Close: v, Volume: decimal.NewFromInt(1000),
		})
	}
	return out
}

func newLiveTrader(t *testing.T, broker *fakeBroker) (*LiveTrader, *gatewayapp.Gateway) {
	t.Helper()
	venue := domain.NewBrokerVenue(broker)
	om := riskapp.NewOrderManager(riskapp.Config{
		StartingCash:  decimal.NewFromInt(100_000),
		PositionLimit: decimal.NewFromInt(1_000),
	}, venue, clock.NewSystem(), slog.Default())
	gw := gatewayapp.NewGateway(om, audit.NewMemorySink(), clock.NewSystem(), slog.Default())

	mac, err := strategydomain.NewMovingAverageCrossover(2, 4)
	require.NoError(t, err)

	trader := NewLiveTrader(broker, venue, gw, []strategydomain.Strategy{mac}, Config{
		Symbols:       []string{"AAPL"},
		Lookback:      10,
		OrderQuantity: decimal.NewFromInt(10),
	}, slog.Default())
	return trader, gw
}

func TestWarmUpDoesNotTrade(t *testing.T) {
	// 上涨序列：预热期间策略会产生买入信号，但不得下单
	broker := &fakeBroker{bars: bars(100, 101, 102, 103, 104, 105), fillPrice: decimal.NewFromInt(105)}
	trader, gw := newLiveTrader(t, broker)

	require.NoError(t, trader.warmUp(context.Background()))

	assert.Empty(t, broker.submitted)
	snap := gw.Manager().Snapshot()
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(100_000)))
}

func TestPollSkipsAlreadySeenBar(t *testing.T) {
	broker := &fakeBroker{bars: bars(100, 101, 102, 103), fillPrice: decimal.NewFromInt(103)}
	trader, _ := newLiveTrader(t, broker)

	require.NoError(t, trader.warmUp(context.Background()))
	require.NoError(t, trader.poll(context.Background(), "AAPL"))
	assert.Empty(t, broker.submitted, "stale bar must not be consumed twice")
}

func TestSellSkippedWithoutPosition(t *testing.T) {
	// 预热为上涨趋势，新 K 线急跌触发卖出信号；无持仓时直接丢弃
	broker := &fakeBroker{bars: bars(100, 101, 102, 103), fillPrice: decimal.NewFromInt(90)}
	trader, gw := newLiveTrader(t, broker)

	require.NoError(t, trader.warmUp(context.Background()))

	broker.bars = append(broker.bars, bars(100, 101, 102, 103, 90)[4])
	require.NoError(t, trader.poll(context.Background(), "AAPL"))

	assert.Empty(t, broker.submitted)
	assert.True(t, gw.Manager().Position("AAPL").Quantity.IsZero())
}

func TestSellCappedAtHeldPosition(t *testing.T) {
	broker := &fakeBroker{bars: bars(100, 101, 102, 103), fillPrice: decimal.NewFromInt(103)}
	trader, gw := newLiveTrader(t, broker)
	require.NoError(t, trader.warmUp(context.Background()))

	// 手工建仓 4 股，低于默认下单量 10
	_, err := gw.Submit(context.Background(), gatewayapp.OrderRequest{
		Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	require.True(t, gw.Manager().Position("AAPL").Quantity.Equal(decimal.NewFromInt(4)))

	trader.dispatch(context.Background(), "test", strategydomain.Signal{
		Symbol: "AAPL", Side: matchdomain.OrderSideSell,
	})

	require.Len(t, broker.submitted, 2)
	sell := broker.submitted[1]
	assert.Equal(t, matchdomain.OrderSideSell, sell.Side)
	assert.True(t, sell.Quantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, gw.Manager().Position("AAPL").Quantity.IsZero())
}

// partialFillBroker 每笔订单只成交一半数量
type partialFillBroker struct {
	fakeBroker
}

func (b *partialFillBroker) SubmitOrder(_ context.Context, order *matchdomain.Order) (*domain.BrokerExecution, error) {
	b.submitted = append(b.submitted, order)
	return &domain.BrokerExecution{
		BrokerOrderID: "broker-" + order.OrderID,
		FilledPrice:   b.fillPrice,
		FilledQty:     order.Quantity.Div(decimal.NewFromInt(2)),
	}, nil
}

func TestPartialBrokerFillCancelsRemainderAndReleasesCash(t *testing.T) {
	broker := &partialFillBroker{fakeBroker{fillPrice: decimal.NewFromInt(100)}}
	venue := domain.NewBrokerVenue(broker)
	venue.SetMark("AAPL", decimal.NewFromInt(100))
	om := riskapp.NewOrderManager(riskapp.Config{
		StartingCash:  decimal.NewFromInt(10_000),
		PositionLimit: decimal.NewFromInt(1_000),
	}, venue, clock.NewSystem(), slog.Default())
	gw := gatewayapp.NewGateway(om, audit.NewMemorySink(), clock.NewSystem(), slog.Default())

	// 10 股市价买只成交 5 股：余量取消，订单到达终态
	order, err := gw.Submit(context.Background(), gatewayapp.OrderRequest{
		Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusCancelled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(decimal.NewFromInt(5)))

	// 未成交部分的资金占用必须随终态释放，不得滞留
	snap := gw.Manager().Snapshot()
	assert.True(t, snap.Reserved.IsZero(), "reserved is %s", snap.Reserved)
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(9_500)), "cash is %s", snap.Cash)
	assert.True(t, snap.Position("AAPL").Quantity.Equal(decimal.NewFromInt(5)))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	broker := &fakeBroker{bars: bars(100, 101, 102, 103), fillPrice: decimal.NewFromInt(103)}
	trader, _ := newLiveTrader(t, broker)
	trader.cfg.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := trader.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
