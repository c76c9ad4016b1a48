package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	"github.com/wyfcoding/tradesim/internal/risk/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

func newTestManager(t *testing.T, cash int64, positionLimit int64) (*OrderManager, *matchdomain.MatchingEngine, *clock.Simulated) {
	t.Helper()
	clk := clock.NewSimulated(time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC))
	engine := matchdomain.NewMatchingEngine(0, 1, clk, slog.Default())
	om := NewOrderManager(Config{
		StartingCash:  decimal.NewFromInt(cash),
		PositionLimit: decimal.NewFromInt(positionLimit),
	}, engine, clk, slog.Default())
	return om, engine, clk
}

func buyLimit(id string, price, qty int64) *matchdomain.Order {
	return matchdomain.NewOrder(id, "AAPL", matchdomain.OrderSideBuy, matchdomain.OrderTypeLimit,
		decimal.NewFromInt(price), decimal.NewFromInt(qty), time.Now())
}

func sellLimit(id string, price, qty int64) *matchdomain.Order {
	return matchdomain.NewOrder(id, "AAPL", matchdomain.OrderSideSell, matchdomain.OrderTypeLimit,
		decimal.NewFromInt(price), decimal.NewFromInt(qty), time.Now())
}

func TestInsufficientCapitalOnSecondOrder(t *testing.T) {
	om, _, _ := newTestManager(t, 20000, 200)
	ctx := context.Background()

	// 第一笔 100 股 @150：接受并占用 15000
	res, err := om.ValidateAndSubmit(ctx, buyLimit("B-1", 150, 100))
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusResting, res.Order.Status)
	snap := om.Snapshot()
	assert.True(t, snap.Reserved.Equal(decimal.NewFromInt(15000)))
	assert.True(t, snap.Available().Equal(decimal.NewFromInt(5000)))

	// 第二笔同样 15000 名义金额：可用仅 5000，必须拒绝
	res, err = om.ValidateAndSubmit(ctx, buyLimit("B-2", 150, 100))
	require.ErrorIs(t, err, domain.ErrInsufficientCapital)
	assert.Equal(t, matchdomain.OrderStatusRejected, res.Order.Status)
	assert.Equal(t, "Insufficient capital", res.Order.Reason)
}

func TestPositionLimitIncludesPendingOrders(t *testing.T) {
	om, _, _ := newTestManager(t, 1_000_000, 200)
	ctx := context.Background()

	_, err := om.ValidateAndSubmit(ctx, buyLimit("B-1", 100, 150))
	require.NoError(t, err)

	// 在途 150 + 新增 100 > 限额 200
	res, err := om.ValidateAndSubmit(ctx, buyLimit("B-2", 100, 100))
	require.ErrorIs(t, err, domain.ErrPositionLimitExceeded)
	assert.Equal(t, matchdomain.OrderStatusRejected, res.Order.Status)
}

func TestShortPositionLimit(t *testing.T) {
	om, _, _ := newTestManager(t, 1_000_000, 200)
	ctx := context.Background()

	res, err := om.ValidateAndSubmit(ctx, sellLimit("S-1", 100, 250))
	require.ErrorIs(t, err, domain.ErrPositionLimitExceeded)
	assert.Equal(t, matchdomain.OrderStatusRejected, res.Order.Status)
}

func TestFillSettlesLedgerExactlyOnce(t *testing.T) {
	om, _, _ := newTestManager(t, 100_000, 1000)
	ctx := context.Background()

	// 自有卖单挂簿后由买单吃掉，双边都入账，净现金变化为零
	_, err := om.ValidateAndSubmit(ctx, sellLimit("S-1", 100, 50))
	require.NoError(t, err)
	res, err := om.ValidateAndSubmit(ctx, buyLimit("B-1", 100, 50))
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusFilled, res.Order.Status)

	snap := om.Snapshot()
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(100_000)), "cash is %s", snap.Cash)
	assert.True(t, snap.Reserved.IsZero())
	assert.True(t, snap.Position("AAPL").Quantity.IsZero())
}

func TestSyntheticLiquidityFillSettlesStrategySideOnly(t *testing.T) {
	om, _, _ := newTestManager(t, 100_000, 1000)
	ctx := context.Background()

	// 合成流动性：SELL 100 @100，不占用、不入账
	mm := matchdomain.NewOrder("MM-1", "AAPL", matchdomain.OrderSideSell, matchdomain.OrderTypeLimit,
		decimal.NewFromInt(100), decimal.NewFromInt(100), time.Now())
	_, err := om.SubmitLiquidity(ctx, mm)
	require.NoError(t, err)
	assert.True(t, om.Snapshot().Cash.Equal(decimal.NewFromInt(100_000)))

	// 策略买单成交后只记买方一侧
	res, err := om.ValidateAndSubmit(ctx, buyLimit("B-1", 100, 40))
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusFilled, res.Order.Status)

	snap := om.Snapshot()
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(96_000)), "cash is %s", snap.Cash)
	assert.True(t, snap.Reserved.IsZero())
	pos := snap.Position("AAPL")
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, pos.AverageCost.Equal(decimal.NewFromInt(100)))
}

func TestCancelReleasesReservation(t *testing.T) {
	om, _, _ := newTestManager(t, 20000, 200)
	ctx := context.Background()

	_, err := om.ValidateAndSubmit(ctx, buyLimit("B-1", 150, 100))
	require.NoError(t, err)
	assert.True(t, om.Snapshot().Reserved.Equal(decimal.NewFromInt(15000)))

	order, err := om.Cancel(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusCancelled, order.Status)
	assert.True(t, om.Snapshot().Reserved.IsZero())

	// 资金释放后再次提交应被接受
	_, err = om.ValidateAndSubmit(ctx, buyLimit("B-2", 150, 100))
	require.NoError(t, err)
}

func TestMarketOrderRequiresReferencePrice(t *testing.T) {
	om, _, _ := newTestManager(t, 20000, 200)
	ctx := context.Background()

	mkt := matchdomain.NewOrder("B-1", "AAPL", matchdomain.OrderSideBuy, matchdomain.OrderTypeMarket,
		decimal.Zero, decimal.NewFromInt(10), time.Now())
	_, err := om.ValidateAndSubmit(ctx, mkt)
	assert.ErrorIs(t, err, domain.ErrNoReferencePrice)
}

func TestMarketBuyCheckedAtWorstPriceNotLastTrade(t *testing.T) {
	om, _, _ := newTestManager(t, 500, 200)
	ctx := context.Background()

	// 两笔合成报价互相成交，留下远低于当前盘口的最近成交价 10
	_, err := om.SubmitLiquidity(ctx, sellLimit("MM-1", 10, 1))
	require.NoError(t, err)
	_, err = om.SubmitLiquidity(ctx, buyLimit("MM-2", 10, 1))
	require.NoError(t, err)

	// 盘口仅剩 100 的卖单：市价买 10 股的最差成交额为 1000 > 可用 500
	_, err = om.SubmitLiquidity(ctx, sellLimit("MM-3", 100, 10))
	require.NoError(t, err)

	mkt := matchdomain.NewOrder("B-1", "AAPL", matchdomain.OrderSideBuy, matchdomain.OrderTypeMarket,
		decimal.Zero, decimal.NewFromInt(10), time.Now())
	res, err := om.ValidateAndSubmit(ctx, mkt)
	require.ErrorIs(t, err, domain.ErrInsufficientCapital)
	assert.Equal(t, matchdomain.OrderStatusRejected, res.Order.Status)
	assert.Equal(t, "Insufficient capital", res.Order.Reason)

	snap := om.Snapshot()
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(500)), "cash is %s", snap.Cash)
	assert.True(t, snap.Reserved.IsZero())
}

func TestMarketBuyReservedAcrossBookLevels(t *testing.T) {
	om, _, _ := newTestManager(t, 1600, 200)
	ctx := context.Background()

	_, err := om.SubmitLiquidity(ctx, sellLimit("MM-1", 100, 5))
	require.NoError(t, err)
	_, err = om.SubmitLiquidity(ctx, sellLimit("MM-2", 200, 5))
	require.NoError(t, err)

	// 最优卖价 100，但 10 股要吃到第二档：占用按最差价 200 计为 2000
	mkt := matchdomain.NewOrder("B-1", "AAPL", matchdomain.OrderSideBuy, matchdomain.OrderTypeMarket,
		decimal.Zero, decimal.NewFromInt(10), time.Now())
	_, err = om.ValidateAndSubmit(ctx, mkt)
	require.ErrorIs(t, err, domain.ErrInsufficientCapital)
}

func TestMarketBuySettlesWithinWorstCaseReservation(t *testing.T) {
	om, _, _ := newTestManager(t, 2000, 200)
	ctx := context.Background()

	_, err := om.SubmitLiquidity(ctx, sellLimit("MM-1", 100, 5))
	require.NoError(t, err)
	_, err = om.SubmitLiquidity(ctx, sellLimit("MM-2", 200, 5))
	require.NoError(t, err)

	mkt := matchdomain.NewOrder("B-1", "AAPL", matchdomain.OrderSideBuy, matchdomain.OrderTypeMarket,
		decimal.Zero, decimal.NewFromInt(10), time.Now())
	res, err := om.ValidateAndSubmit(ctx, mkt)
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusFilled, res.Order.Status)

	// 实际成交额 5*100+5*200=1500，多占的 500 在终态时退回
	snap := om.Snapshot()
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(500)), "cash is %s", snap.Cash)
	assert.True(t, snap.Reserved.IsZero())
	pos := snap.Position("AAPL")
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, pos.AverageCost.Equal(decimal.NewFromInt(150)))
}

func TestRateLimitRejectsBurst(t *testing.T) {
	clk := clock.NewSimulated(time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC))
	engine := matchdomain.NewMatchingEngine(0, 1, clk, slog.Default())
	om := NewOrderManager(Config{
		StartingCash:       decimal.NewFromInt(1_000_000),
		PositionLimit:      decimal.NewFromInt(10_000),
		MaxOrdersPerMinute: 2,
	}, engine, clk, slog.Default())
	ctx := context.Background()

	_, err := om.ValidateAndSubmit(ctx, buyLimit("B-1", 100, 1))
	require.NoError(t, err)
	_, err = om.ValidateAndSubmit(ctx, buyLimit("B-2", 100, 1))
	require.NoError(t, err)
	_, err = om.ValidateAndSubmit(ctx, buyLimit("B-3", 100, 1))
	require.ErrorIs(t, err, domain.ErrRateLimitExceeded)

	// 一分钟后窗口滑出，恢复可提交
	clk.Advance(clk.Now().Add(61 * time.Second))
	_, err = om.ValidateAndSubmit(ctx, buyLimit("B-4", 100, 1))
	require.NoError(t, err)
}

func TestWeightedAverageCost(t *testing.T) {
	var pos domain.Position
	pos.ApplyFill(true, decimal.NewFromInt(10), decimal.NewFromInt(100))
	pos.ApplyFill(true, decimal.NewFromInt(10), decimal.NewFromInt(110))
	assert.True(t, pos.AverageCost.Equal(decimal.NewFromInt(105)))
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(20)))

	// 减仓不改变平均成本
	pos.ApplyFill(false, decimal.NewFromInt(5), decimal.NewFromInt(120))
	assert.True(t, pos.AverageCost.Equal(decimal.NewFromInt(105)))

	// 清仓归零
	pos.ApplyFill(false, decimal.NewFromInt(15), decimal.NewFromInt(120))
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.AverageCost.IsZero())
}
