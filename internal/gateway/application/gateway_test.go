package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gatewaydomain "github.com/wyfcoding/tradesim/internal/gateway/domain"
	"github.com/wyfcoding/tradesim/internal/gateway/infrastructure/audit"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	riskapp "github.com/wyfcoding/tradesim/internal/risk/application"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

func newTestGateway(t *testing.T, failureProbability float64, seed int64) (*Gateway, *audit.MemorySink, *clock.Simulated) {
	t.Helper()
	clk := clock.NewSimulated(time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC))
	engine := matchdomain.NewMatchingEngine(failureProbability, seed, clk, slog.Default())
	om := riskapp.NewOrderManager(riskapp.Config{
		StartingCash:  decimal.NewFromInt(1_000_000),
		PositionLimit: decimal.NewFromInt(10_000),
	}, engine, clk, slog.Default())
	sink := audit.NewMemorySink()
	return NewGateway(om, sink, clk, slog.Default()), sink, clk
}

func price(v int64) *decimal.Decimal {
	p := decimal.NewFromInt(v)
	return &p
}

func TestSubmitAssignsMonotonicIDs(t *testing.T) {
	g, _, _ := newTestGateway(t, 0, 1)
	ctx := context.Background()

	first, err := g.Submit(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(10), Price: price(100)})
	require.NoError(t, err)
	second, err := g.Submit(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(10), Price: price(99)})
	require.NoError(t, err)

	assert.Equal(t, "O-1", first.OrderID)
	assert.Equal(t, "O-2", second.OrderID)
}

func TestEveryCallProducesAuditEvent(t *testing.T) {
	g, sink, _ := newTestGateway(t, 0, 1)
	ctx := context.Background()

	sell, err := g.Submit(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideSell, Quantity: decimal.NewFromInt(10), Price: price(100)})
	require.NoError(t, err)
	_, err = g.Submit(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(10), Price: price(100)})
	require.NoError(t, err)
	assert.False(t, g.Cancel(ctx, sell.OrderID), "filled order must not be cancellable")

	events := sink.Events()
	// 卖单提交 + 买单提交 + 双边成交回报各一条
	var submissions, fills int
	for _, ev := range events {
		switch ev.Kind {
		case gatewaydomain.EventSubmission:
			submissions++
		case gatewaydomain.EventFill:
			fills++
		}
	}
	assert.Equal(t, 2, submissions)
	assert.Equal(t, 2, fills)
}

func TestRejectedOrderAudited(t *testing.T) {
	g, sink, _ := newTestGateway(t, 0, 1)

	order, err := g.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: matchdomain.OrderSideBuy,
		Quantity: decimal.NewFromInt(-5), Price: price(100),
	})
	require.Error(t, err)
	assert.Equal(t, matchdomain.OrderStatusRejected, order.Status)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, gatewaydomain.EventSubmission, events[0].Kind)
	assert.Equal(t, matchdomain.OrderStatusRejected, events[0].Status)
	assert.NotEmpty(t, events[0].Reason)
}

func TestCancelRestingOrderAudited(t *testing.T) {
	g, sink, _ := newTestGateway(t, 0, 1)
	ctx := context.Background()

	order, err := g.Submit(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(10), Price: price(100)})
	require.NoError(t, err)
	require.True(t, g.Cancel(ctx, order.OrderID))
	assert.False(t, g.Cancel(ctx, order.OrderID), "second cancel must fail")

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, gatewaydomain.EventCancellation, events[1].Kind)
	assert.Equal(t, matchdomain.OrderStatusCancelled, events[1].Status)
}

func TestFailureInjectionAuditedWithoutFills(t *testing.T) {
	g, sink, _ := newTestGateway(t, 1.0, 42)
	ctx := context.Background()

	_, err := g.ProvideLiquidity(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideSell, Quantity: decimal.NewFromInt(10), Price: price(100)})
	require.NoError(t, err)

	order, err := g.Submit(ctx, OrderRequest{Symbol: "AAPL", Side: matchdomain.OrderSideBuy, Quantity: decimal.NewFromInt(10), Price: price(100)})
	require.NoError(t, err)
	assert.Equal(t, matchdomain.OrderStatusFailed, order.Status)
	assert.Equal(t, matchdomain.FailureReason, order.Reason)

	// 台账不受影响
	snap := g.Manager().Snapshot()
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(1_000_000)))

	for _, ev := range sink.Events() {
		assert.NotEqual(t, gatewaydomain.EventFill, ev.Kind)
	}
}

// 固定种子下两次完整运行的审计流必须逐字节一致
func TestAuditLogDeterministicAcrossRuns(t *testing.T) {
	run := func() []byte {
		g, sink, clk := newTestGateway(t, 0.3, 99)
		ctx := context.Background()
		for i := 0; i < 30; i++ {
			clk.Advance(clk.Now().Add(time.Second))
			_, err := g.ProvideLiquidity(ctx, OrderRequest{
				Symbol: "AAPL", Side: matchdomain.OrderSideSell,
				Quantity: decimal.NewFromInt(5), Price: price(int64(100 + i%3)),
			})
			require.NoError(t, err)
			g.Submit(ctx, OrderRequest{
				Symbol: "AAPL", Side: matchdomain.OrderSideBuy,
				Quantity: decimal.NewFromInt(5), Price: price(int64(100 + i%3)),
			})
		}
		raw, err := json.Marshal(sink.Events())
		require.NoError(t, err)
		return raw
	}

	assert.Equal(t, run(), run())
}
