package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	backtestdomain "github.com/wyfcoding/tradesim/internal/backtest/domain"
)

func curveOf(values ...float64) []backtestdomain.EquityPoint {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	curve := make([]backtestdomain.EquityPoint, 0, len(values))
	for i, v := range values {
		curve = append(curve, backtestdomain.EquityPoint{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Equity:    decimal.NewFromFloat(v),
		})
	}
	return curve
}

func resultOf(startingCash float64, values ...float64) *backtestdomain.Result {
	curve := curveOf(values...)
	return &backtestdomain.Result{
		StartingCash: decimal.NewFromFloat(startingCash),
		FinalEquity:  curve[len(curve)-1].Equity,
		EquityCurve:  curve,
		Ticks:        len(curve),
	}
}

func TestAnalyzeTotalReturn(t *testing.T) {
	report := Analyze(resultOf(100_000, 100_000, 102_000, 105_000), time.Now())
	assert.True(t, report.TotalReturn.Equal(decimal.NewFromFloat(0.05)),
		"got %s", report.TotalReturn)
}

func TestAnalyzeMaxDrawdown(t *testing.T) {
	// 峰值 120000 跌至 90000：回撤 25%
	report := Analyze(resultOf(100_000, 100_000, 120_000, 90_000, 110_000), time.Now())
	assert.True(t, report.MaxDrawdown.Equal(decimal.NewFromFloat(0.25)),
		"got %s", report.MaxDrawdown)
}

func TestAnalyzeMonotonicCurveHasZeroDrawdown(t *testing.T) {
	report := Analyze(resultOf(100_000, 100_000, 101_000, 102_000), time.Now())
	assert.True(t, report.MaxDrawdown.IsZero())
	assert.Positive(t, report.SharpeRatio)
}

func TestAnalyzeFlatCurve(t *testing.T) {
	report := Analyze(resultOf(100_000, 100_000, 100_000, 100_000), time.Now())
	assert.True(t, report.TotalReturn.IsZero())
	assert.Zero(t, report.SharpeRatio)
	assert.True(t, report.MaxDrawdown.IsZero())
}

func TestEquityPlotDimensions(t *testing.T) {
	report := Analyze(resultOf(100_000, 100_000, 101_000, 99_000, 103_000, 104_000), time.Now())
	plot := report.EquityPlot(40, 8)
	require.NotEmpty(t, plot)

	lines := strings.Split(strings.TrimRight(plot, "\n"), "\n")
	// 上下边界各一行加 height 行图体
	assert.Len(t, lines, 10)
	assert.Contains(t, plot, "*")
}

func TestMarkdownContainsMetrics(t *testing.T) {
	report := Analyze(resultOf(100_000, 100_000, 105_000), time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC))
	md := report.Markdown()

	assert.Contains(t, md, "# Backtest Performance Report")
	assert.Contains(t, md, "| Total return | 5.00% |")
	assert.Contains(t, md, "| Final equity | 105000.00 |")
	assert.Contains(t, md, "## Equity Curve")
}
