// Package domain 回测绩效分析：收益、风险指标与报告生成
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	backtestdomain "github.com/wyfcoding/tradesim/internal/backtest/domain"
)

// PerformanceReport 单次回测的绩效汇总
type PerformanceReport struct {
	GeneratedAt  time.Time
	StartingCash decimal.Decimal
	FinalEquity  decimal.Decimal
	TotalReturn  decimal.Decimal // 比例，0.05 表示 5%
	SharpeRatio  float64         // 逐点收益的均值/标准差，不做年化
	MaxDrawdown  decimal.Decimal // 峰值回撤比例，非负
	Ticks        int
	Submitted    int
	Filled       int
	Rejected     int
	Failed       int

	curve []backtestdomain.EquityPoint
}

// Analyze 从回测结果计算绩效指标
func Analyze(result *backtestdomain.Result, now time.Time) *PerformanceReport {
	report := &PerformanceReport{
		GeneratedAt:  now,
		StartingCash: result.StartingCash,
		FinalEquity:  result.FinalEquity,
		Ticks:        result.Ticks,
		Submitted:    result.Submitted,
		Filled:       result.Filled,
		Rejected:     result.Rejected,
		Failed:       result.Failed,
		curve:        result.EquityCurve,
	}
	if result.StartingCash.IsPositive() {
		report.TotalReturn = result.FinalEquity.Sub(result.StartingCash).Div(result.StartingCash)
	}
	report.SharpeRatio = sharpe(result.EquityCurve)
	report.MaxDrawdown = maxDrawdown(result.EquityCurve)
	return report
}

// sharpe 逐点简单收益率的均值与标准差之比；样本不足或零波动时为零
func sharpe(curve []backtestdomain.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].Equity.InexactFloat64()/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

// maxDrawdown 权益曲线的最大峰值回撤比例
func maxDrawdown(curve []backtestdomain.EquityPoint) decimal.Decimal {
	worst := decimal.Zero
	peak := decimal.Zero
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(p.Equity).Div(peak)
			if dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst
}

// EquityPlot 权益曲线的 ASCII 图，height 行、曲线按列等距采样
func (r *PerformanceReport) EquityPlot(width, height int) string {
	if len(r.curve) == 0 || width <= 0 || height <= 0 {
		return ""
	}
	if width > len(r.curve) {
		width = len(r.curve)
	}

	// 等距采样到 width 列
	sampled := make([]float64, width)
	for col := 0; col < width; col++ {
		idx := col * (len(r.curve) - 1) / max(width-1, 1)
		sampled[col] = r.curve[idx].Equity.InexactFloat64()
	}

	lo, hi := sampled[0], sampled[0]
	for _, v := range sampled {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	grid := make([][]byte, height)
	for row := range grid {
		grid[row] = []byte(strings.Repeat(" ", width))
	}
	for col, v := range sampled {
		row := int(float64(height-1) * (hi - v) / span)
		grid[row][col] = '*'
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%12.2f ┐\n", hi)
	for _, row := range grid {
		b.WriteString("             │")
		b.Write(row)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%12.2f ┘\n", lo)
	return b.String()
}

// Markdown 渲染完整的 Markdown 报告
func (r *PerformanceReport) Markdown() string {
	var b strings.Builder
	b.WriteString("# Backtest Performance Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Starting cash | %s |\n", r.StartingCash.StringFixed(2))
	fmt.Fprintf(&b, "| Final equity | %s |\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(&b, "| Total return | %s%% |\n", r.TotalReturn.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(&b, "| Sharpe ratio | %.4f |\n", r.SharpeRatio)
	fmt.Fprintf(&b, "| Max drawdown | %s%% |\n", r.MaxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(&b, "| Ticks | %d |\n", r.Ticks)
	fmt.Fprintf(&b, "| Orders submitted | %d |\n", r.Submitted)
	fmt.Fprintf(&b, "| Orders filled | %d |\n", r.Filled)
	fmt.Fprintf(&b, "| Orders rejected | %d |\n", r.Rejected)
	fmt.Fprintf(&b, "| Orders failed | %d |\n", r.Failed)
	b.WriteString("\n## Equity Curve\n\n```\n")
	b.WriteString(r.EquityPlot(72, 16))
	b.WriteString("```\n")
	return b.String()
}
