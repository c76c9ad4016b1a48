// Package application 回测编排：执行回放、生成绩效报告并按需落库
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/wyfcoding/pkg/idgen"
	backtestdomain "github.com/wyfcoding/tradesim/internal/backtest/domain"
	reportingdomain "github.com/wyfcoding/tradesim/internal/reporting/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// Service 回测服务
type Service struct {
	engine  *backtestdomain.Engine
	reports backtestdomain.ReportRepository // 可为 nil，仅内存模式
	clock   clock.Clock
	logger  *slog.Logger
}

func NewService(engine *backtestdomain.Engine, reports backtestdomain.ReportRepository, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		engine:  engine,
		reports: reports,
		clock:   clk,
		logger:  logger.With("module", "backtest_service"),
	}
}

// Execute 运行回测并产出绩效报告；配置了仓储时同步落库
// name 为空时自动分配一个运行标识
func (s *Service) Execute(ctx context.Context, name string) (*reportingdomain.PerformanceReport, error) {
	if name == "" {
		name = "run-" + idgen.GenIDString()
	}
	result, err := s.engine.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run backtest: %w", err)
	}

	report := reportingdomain.Analyze(result, s.clock.Now())

	if s.reports != nil {
		record := &backtestdomain.ReportRecord{
			Name:         name,
			StartingCash: report.StartingCash,
			FinalEquity:  report.FinalEquity,
			TotalReturn:  report.TotalReturn,
			SharpeRatio:  report.SharpeRatio,
			MaxDrawdown:  report.MaxDrawdown,
			Ticks:        report.Ticks,
			Submitted:    report.Submitted,
			Filled:       report.Filled,
			Rejected:     report.Rejected,
			Failed:       report.Failed,
		}
		if err := s.reports.Save(ctx, record); err != nil {
			// 落库失败不吞掉结果，报告仍返回调用方
			s.logger.Error("failed to persist backtest report", "name", name, "error", err)
		}
	}
	return report, nil
}

// WriteMarkdown 将报告写入 Markdown 文件
func (s *Service) WriteMarkdown(report *reportingdomain.PerformanceReport, path string) error {
	if err := os.WriteFile(path, []byte(report.Markdown()), 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	s.logger.Info("backtest report written", "path", path)
	return nil
}
