// Backtest 主程序
// 功能：读取历史行情 CSV，按固定种子重放策略并输出绩效报告
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	backtestapp "github.com/wyfcoding/tradesim/internal/backtest/application"
	backtestdomain "github.com/wyfcoding/tradesim/internal/backtest/domain"
	backtestmysql "github.com/wyfcoding/tradesim/internal/backtest/infrastructure/persistence/mysql"
	gatewayapp "github.com/wyfcoding/tradesim/internal/gateway/application"
	gatewaydomain "github.com/wyfcoding/tradesim/internal/gateway/domain"
	"github.com/wyfcoding/tradesim/internal/gateway/infrastructure/audit"
	"github.com/wyfcoding/tradesim/internal/marketdata/infrastructure/csvfeed"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	riskapp "github.com/wyfcoding/tradesim/internal/risk/application"
	strategydomain "github.com/wyfcoding/tradesim/internal/strategy/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// Config 回测运行配置
type Config struct {
	Name string `mapstructure:"name"`
	Data struct {
		File   string `mapstructure:"file"`
		Symbol string `mapstructure:"symbol"`
	} `mapstructure:"data"`
	Simulation struct {
		StartingCash       string  `mapstructure:"starting_cash"`
		PositionLimit      string  `mapstructure:"position_limit"`
		FailureProbability float64 `mapstructure:"failure_probability"`
		Seed               int64   `mapstructure:"seed"`
		MaxOrdersPerMinute int     `mapstructure:"max_orders_per_minute"`
		OrderQuantity      string  `mapstructure:"order_quantity"`
		QuoteDepth         string  `mapstructure:"quote_depth"`
		SpreadBps          int64   `mapstructure:"spread_bps"`
	} `mapstructure:"simulation"`
	Strategy struct {
		MAC struct {
			Enabled     bool `mapstructure:"enabled"`
			ShortWindow int  `mapstructure:"short_window"`
			LongWindow  int  `mapstructure:"long_window"`
		} `mapstructure:"mac"`
		Momentum struct {
			Enabled   bool    `mapstructure:"enabled"`
			Lookback  int     `mapstructure:"lookback"`
			Threshold float64 `mapstructure:"threshold"`
		} `mapstructure:"momentum"`
	} `mapstructure:"strategy"`
	Report struct {
		MarkdownPath string `mapstructure:"markdown_path"`
		AuditCSVPath string `mapstructure:"audit_csv_path"`
		MySQLDSN     string `mapstructure:"mysql_dsn"` // 留空则不落库
	} `mapstructure:"report"`
}

func main() {
	configPath := flag.String("config", "configs/backtest.toml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	logger := slog.Default()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	feed, err := csvfeed.Open(cfg.Data.File, cfg.Data.Symbol)
	if err != nil {
		return err
	}
	logger.Info("market data loaded", "file", cfg.Data.File, "points", feed.Len())

	riskCfg, btCfg, err := parseSimulation(cfg)
	if err != nil {
		return err
	}

	// 审计：内存下沉始终开启，CSV 可选
	sinks := []gatewaydomain.Sink{audit.NewMemorySink()}
	if cfg.Report.AuditCSVPath != "" {
		csvSink, err := audit.NewCSVSink(cfg.Report.AuditCSVPath)
		if err != nil {
			return err
		}
		defer csvSink.Close()
		sinks = append(sinks, csvSink)
	}

	// 起点取零值，首个行情点会把模拟时钟推进到位
	clk := clock.NewSimulated(time.Time{})
	engine := matchdomain.NewMatchingEngine(cfg.Simulation.FailureProbability, cfg.Simulation.Seed, clk, logger)
	om := riskapp.NewOrderManager(riskCfg, engine, clk, logger)
	gw := gatewayapp.NewGateway(om, audit.NewMultiSink(sinks...), clk, logger)

	strategies, err := buildStrategies(cfg)
	if err != nil {
		return err
	}

	var reports backtestdomain.ReportRepository
	if cfg.Report.MySQLDSN != "" {
		db, err := gorm.Open(gormmysql.Open(cfg.Report.MySQLDSN), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("connect report database: %w", err)
		}
		if err := db.AutoMigrate(&backtestdomain.ReportRecord{}); err != nil {
			return fmt.Errorf("migrate report table: %w", err)
		}
		reports = backtestmysql.NewReportRepository(db)
	}

	bt := backtestdomain.NewEngine(feed, strategies, gw, clk, btCfg, logger)
	service := backtestapp.NewService(bt, reports, clk, logger)

	report, err := service.Execute(ctx, cfg.Name)
	if err != nil {
		return err
	}

	if cfg.Report.MarkdownPath != "" {
		if err := service.WriteMarkdown(report, cfg.Report.MarkdownPath); err != nil {
			return err
		}
	}
	fmt.Print(report.Markdown())
	return nil
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func buildStrategies(cfg *Config) ([]strategydomain.Strategy, error) {
	var strategies []strategydomain.Strategy
	if cfg.Strategy.MAC.Enabled {
		mac, err := strategydomain.NewMovingAverageCrossover(cfg.Strategy.MAC.ShortWindow, cfg.Strategy.MAC.LongWindow)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, mac)
	}
	if cfg.Strategy.Momentum.Enabled {
		momentum, err := strategydomain.NewMomentum(
			cfg.Strategy.Momentum.Lookback, decimal.NewFromFloat(cfg.Strategy.Momentum.Threshold))
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, momentum)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategy enabled")
	}
	return strategies, nil
}

func parseSimulation(cfg *Config) (riskapp.Config, backtestdomain.Config, error) {
	parse := func(name, value string, required bool) (decimal.Decimal, error) {
		if value == "" {
			if required {
				return decimal.Zero, fmt.Errorf("%s is required", name)
			}
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		return d, nil
	}

	startingCash, err := parse("starting_cash", cfg.Simulation.StartingCash, true)
	if err != nil {
		return riskapp.Config{}, backtestdomain.Config{}, err
	}
	positionLimit, err := parse("position_limit", cfg.Simulation.PositionLimit, false)
	if err != nil {
		return riskapp.Config{}, backtestdomain.Config{}, err
	}
	orderQty, err := parse("order_quantity", cfg.Simulation.OrderQuantity, false)
	if err != nil {
		return riskapp.Config{}, backtestdomain.Config{}, err
	}
	quoteDepth, err := parse("quote_depth", cfg.Simulation.QuoteDepth, false)
	if err != nil {
		return riskapp.Config{}, backtestdomain.Config{}, err
	}

	riskCfg := riskapp.Config{
		StartingCash:       startingCash,
		PositionLimit:      positionLimit,
		MaxOrdersPerMinute: cfg.Simulation.MaxOrdersPerMinute,
	}
	btCfg := backtestdomain.Config{
		OrderQuantity: orderQty,
		QuoteDepth:    quoteDepth,
		SpreadBps:     cfg.Simulation.SpreadBps,
	}
	return riskCfg, btCfg, nil
}
