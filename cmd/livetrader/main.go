// LiveTrader 主程序
// 功能：通过券商纸面交易通道实盘运行策略，复用回测的风控与审计链路
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	gatewayapp "github.com/wyfcoding/tradesim/internal/gateway/application"
	gatewaydomain "github.com/wyfcoding/tradesim/internal/gateway/domain"
	"github.com/wyfcoding/tradesim/internal/gateway/infrastructure/audit"
	livetradingapp "github.com/wyfcoding/tradesim/internal/livetrading/application"
	livetradingdomain "github.com/wyfcoding/tradesim/internal/livetrading/domain"
	"github.com/wyfcoding/tradesim/internal/livetrading/infrastructure/alpaca"
	riskapp "github.com/wyfcoding/tradesim/internal/risk/application"
	strategydomain "github.com/wyfcoding/tradesim/internal/strategy/domain"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// Config 实盘运行配置
type Config struct {
	Broker  alpaca.Config `mapstructure:"broker"`
	Trading struct {
		Symbols             []string `mapstructure:"symbols"`
		Lookback            int      `mapstructure:"lookback"`
		PollIntervalSeconds int      `mapstructure:"poll_interval_seconds"`
		OrderQuantity       string   `mapstructure:"order_quantity"`
	} `mapstructure:"trading"`
	Risk struct {
		StartingCash       string `mapstructure:"starting_cash"`
		PositionLimit      string `mapstructure:"position_limit"`
		MaxOrdersPerMinute int    `mapstructure:"max_orders_per_minute"`
	} `mapstructure:"risk"`
	Strategy struct {
		MAC struct {
			ShortWindow int `mapstructure:"short_window"`
			LongWindow  int `mapstructure:"long_window"`
		} `mapstructure:"mac"`
	} `mapstructure:"strategy"`
	Audit struct {
		CSVPath string `mapstructure:"csv_path"`
	} `mapstructure:"audit"`
}

func main() {
	configPath := flag.String("config", "configs/livetrader.toml", "path to config file")
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

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("live trader failed", "error", err)
		os.Exit(1)
	}
	logger.Info("live trader stopped")
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	startingCash, err := decimal.NewFromString(cfg.Risk.StartingCash)
	if err != nil {
		return fmt.Errorf("invalid starting_cash %q: %w", cfg.Risk.StartingCash, err)
	}
	positionLimit := decimal.Zero
	if cfg.Risk.PositionLimit != "" {
		positionLimit, err = decimal.NewFromString(cfg.Risk.PositionLimit)
		if err != nil {
			return fmt.Errorf("invalid position_limit %q: %w", cfg.Risk.PositionLimit, err)
		}
	}
	orderQty := decimal.Zero
	if cfg.Trading.OrderQuantity != "" {
		orderQty, err = decimal.NewFromString(cfg.Trading.OrderQuantity)
		if err != nil {
			return fmt.Errorf("invalid order_quantity %q: %w", cfg.Trading.OrderQuantity, err)
		}
	}

	var sink gatewaydomain.Sink = audit.NewMemorySink()
	if cfg.Audit.CSVPath != "" {
		csvSink, err := audit.NewCSVSink(cfg.Audit.CSVPath)
		if err != nil {
			return err
		}
		defer csvSink.Close()
		sink = csvSink
	}

	broker := alpaca.NewClient(cfg.Broker, logger)
	venue := livetradingdomain.NewBrokerVenue(broker)

	clk := clock.NewSystem()
	om := riskapp.NewOrderManager(riskapp.Config{
		StartingCash:       startingCash,
		PositionLimit:      positionLimit,
		MaxOrdersPerMinute: cfg.Risk.MaxOrdersPerMinute,
	}, venue, clk, logger)
	gw := gatewayapp.NewGateway(om, sink, clk, logger)

	mac, err := strategydomain.NewMovingAverageCrossover(
		cfg.Strategy.MAC.ShortWindow, cfg.Strategy.MAC.LongWindow)
	if err != nil {
		return err
	}

	trader := livetradingapp.NewLiveTrader(broker, venue, gw,
		[]strategydomain.Strategy{mac},
		livetradingapp.Config{
			Symbols:       cfg.Trading.Symbols,
			Lookback:      cfg.Trading.Lookback,
			PollInterval:  time.Duration(cfg.Trading.PollIntervalSeconds) * time.Second,
			OrderQuantity: orderQty,
		}, logger)

	logger.Info("live trader starting", "symbols", cfg.Trading.Symbols)
	return trader.Run(ctx)
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
