// ExchangeService 主程序
// 功能：提供模拟交易所服务，订单经风控闸口进入撮合引擎，全量审计
// 架构：基于 DDD + Gin + gRPC + Kafka 审计发布
package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/app"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/metrics"
	"github.com/wyfcoding/pkg/middleware"

	gatewayapp "github.com/wyfcoding/tradesim/internal/gateway/application"
	gatewaydomain "github.com/wyfcoding/tradesim/internal/gateway/domain"
	"github.com/wyfcoding/tradesim/internal/gateway/infrastructure/audit"
	"github.com/wyfcoding/tradesim/internal/gateway/infrastructure/messaging"
	gatewaymysql "github.com/wyfcoding/tradesim/internal/gateway/infrastructure/persistence/mysql"
	gatewayhttp "github.com/wyfcoding/tradesim/internal/gateway/interfaces/http"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
	riskapp "github.com/wyfcoding/tradesim/internal/risk/application"
	"github.com/wyfcoding/tradesim/pkg/clock"
)

// BootstrapName 服务唯一标识
const BootstrapName = "exchanged"

// Config 服务扩展配置
type Config struct {
	config.Config `mapstructure:",squash"`
	Simulation    struct {
		StartingCash       string  `mapstructure:"starting_cash" toml:"starting_cash"`
		PositionLimit      string  `mapstructure:"position_limit" toml:"position_limit"`
		FailureProbability float64 `mapstructure:"failure_probability" toml:"failure_probability"`
		Seed               int64   `mapstructure:"seed" toml:"seed"`
		MaxOrdersPerMinute int     `mapstructure:"max_orders_per_minute" toml:"max_orders_per_minute"`
	} `mapstructure:"simulation" toml:"simulation"`
	Audit struct {
		CSVPath string                `mapstructure:"csv_path" toml:"csv_path"`
		Kafka   messaging.KafkaConfig `mapstructure:"kafka" toml:"kafka"`
	} `mapstructure:"audit" toml:"audit"`
}

// AppContext 应用上下文
type AppContext struct {
	Config  *Config
	Gateway *gatewayapp.Gateway
	Engine  *matchdomain.MatchingEngine
	Handler *gatewayhttp.ExchangeHandler
	Metrics *metrics.Metrics
}

func main() {
	if err := app.NewBuilder[*Config, *AppContext](BootstrapName).
		WithConfig(&Config{}).
		WithService(initService).
		WithGRPC(registerGRPC).
		WithGin(registerGin).
		WithGinMiddleware(
			middleware.CORS(),
			middleware.TimeoutMiddleware(30*time.Second),
		).
		Build().
		Run(); err != nil {
		slog.Error("service bootstrap failed", "error", err)
	}
}

// registerGRPC 无自定义 proto，仅注册健康检查与反射
func registerGRPC(s *grpc.Server, ctx *AppContext) {
	healthpb.RegisterHealthServer(s, health.NewServer())
	reflection.Register(s)
}

func registerGin(e *gin.Engine, ctx *AppContext) {
	if ctx.Config.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx.Handler.RegisterRoutes(e)
}

func initService(cfg *Config, m *metrics.Metrics) (*AppContext, func(), error) {
	bootLog := slog.With("module", "bootstrap")
	logger := logging.Default()

	// 1. 数据库
	dbWrapper, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	db := dbWrapper.RawDB()

	// 自动迁移
	if err := db.AutoMigrate(&gatewaydomain.AuditRecord{}, &matchdomain.Trade{}); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	// 2. 审计下沉：落库 + 可选 CSV + 可选 Kafka
	auditRepo := gatewaymysql.NewAuditRepository(db)
	sinks := []gatewaydomain.Sink{gatewaymysql.NewRepositorySink(auditRepo)}

	var csvSink *audit.CSVSink
	if cfg.Audit.CSVPath != "" {
		csvSink, err = audit.NewCSVSink(cfg.Audit.CSVPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit csv: %w", err)
		}
		sinks = append(sinks, csvSink)
	}

	var kafkaSink *messaging.KafkaSink
	if len(cfg.Audit.Kafka.Brokers) > 0 {
		kafkaSink = messaging.NewKafkaSink(cfg.Audit.Kafka, logger.Logger)
		sinks = append(sinks, kafkaSink)
	}

	// 3. 撮合 + 风控 + 网关
	simCfg, err := parseSimulation(cfg)
	if err != nil {
		return nil, nil, err
	}
	clk := clock.NewSystem()
	engine := matchdomain.NewMatchingEngine(cfg.Simulation.FailureProbability, cfg.Simulation.Seed, clk, logger.Logger)
	om := riskapp.NewOrderManager(simCfg, engine, clk, logger.Logger)
	gateway := gatewayapp.NewGateway(om, audit.NewMultiSink(sinks...), clk, logger.Logger)
	gateway.SetTradeRepository(gatewaymysql.NewTradeRepository(db))

	handler := gatewayhttp.NewExchangeHandler(gateway, engine)

	cleanup := func() {
		bootLog.Info("shutting down...")
		if kafkaSink != nil {
			kafkaSink.Close()
		}
		if csvSink != nil {
			csvSink.Close()
		}
		if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
			sqlDB.Close()
		}
	}

	return &AppContext{
		Config:  cfg,
		Gateway: gateway,
		Engine:  engine,
		Handler: handler,
		Metrics: m,
	}, cleanup, nil
}

func parseSimulation(cfg *Config) (riskapp.Config, error) {
	startingCash, err := decimal.NewFromString(cfg.Simulation.StartingCash)
	if err != nil {
		return riskapp.Config{}, fmt.Errorf("invalid starting_cash %q: %w", cfg.Simulation.StartingCash, err)
	}
	positionLimit := decimal.Zero
	if cfg.Simulation.PositionLimit != "" {
		positionLimit, err = decimal.NewFromString(cfg.Simulation.PositionLimit)
		if err != nil {
			return riskapp.Config{}, fmt.Errorf("invalid position_limit %q: %w", cfg.Simulation.PositionLimit, err)
		}
	}
	return riskapp.Config{
		StartingCash:       startingCash,
		PositionLimit:      positionLimit,
		MaxOrdersPerMinute: cfg.Simulation.MaxOrdersPerMinute,
	}, nil
}
