// Package alpaca Alpaca 纸面交易通道的 REST 适配器
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/tradesim/internal/livetrading/domain"
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// Config Alpaca 接入配置
type Config struct {
	TradingBaseURL string `mapstructure:"trading_base_url"` // 默认纸面交易环境
	DataBaseURL    string `mapstructure:"data_base_url"`
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Timeframe      string `mapstructure:"timeframe"` // K 线周期，默认 1Min
}

// Client 实现 domain.BrokerAdapter
type Client struct {
	trading *resty.Client
	data    *resty.Client
	cfg     Config
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.TradingBaseURL == "" {
		cfg.TradingBaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.DataBaseURL == "" {
		cfg.DataBaseURL = "https://data.alpaca.markets"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1Min"
	}

	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
			SetHeader("APCA-API-KEY-ID", cfg.APIKey).
			SetHeader("APCA-API-SECRET-KEY", cfg.APISecret).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond)
	}
	return &Client{
		trading: newClient(cfg.TradingBaseURL),
		data:    newClient(cfg.DataBaseURL),
		cfg:     cfg,
		logger:  logger.With("module", "alpaca_client"),
	}
}

type barPayload struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type barsResponse struct {
	Bars []barPayload `json:"bars"`
}

// FetchRecentBars 拉取指定交易对最近 lookback 根 K 线，按时间升序返回
func (c *Client) FetchRecentBars(ctx context.Context, symbol string, lookback int) ([]marketdomain.MarketDataPoint, error) {
	var out barsResponse
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"timeframe": c.cfg.Timeframe,
			"limit":     fmt.Sprintf("%d", lookback),
		}).
		SetResult(&out).
		Get(fmt.Sprintf("/v2/stocks/%s/bars", symbol))
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch bars for %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	points := make([]marketdomain.MarketDataPoint, 0, len(out.Bars))
	for _, bar := range out.Bars {
		points = append(points, marketdomain.MarketDataPoint{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Open:      decimal.NewFromFloat(bar.Open),
			High:      decimal.NewFromFloat(bar.High),
			Low:       decimal.NewFromFloat(bar.Low),
			Close:     decimal.NewFromFloat(bar.Close),
			Volume:    decimal.NewFromFloat(bar.Volume),
		})
	}
	return points, nil
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

type orderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

// SubmitOrder 向券商提交市价单
// 回执中的成交量/成交价可能尚未回填（订单处于受理中），此时返回零值
func (c *Client) SubmitOrder(ctx context.Context, order *matchdomain.Order) (*domain.BrokerExecution, error) {
	body := orderRequest{
		Symbol:      order.Symbol,
		Qty:         order.Quantity.String(),
		Side:        strings.ToLower(string(order.Side)),
		Type:        "market",
		TimeInForce: "day",
	}

	var out orderResponse
	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("submit order %s: %w", order.OrderID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("submit order %s: status %d: %s", order.OrderID, resp.StatusCode(), resp.String())
	}

	exec := &domain.BrokerExecution{BrokerOrderID: out.ID}
	if out.FilledQty != "" {
		if qty, err := decimal.NewFromString(out.FilledQty); err == nil {
			exec.FilledQty = qty
		}
	}
	if out.FilledAvgPrice != "" {
		if price, err := decimal.NewFromString(out.FilledAvgPrice); err == nil {
			exec.FilledPrice = price
		}
	}
	c.logger.Info("broker order submitted",
		"order_id", order.OrderID, "broker_order_id", out.ID, "status", out.Status)
	return exec, nil
}
