// Package domain 行情数据的领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataPoint 表示一个行情数据点（K 线或逐笔快照）
// 不可变，由外部数据源产生，同一交易对内按时间戳非递减排列
type MarketDataPoint struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Price 返回该数据点的参考价格（收盘价）
func (p MarketDataPoint) Price() decimal.Decimal {
	return p.Close
}

// Feed 拉取式行情流，每个模拟步消费一个数据点
// 数据耗尽时返回 io.EOF
type Feed interface {
	Next() (*MarketDataPoint, error)
}
