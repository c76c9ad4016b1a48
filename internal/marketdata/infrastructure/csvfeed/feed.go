// Package csvfeed 从清洗后的 OHLCV CSV 文件读取历史行情，模拟实时数据流
package csvfeed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/tradesim/internal/marketdata/domain"
)

// 支持的时间戳格式，优先 RFC3339，其次常见的导出格式
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Feed 基于 CSV 的历史行情流
// 文件在构造时整体加载并按时间戳排序，Next 逐条弹出
type Feed struct {
	points []domain.MarketDataPoint
	cursor int
}

// Open 加载 CSV 文件并构造行情流
// 期望表头: Datetime,Symbol,Open,High,Low,Close,Volume（Symbol 列可缺省，用 fallbackSymbol 填充）
func Open(path string, fallbackSymbol string) (*Feed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market data file: %w", err)
	}
	defer f.Close()

	points, err := parse(f, fallbackSymbol)
	if err != nil {
		return nil, fmt.Errorf("parse market data file %s: %w", path, err)
	}
	return &Feed{points: points}, nil
}

// NewFromPoints 直接从内存数据构造行情流（测试与实盘预热共用）
func NewFromPoints(points []domain.MarketDataPoint) *Feed {
	sorted := make([]domain.MarketDataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Feed{points: sorted}
}

// Next 返回下一个行情点，数据耗尽返回 io.EOF
func (f *Feed) Next() (*domain.MarketDataPoint, error) {
	if f.cursor >= len(f.points) {
		return nil, io.EOF
	}
	p := f.points[f.cursor]
	f.cursor++
	return &p, nil
}

// Len 返回总数据点数
func (f *Feed) Len() int { return len(f.points) }

func parse(r io.Reader, fallbackSymbol string) ([]domain.MarketDataPoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"Datetime", "Open", "High", "Low", "Close", "Volume"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var points []domain.MarketDataPoint
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTime(record[col["Datetime"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		symbol := fallbackSymbol
		if idx, ok := col["Symbol"]; ok && record[idx] != "" {
			symbol = record[idx]
		}

		point := domain.MarketDataPoint{Symbol: symbol, Timestamp: ts}
		for name, dst := range map[string]*decimal.Decimal{
			"Open":   &point.Open,
			"High":   &point.High,
			"Low":    &point.Low,
			"Close":  &point.Close,
			"Volume": &point.Volume,
		} {
			v, err := decimal.NewFromString(record[col[name]])
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s: %w", line, name, err)
			}
			*dst = v
		}
		points = append(points, point)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
