package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/wyfcoding/tradesim/internal/gateway/domain"
)

var csvHeader = []string{"timestamp", "kind", "order_id", "symbol", "side", "quantity", "price", "status", "reason"}

// CSVSink 将审计事件逐行追加到 CSV 文件（trade_audit.csv 风格）
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink 创建（覆盖）审计文件并写入表头
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create audit file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write audit header: %w", err)
	}
	w.Flush()
	return &CSVSink{file: f, writer: w}, nil
}

func (s *CSVSink) Record(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		strconv.FormatInt(event.Timestamp.UnixNano(), 10),
		string(event.Kind),
		event.OrderID,
		event.Symbol,
		string(event.Side),
		event.Quantity.String(),
		event.Price.String(),
		string(event.Status),
		event.Reason,
	}
	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close 刷新并关闭审计文件
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer.Flush()
	return s.file.Close()
}
