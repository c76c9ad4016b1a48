package csvfeed

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenParsesRows(t *testing.T) {
	path := writeCSV(t, `Datetime,Symbol,Open,High,Low,Close,Volume
2024-06-03 09:31:00,AAPL,101,103,100.5,102,1200
2024-06-03 09:30:00,AAPL,100,102,99.5,101,1500
`)

	feed, err := Open(path, "AAPL")
	require.NoError(t, err)
	require.Equal(t, 2, feed.Len())

	// 行按时间戳升序弹出，与文件顺序无关
	first, err := feed.Next()
	require.NoError(t, err)
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC), first.Timestamp)
	assert.True(t, first.Close.Equal(decimal.NewFromInt(101)))

	second, err := feed.Next()
	require.NoError(t, err)
	assert.True(t, second.Close.Equal(decimal.NewFromInt(102)))

	_, err = feed.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenFallbackSymbol(t *testing.T) {
	path := writeCSV(t, `Datetime,Open,High,Low,Close,Volume
2024-06-03,100,102,99.5,101,1500
`)

	feed, err := Open(path, "MSFT")
	require.NoError(t, err)

	point, err := feed.Next()
	require.NoError(t, err)
	assert.Equal(t, "MSFT", point.Symbol)
}

func TestOpenRejectsMissingColumn(t *testing.T) {
	path := writeCSV(t, `Datetime,Open,High,Low,Volume
2024-06-03,100,102,99.5,1500
`)

	_, err := Open(path, "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Close")
}

func TestOpenRejectsBadPrice(t *testing.T) {
	path := writeCSV(t, `Datetime,Open,High,Low,Close,Volume
2024-06-03,100,102,99.5,n/a,1500
`)

	_, err := Open(path, "AAPL")
	assert.Error(t, err)
}

func TestOpenRejectsBadTimestamp(t *testing.T) {
	path := writeCSV(t, `Datetime,Open,High,Low,Close,Volume
yesterday,100,102,99.5,101,1500
`)

	_, err := Open(path, "AAPL")
	assert.Error(t, err)
}
