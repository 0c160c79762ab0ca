package writer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"fundingsim/models"
)

// ledgerRecord is the parquet layout of a ledger row.
type ledgerRecord struct {
	Timestamp            int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Symbol               string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarkPrice            float64 `parquet:"name=mark_price, type=DOUBLE"`
	FundingRate          float64 `parquet:"name=funding_rate, type=DOUBLE"`
	NotionalUSD          float64 `parquet:"name=notional_usd, type=DOUBLE"`
	CumulativeFundingPnL float64 `parquet:"name=cumulative_funding_pnl, type=DOUBLE"`
	SpotPnL              float64 `parquet:"name=spot_pnl, type=DOUBLE"`
	NetPnL               float64 `parquet:"name=net_pnl, type=DOUBLE"`
}

func toRecord(row models.LedgerRow) ledgerRecord {
	return ledgerRecord{
		Timestamp:            row.Timestamp.UnixMilli(),
		Symbol:               row.Symbol,
		MarkPrice:            row.MarkPrice.InexactFloat64(),
		FundingRate:          row.FundingRate.InexactFloat64(),
		NotionalUSD:          row.NotionalUSD.InexactFloat64(),
		CumulativeFundingPnL: row.CumulativeFundingPnL.InexactFloat64(),
		SpotPnL:              row.SpotPnL.InexactFloat64(),
		NetPnL:               row.NetPnL.InexactFloat64(),
	}
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (m *memoryFile) Seek(int64, int) (int64, error) { return int64(m.buf.Len()), nil }

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buf.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buf.Write(b) }
func (m *memoryFile) Close() error                { return nil }

// EncodeParquet renders rows as a snappy-compressed parquet file.
func EncodeParquet(rows []models.LedgerRow) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := pqwriter.NewParquetWriter(fw, new(ledgerRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(toRecord(row)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.buf.Bytes(), nil
}

// ExportParquet writes rows to a local parquet file at path.
func ExportParquet(rows []models.LedgerRow, path string) error {
	data, err := EncodeParquet(rows)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteError, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "create export directory"))
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "write export"))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "rename export"))
	}
	return nil
}
