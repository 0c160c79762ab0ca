// Package ledger persists simulation rows as an append-only CSV file.
package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"fundingsim/logger"
	"fundingsim/models"
)

const (
	defaultLockTimeout = 10 * time.Second
	lockRetryDelay     = 50 * time.Millisecond

	// tailChunk is the read size used when scanning back for the last record.
	tailChunk = 4096
)

// Options controls how a Ledger guards its file.
type Options struct {
	Lock        bool
	LockTimeout time.Duration
}

// Ledger is a CSV file holding one LedgerRow per line after a header.
type Ledger struct {
	path string
	opts Options
	lock *flock.Flock
	log  *logger.Log
}

// New returns a ledger stored at path. The file is created on first Append.
func New(path string, opts Options) *Ledger {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	l := &Ledger{
		path: path,
		opts: opts,
		log:  logger.GetLogger(),
	}
	if opts.Lock {
		l.lock = flock.New(path + ".lock")
	}
	return l
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Lock takes the sidecar file lock guarding read-modify-append cycles. It is
// a no-op when locking is disabled.
func (l *Ledger) Lock(ctx context.Context) error {
	if l.lock == nil {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create ledger dir %s: %v", models.ErrWriteError, dir, err)
		}
	}
	lockCtx, cancel := context.WithTimeout(ctx, l.opts.LockTimeout)
	defer cancel()

	ok, err := l.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: lock %s: %v", models.ErrWriteError, l.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: ledger %s is locked by another run", models.ErrWriteError, l.path)
	}
	return nil
}

// Unlock releases the sidecar lock.
func (l *Ledger) Unlock() {
	if l.lock == nil {
		return
	}
	if err := l.lock.Unlock(); err != nil {
		l.log.WithComponent("ledger").WithError(err).Warn("failed to release ledger lock")
	}
}

// ReadLast returns the most recent row, or nil when the ledger is absent or
// holds no rows. Only the tail of the file is parsed.
func (l *Ledger) ReadLast() (*models.LedgerRow, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header of %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	if err := checkHeader(header); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptLedger, l.path, err)
	}

	line, err := lastLine(f)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	rec, err := csv.NewReader(bytes.NewReader(line)).Read()
	if err != nil {
		return nil, fmt.Errorf("%w: parse last record of %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	if isHeader(rec) {
		return nil, nil
	}
	row, err := decodeRow(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: last record of %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	return &row, nil
}

// ReadAll returns every row in file order.
func (l *Ledger) ReadAll() ([]models.LedgerRow, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(models.LedgerColumns)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrCorruptLedger, l.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	if err := checkHeader(records[0]); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptLedger, l.path, err)
	}

	rows := make([]models.LedgerRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := decodeRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrCorruptLedger, l.path, i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Append writes row after the current last row. The record is written in a
// single call and fsynced; on failure the file is truncated back to its
// previous size so no partial record remains.
func (l *Ledger) Append(row models.LedgerRow) (err error) {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create ledger dir %s: %v", models.ErrWriteError, dir, err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "open ledger"))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(cerr, "close ledger"))
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "stat ledger"))
	}
	size := info.Size()

	var buf bytes.Buffer
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "read ledger tail"))
		}
		// the previous record must stay on its own line
		if last[0] != '\n' {
			buf.WriteByte('\n')
		}
	}
	w := csv.NewWriter(&buf)
	if size == 0 {
		if err := w.Write(models.LedgerColumns); err != nil {
			return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "encode header"))
		}
	}
	if err := w.Write(encodeRow(row)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "encode row"))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "encode row"))
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		l.rollback(f, size)
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "write row"))
	}
	if err := f.Sync(); err != nil {
		l.rollback(f, size)
		return fmt.Errorf("%w: %v", models.ErrWriteError, errors.Wrap(err, "sync ledger"))
	}

	l.log.WithComponent("ledger").WithFields(logger.Fields{
		"path":      l.path,
		"timestamp": row.Timestamp.Format(time.RFC3339Nano),
		"bytes":     buf.Len(),
	}).Debug("ledger row appended")
	return nil
}

func (l *Ledger) rollback(f *os.File, size int64) {
	if err := f.Truncate(size); err != nil {
		l.log.WithComponent("ledger").WithError(err).WithFields(logger.Fields{
			"path": l.path,
			"size": size,
		}).Error("failed to roll back partial ledger write")
	}
}

// lastLine returns the final non-empty line of f without reading the whole
// file.
func lastLine(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	end := info.Size()
	var tail []byte
	for end > 0 {
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		chunk := make([]byte, end-start)
		if _, err := f.ReadAt(chunk, start); err != nil && err != io.EOF {
			return nil, err
		}
		tail = append(chunk, tail...)
		trimmed := bytes.TrimRight(tail, "\r\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return trimmed[i+1:], nil
		}
		if start == 0 {
			return trimmed, nil
		}
		end = start
	}
	return nil, io.ErrUnexpectedEOF
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && rec[0] == models.LedgerColumns[0]
}

func checkHeader(rec []string) error {
	if len(rec) != len(models.LedgerColumns) {
		return fmt.Errorf("header has %d columns, want %d", len(rec), len(models.LedgerColumns))
	}
	for i, col := range models.LedgerColumns {
		if rec[i] != col {
			return fmt.Errorf("header column %d is %q, want %q", i, rec[i], col)
		}
	}
	return nil
}

func encodeRow(row models.LedgerRow) []string {
	return []string{
		row.Timestamp.UTC().Format(time.RFC3339Nano),
		row.Symbol,
		row.MarkPrice.String(),
		row.FundingRate.String(),
		row.NotionalUSD.String(),
		row.CumulativeFundingPnL.String(),
		row.SpotPnL.String(),
		row.NetPnL.String(),
	}
}

func decodeRow(rec []string) (models.LedgerRow, error) {
	if len(rec) != len(models.LedgerColumns) {
		return models.LedgerRow{}, fmt.Errorf("record has %d fields, want %d", len(rec), len(models.LedgerColumns))
	}
	ts, err := time.Parse(time.RFC3339Nano, rec[0])
	if err != nil {
		return models.LedgerRow{}, fmt.Errorf("timestamp: %w", err)
	}
	if rec[1] == "" {
		return models.LedgerRow{}, fmt.Errorf("symbol is empty")
	}
	var nums [6]decimal.Decimal
	for i := range nums {
		v, err := decimal.NewFromString(rec[i+2])
		if err != nil {
			return models.LedgerRow{}, fmt.Errorf("%s: %w", models.LedgerColumns[i+2], err)
		}
		nums[i] = v
	}
	return models.LedgerRow{
		Timestamp:            ts.UTC(),
		Symbol:               rec[1],
		MarkPrice:            nums[0],
		FundingRate:          nums[1],
		NotionalUSD:          nums[2],
		CumulativeFundingPnL: nums[3],
		SpotPnL:              nums[4],
		NetPnL:               nums[5],
	}, nil
}
