// Package tradelog writes terminal trade records to their sinks: the
// append-only CSV log, the database, the signal bus and alerting.
package tradelog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

// Header is the column layout of the CSV trade log.
var Header = []string{
	"timestamp", "attempt_id", "market_id", "question", "outcome", "side",
	"price", "size", "shares", "expected_payout", "mode", "status",
	"attempts", "order_id", "reason",
}

// CSVLog appends one row per trade record to a CSV file. The header is
// written only when the file is new or empty. It is safe for concurrent use.
type CSVLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

// OpenCSV opens or creates the log at path.
func OpenCSV(path string) (*CSVLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tradelog: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tradelog: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tradelog: stat %s: %w", path, err)
	}

	l := &CSVLog{path: path, f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := l.write(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Record appends rec and flushes it to the file.
func (l *CSVLog) Record(_ context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(toRow(rec))
}

// ListRecent returns up to limit records, newest first.
func (l *CSVLog) ListRecent(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("tradelog: open %s: %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	var all []domain.TradeRecord
	for first := true; ; first = false {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tradelog: read %s: %w", l.path, err)
		}
		if first && row[0] == Header[0] {
			continue
		}
		rec, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("tradelog: parse %s line %d: %w", l.path, len(all)+2, err)
		}
		all = append(all, rec)
	}

	out := make([]domain.TradeRecord, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Close flushes and closes the file.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return errors.Join(l.w.Error(), l.f.Close())
}

func (l *CSVLog) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("tradelog: write: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("tradelog: flush: %w", err)
	}
	return nil
}

func toRow(rec domain.TradeRecord) []string {
	return []string{
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.AttemptID,
		rec.MarketID,
		rec.Question,
		rec.Outcome,
		string(rec.Side),
		rec.Price.String(),
		rec.Size.String(),
		rec.Shares.String(),
		rec.ExpectedPayout.String(),
		string(rec.Mode),
		string(rec.Status),
		strconv.Itoa(rec.Attempts),
		rec.OrderID,
		rec.Reason,
	}
}

func fromRow(row []string) (domain.TradeRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("timestamp: %w", err)
	}
	var nums [4]decimal.Decimal
	for i, col := range row[6:10] {
		if nums[i], err = decimal.NewFromString(col); err != nil {
			return domain.TradeRecord{}, fmt.Errorf("%s: %w", Header[6+i], err)
		}
	}
	attempts, err := strconv.Atoi(row[12])
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("attempts: %w", err)
	}
	return domain.TradeRecord{
		Timestamp:      ts,
		AttemptID:      row[1],
		MarketID:       row[2],
		Question:       row[3],
		Outcome:        row[4],
		Side:           domain.OrderSide(row[5]),
		Price:          nums[0],
		Size:           nums[1],
		Shares:         nums[2],
		ExpectedPayout: nums[3],
		Mode:           domain.Mode(row[10]),
		Status:         domain.AttemptStatus(row[11]),
		Attempts:       attempts,
		OrderID:        row[13],
		Reason:         row[14],
	}, nil
}
