package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/clearwinbot/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// archiveBatch caps the records moved per run; the rest go next run.
	archiveBatch = 50_000
)

// TradeArchive implements domain.Archiver. It moves trade records older than
// a cutoff to one JSONL object, deletes the archived rows and records the
// run in the audit log. Rows are deleted only after the upload succeeds.
type TradeArchive struct {
	writer domain.BlobWriter
	trades domain.TradeRecordStore
	audit  domain.AuditStore
}

// NewArchiver creates a TradeArchive.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeRecordStore, audit domain.AuditStore) *TradeArchive {
	return &TradeArchive{writer: writer, trades: trades, audit: audit}
}

// ArchiveTrades archives records older than before and returns how many
// were moved.
func (a *TradeArchive) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.trades.ListBefore(ctx, before, archiveBatch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	recs, cutoff := trimBatch(recs, before, archiveBatch)
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", cutoff)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  cutoff.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

// trimBatch returns the records to archive and the cutoff to delete up to.
// A full batch may stop partway through a timestamp, so its last timestamp
// becomes the cutoff and records at that instant wait for the next run.
func trimBatch(recs []domain.TradeRecord, before time.Time, limit int) ([]domain.TradeRecord, time.Time) {
	if len(recs) < limit {
		return recs, before
	}
	cutoff := recs[len(recs)-1].Timestamp
	n := len(recs)
	for n > 0 && !recs[n-1].Timestamp.Before(cutoff) {
		n--
	}
	return recs[:n], cutoff
}

// archivePath builds the object key for one archive run, grouped by month:
//
//	archive/trades/2026-03/20260301T000000Z.jsonl
func archivePath(kind string, cutoff time.Time) string {
	cutoff = cutoff.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, cutoff.Format("2006-01"), cutoff.Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*TradeArchive)(nil)
