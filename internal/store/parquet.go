package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"daybot/internal/domain"
)

// AuditExporter writes the day's fills to a dated Parquet file for
// offline audit and analysis.
type AuditExporter struct {
	DataDir string
}

// NewAuditExporter creates an exporter rooted at the given data directory.
func NewAuditExporter(dataDir string) *AuditExporter {
	return &AuditExporter{DataDir: dataDir}
}

// FillRecord is the Parquet schema for fill audit exports.
type FillRecord struct {
	ID        string  `parquet:"id"`
	OrderID   string  `parquet:"order_id"`
	Symbol    string  `parquet:"symbol"`
	Side      string  `parquet:"side"`
	Quantity  int64   `parquet:"quantity"`
	Price     float64 `parquet:"price"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// ExportFills writes fills to the day's audit file at:
//
//	<DataDir>/audit/fills/<YYYY-MM-DD>.parquet
//
// Re-exporting the same day merges by fill id, so running the export twice
// produces the same file.
func (e *AuditExporter) ExportFills(day time.Time, fills []domain.Fill) (string, error) {
	if len(fills) == 0 {
		return "", nil
	}

	records := make([]FillRecord, 0, len(fills))
	for _, f := range fills {
		records = append(records, FillRecord{
			ID:        f.ID,
			OrderID:   f.OrderID,
			Symbol:    f.Symbol,
			Side:      string(f.Side),
			Quantity:  f.Quantity,
			Price:     f.Price,
			Timestamp: f.Timestamp.UnixMilli(),
		})
	}

	path := e.fillPath(day)
	existing, _ := readParquetFile[FillRecord](path)
	merged := mergeFillRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return "", fmt.Errorf("exporting fills for %s: %w", day.Format("2006-01-02"), err)
	}
	return path, nil
}

// ReadFills reads a day's audit file back, for verification and reporting.
func (e *AuditExporter) ReadFills(day time.Time) ([]domain.Fill, error) {
	records, err := readParquetFile[FillRecord](e.fillPath(day))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(records))
	for _, r := range records {
		fills = append(fills, domain.Fill{
			ID:        r.ID,
			OrderID:   r.OrderID,
			Symbol:    r.Symbol,
			Side:      domain.Side(r.Side),
			Quantity:  r.Quantity,
			Price:     r.Price,
			Timestamp: time.UnixMilli(r.Timestamp),
		})
	}
	return fills, nil
}

// fillPath returns the audit file path for a day.
// Layout: <dataDir>/audit/fills/<YYYY-MM-DD>.parquet
func (e *AuditExporter) fillPath(day time.Time) string {
	return filepath.Join(e.DataDir, "audit", "fills", day.Format("2006-01-02")+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeFillRecords deduplicates records by fill id, preferring incoming
// over existing. Results are sorted by timestamp then id.
func mergeFillRecords(existing, incoming []FillRecord) []FillRecord {
	seen := make(map[string]FillRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]FillRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
