package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"papertrade/internal/domain"
)

// ParquetStore archives fills and audit entries as Parquet files on disk,
// one file per UTC day:
//
//	<DataDir>/papertrade/fills/<YYYY-MM-DD>.parquet
//	<DataDir>/papertrade/audit/<YYYY-MM-DD>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// FillRecord is the Parquet schema for an execution.
type FillRecord struct {
	ID          string  `parquet:"id"`
	OrderID     string  `parquet:"order_id"`
	TradeID     string  `parquet:"trade_id"`
	AccountID   string  `parquet:"account_id"`
	Symbol      string  `parquet:"symbol"`
	Side        string  `parquet:"side"`
	Qty         int64   `parquet:"quantity"`
	Price       float64 `parquet:"price"`
	Slippage    float64 `parquet:"slippage"`
	SlippageBps int32   `parquet:"slippage_bps"`
	Fee         float64 `parquet:"fee"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// AuditRecord is the Parquet schema for a decision-log entry. Values are
// kept as a JSON object string.
type AuditRecord struct {
	ID        string  `parquet:"id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Action    string  `parquet:"action"`
	AccountID string  `parquet:"account_id"`
	OrderID   string  `parquet:"order_id"`
	TradeID   string  `parquet:"trade_id"`
	Symbol    string  `parquet:"symbol"`
	Side      string  `parquet:"side"`
	Qty       int64   `parquet:"quantity"`
	Price     float64 `parquet:"price"`
	Reason    string  `parquet:"reason"`
	Values    string  `parquet:"values"`
}

func fillRecord(f domain.Fill) FillRecord {
	return FillRecord{
		ID:          f.ID,
		OrderID:     f.OrderID,
		TradeID:     f.TradeID,
		AccountID:   f.AccountID,
		Symbol:      f.Symbol,
		Side:        string(f.Side),
		Qty:         f.Qty,
		Price:       f.Price,
		Slippage:    f.Slippage,
		SlippageBps: int32(f.SlippageBps),
		Fee:         f.Fee,
		Timestamp:   f.Timestamp.UnixMilli(),
	}
}

func (r FillRecord) fill() domain.Fill {
	return domain.Fill{
		ID:          r.ID,
		OrderID:     r.OrderID,
		TradeID:     r.TradeID,
		AccountID:   r.AccountID,
		Symbol:      r.Symbol,
		Side:        domain.OrderSide(r.Side),
		Qty:         r.Qty,
		Price:       r.Price,
		Slippage:    r.Slippage,
		SlippageBps: int(r.SlippageBps),
		Fee:         r.Fee,
		Timestamp:   time.UnixMilli(r.Timestamp).UTC(),
	}
}

func auditRecord(e domain.AuditEntry) (AuditRecord, error) {
	vals := "{}"
	if len(e.Values) > 0 {
		b, err := json.Marshal(e.Values)
		if err != nil {
			return AuditRecord{}, err
		}
		vals = string(b)
	}
	return AuditRecord{
		ID:        e.ID,
		Timestamp: e.Time.UnixMilli(),
		Action:    e.Action,
		AccountID: e.AccountID,
		OrderID:   e.OrderID,
		TradeID:   e.TradeID,
		Symbol:    e.Symbol,
		Side:      string(e.Side),
		Qty:       e.Qty,
		Price:     e.Price,
		Reason:    e.Reason,
		Values:    vals,
	}, nil
}

func (r AuditRecord) entry() (domain.AuditEntry, error) {
	e := domain.AuditEntry{
		ID:        r.ID,
		Time:      time.UnixMilli(r.Timestamp).UTC(),
		Action:    r.Action,
		AccountID: r.AccountID,
		OrderID:   r.OrderID,
		TradeID:   r.TradeID,
		Symbol:    r.Symbol,
		Side:      domain.OrderSide(r.Side),
		Qty:       r.Qty,
		Price:     r.Price,
		Reason:    r.Reason,
	}
	if r.Values != "" && r.Values != "{}" {
		if err := json.Unmarshal([]byte(r.Values), &e.Values); err != nil {
			return e, err
		}
	}
	return e, nil
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

// WriteFills merges fills into the per-day files, replacing records with the
// same ID. It returns the number of files written.
func (s *ParquetStore) WriteFills(_ context.Context, fills []domain.Fill) (int, error) {
	groups := make(map[string][]FillRecord)
	for _, f := range fills {
		day := f.Timestamp.UTC().Format(dayLayout)
		groups[day] = append(groups[day], fillRecord(f))
	}

	for day, records := range groups {
		path := s.path("fills", day)
		existing, _ := readParquetFile[FillRecord](path)
		merged := mergeByID(existing, records,
			func(r FillRecord) string { return r.ID },
			func(r FillRecord) int64 { return r.Timestamp })
		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing fills for %s: %w", day, err)
		}
	}
	return len(groups), nil
}

// ReadFills returns archived fills in [start, end].
func (s *ParquetStore) ReadFills(_ context.Context, start, end time.Time) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, day := range days(start, end) {
		records, err := readParquetFile[FillRecord](s.path("fills", day))
		if err != nil {
			// No file for this day.
			continue
		}
		for _, r := range records {
			f := r.fill()
			if !f.Timestamp.Before(start) && !f.Timestamp.After(end) {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// WriteAudit merges audit entries into the per-day files. It returns the
// number of files written.
func (s *ParquetStore) WriteAudit(_ context.Context, entries []domain.AuditEntry) (int, error) {
	groups := make(map[string][]AuditRecord)
	for _, e := range entries {
		r, err := auditRecord(e)
		if err != nil {
			return 0, fmt.Errorf("encoding audit entry %s: %w", e.ID, err)
		}
		day := e.Time.UTC().Format(dayLayout)
		groups[day] = append(groups[day], r)
	}

	for day, records := range groups {
		path := s.path("audit", day)
		existing, _ := readParquetFile[AuditRecord](path)
		merged := mergeByID(existing, records,
			func(r AuditRecord) string { return r.ID },
			func(r AuditRecord) int64 { return r.Timestamp })
		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing audit for %s: %w", day, err)
		}
	}
	return len(groups), nil
}

// ReadAudit returns archived audit entries in [start, end].
func (s *ParquetStore) ReadAudit(_ context.Context, start, end time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, day := range days(start, end) {
		records, err := readParquetFile[AuditRecord](s.path("audit", day))
		if err != nil {
			continue
		}
		for _, r := range records {
			e, err := r.entry()
			if err != nil {
				return nil, fmt.Errorf("decoding audit entry %s: %w", r.ID, err)
			}
			if !e.Time.Before(start) && !e.Time.After(end) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

const dayLayout = "2006-01-02"

// path returns the filesystem path for one day of a dataset.
// Layout: <dataDir>/papertrade/<kind>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) path(kind, day string) string {
	return filepath.Join(s.DataDir, "papertrade", kind, day+".parquet")
}

// days lists the UTC dates touched by [start, end].
func days(start, end time.Time) []string {
	var out []string
	d := time.Date(start.UTC().Year(), start.UTC().Month(), start.UTC().Day(), 0, 0, 0, 0, time.UTC)
	for !d.After(end.UTC()) {
		out = append(out, d.Format(dayLayout))
		d = d.AddDate(0, 0, 1)
	}
	return out
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeByID deduplicates records by ID, preferring incoming records over
// existing ones, and sorts the result by timestamp.
func mergeByID[T any](existing, incoming []T, id func(T) string, ts func(T) int64) []T {
	seen := make(map[string]T, len(existing)+len(incoming))
	for _, r := range existing {
		seen[id(r)] = r
	}
	for _, r := range incoming {
		seen[id(r)] = r
	}

	merged := make([]T, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if ts(merged[i]) != ts(merged[j]) {
			return ts(merged[i]) < ts(merged[j])
		}
		return id(merged[i]) < id(merged[j])
	})
	return merged
}
