// Package export mirrors the analysis log to a CSV file.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bloodreport/internal/model"
)

// TimeLayout is how Analyzed At is written.
const TimeLayout = "2006-01-02 15:04:05"

// Header is the first row of every export.
var Header = []string{"Analysis ID", "File ID", "Filename", "Query", "Output", "Status", "Analyzed At"}

// Source yields every record in insertion order.
type Source interface {
	All(ctx context.Context) ([]model.AnalysisRecord, error)
}

// CSVExporter rewrites the whole CSV on each Export.
type CSVExporter struct {
	mu   sync.Mutex
	src  Source
	path string
	loc  *time.Location
}

// NewCSVExporter creates an exporter writing to path. A nil loc means UTC.
func NewCSVExporter(src Source, path string, loc *time.Location) *CSVExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVExporter{src: src, path: path, loc: loc}
}

// Path is the CSV file location.
func (e *CSVExporter) Path() string {
	return e.path
}

// Export replaces the CSV with the current contents of the store. Readers never observe a
// partially written file.
func (e *CSVExporter) Export(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs, err := e.src.All(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(e.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := e.write(tmp, recs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

func (e *CSVExporter) write(f *os.File, recs []model.AnalysisRecord) error {
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range recs {
		if err := w.Write(Row(r, e.loc)); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// Row flattens a record in Header order.
func Row(r model.AnalysisRecord, loc *time.Location) []string {
	return []string{
		r.ID,
		r.FileID,
		r.Filename,
		r.Query,
		r.Output,
		r.Status,
		r.AnalyzedAt.In(loc).Format(TimeLayout),
	}
}
